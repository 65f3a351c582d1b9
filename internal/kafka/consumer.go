package kafka

import (
	"context"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *slog.Logger

	offsets   *offsetTracker
	commitMu  sync.Mutex
	committed map[partition]int64
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:         r,
		workers:   workers,
		log:       log,
		offsets:   newOffsetTracker(),
		committed: map[partition]int64{},
	}
}

// Start fetches messages and fans them out to the worker pool until ctx ends.
// Offsets are committed in fetch order per partition. A failed message is
// logged and holds its partition's offset, so it is redelivered after the
// consumer restarts or the group rebalances.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				err := h(ctx, m)
				if err != nil {
					c.log.Error("handle message", "topic", m.Topic, "partition", m.Partition,
						"offset", m.Offset, "err", err)
				}
				if next, ok := c.offsets.resolve(m, err == nil); ok {
					c.commit(ctx, next)
				}
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.offsets.fetched(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// commit never moves a partition's committed offset backwards; workers may
// race to commit candidates resolved in order.
func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	p := partitionOf(m)
	if last, ok := c.committed[p]; ok && m.Offset <= last {
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Error("commit offset", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
		return
	}
	c.committed[p] = m.Offset
}
