package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/segmentio/kafka-go"
)

var ErrProducerClosed = errors.New("producer closed")

// Producer buffers envelopes in an inbox and writes them asynchronously.
// The writer has no fixed topic; each message names its own.
type Producer struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	log      *slog.Logger
}

// ResultFunc is told about every message the writer finished with.
type ResultFunc func(topic string, err error)

func NewProducer(brokers []string, buf int, log *slog.Logger, onResult ResultFunc) *Producer {
	p := &Producer{
		inbox: make(chan kafka.Message, buf),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.Error("kafka write failed", "messages", len(msgs), "err", err)
			}
			if onResult != nil {
				for _, m := range msgs {
					onResult(m.Topic, err)
				}
			}
		},
	}
	return p
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-ctx.Done():
				p.drain()
				return
			case <-p.quit:
				p.drain()
				return
			}
		}
	}()
}

// drain flushes what is already buffered, then closes the writer.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Error("kafka writer close", "err", err)
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka enqueue failed", "topic", m.Topic, "err", err)
	}
}

// Publish queues env on topic. It blocks while the inbox is full.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, env products.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("publish %s: marshal: %w", env.EventType, err)
	}
	m := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: b,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}
	select {
	case <-p.quit:
		return fmt.Errorf("publish %s: %w", env.EventType, ErrProducerClosed)
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.quit:
		return fmt.Errorf("publish %s: %w", env.EventType, ErrProducerClosed)
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", env.EventType, ctx.Err())
	}
}

// Close stops accepting messages; the loop flushes the inbox and exits.
func (p *Producer) Close() { p.quitOnce.Do(func() { close(p.quit) }) }

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.done }
