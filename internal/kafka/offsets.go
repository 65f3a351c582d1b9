package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partition struct {
	topic string
	id    int
}

func partitionOf(m kafka.Message) partition { return partition{topic: m.Topic, id: m.Partition} }

type pendingOffset struct {
	msg  kafka.Message
	done bool
}

type partitionState struct {
	queue  []pendingOffset // fetch order
	held   bool
	heldAt int64
}

// offsetTracker decides what may be committed when workers finish out of
// order. A group commit of offset N acknowledges everything before N, so a
// message is only committable once every message fetched before it on the
// same partition succeeded. A failure holds the partition: nothing at or
// after the failed offset is committed until the failed offset is fetched
// again, which happens once the group rebalances or the consumer restarts.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partition]*partitionState
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: map[partition]*partitionState{}}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.parts[partitionOf(m)]
	if !ok {
		st = &partitionState{}
		t.parts[partitionOf(m)] = st
	}
	if st.held && m.Offset <= st.heldAt {
		st.queue, st.held = nil, false
	}
	if !st.held {
		st.queue = append(st.queue, pendingOffset{msg: m})
	}
}

// resolve records the outcome for m and returns the newest message that can
// now be committed, if any.
func (t *offsetTracker) resolve(m kafka.Message, ok bool) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.parts[partitionOf(m)]
	if st == nil {
		return kafka.Message{}, false
	}
	for i := range st.queue {
		if st.queue[i].msg.Offset != m.Offset {
			continue
		}
		if ok {
			st.queue[i].done = true
		} else {
			st.queue = st.queue[:i]
			st.held, st.heldAt = true, m.Offset
		}
		break
	}

	n := 0
	for n < len(st.queue) && st.queue[n].done {
		n++
	}
	if n == 0 {
		return kafka.Message{}, false
	}
	last := st.queue[n-1].msg
	st.queue = st.queue[n:]
	return last, true
}
