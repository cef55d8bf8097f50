package consumer

import (
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ackTracker orders deferred acknowledgements per partition. Records for one
// partition are tracked in offset order, but their terminal acks can arrive
// in any order once the join stage holds them; the group offset may only
// advance over a contiguous acknowledged prefix, or a crash would skip the
// still-buffered records below it.
type ackTracker struct {
	mu    sync.Mutex
	parts map[topicPartition]*partitionAcks
}

type topicPartition struct {
	topic     string
	partition int32
}

type partitionAcks struct {
	pending []*kgo.Record
	acked   map[int64]bool
}

func newAckTracker() *ackTracker {
	return &ackTracker{parts: make(map[topicPartition]*partitionAcks)}
}

// track registers a record awaiting a deferred acknowledgement.
func (t *ackTracker) track(r *kgo.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tp := topicPartition{topic: r.Topic, partition: r.Partition}
	p := t.parts[tp]
	if p == nil {
		p = &partitionAcks{acked: make(map[int64]bool)}
		t.parts[tp] = p
	}
	p.pending = append(p.pending, r)
}

// ack marks a record terminal and returns the newest record of the now
// contiguous acknowledged prefix, or nil when the prefix did not advance.
func (t *ackTracker) ack(r *kgo.Record) *kgo.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.parts[topicPartition{topic: r.Topic, partition: r.Partition}]
	if p == nil {
		return nil
	}
	p.acked[r.Offset] = true

	var newest *kgo.Record
	for len(p.pending) > 0 && p.acked[p.pending[0].Offset] {
		newest = p.pending[0]
		delete(p.acked, newest.Offset)
		p.pending = p.pending[1:]
	}
	return newest
}

// pendingCount reports how many records still await acknowledgement.
func (t *ackTracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.parts {
		n += len(p.pending)
	}
	return n
}
