// Package flushqueue implements the bounded, ordered per-partition buffer
// the Ops Worker's applier feeds and the flush worker drains (spec.md §4.C
// invariant 6, §4.G), plus the shared multi-producer/single-consumer clean
// queue fed by foreign flush notifications (spec.md §4.C step 6, §4.H).
package flushqueue

import (
	"context"

	"github.com/salewski/replicamap/internal/kmodel"
)

// Entry is one record handed from the applier to the flush worker, in the
// exact order the applier observed it on the ops topic.
type Entry struct {
	Key, Value   []byte
	OpsOffset    int64
	Updated      bool
	IsFlushPoint bool
}

// Queue is a single-partition, single-producer/single-consumer ordered
// buffer. A channel gives Add its required non-blocking-on-the-applier
// behavior up to Capacity entries; beyond that Add blocks, applying
// backpressure to the applier rather than dropping or reordering entries
// (never acceptable per invariant 6).
type Queue struct {
	ch chan Entry
}

// New returns a Queue with room for capacity unconsumed entries.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan Entry, capacity)}
}

// Add implements opsworker.FlushQueue. It blocks if the queue is full,
// which is the desired backpressure behavior: the applier must never drop
// or reorder entries (spec.md §3 invariant 6).
func (q *Queue) Add(key, value []byte, opsOffset int64, updated, isFlushPoint bool) {
	q.ch <- Entry{Key: key, Value: value, OpsOffset: opsOffset, Updated: updated, IsFlushPoint: isFlushPoint}
}

// Next blocks until an entry is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (Entry, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// CleanNotification is one record pushed to the shared clean queue: the
// partition it arrived on, plus the flush notification itself.
type CleanNotification struct {
	Partition    int32
	Notification kmodel.OpMessage
}

// CleanQueue is the shared, multi-producer/single-consumer queue every
// Worker's applier pushes foreign flush notifications to (spec.md §4.C
// step 6). One CleanQueue is shared across every partition a process owns,
// since the clean consumer drains notifications regardless of origin.
type CleanQueue struct {
	ch chan CleanNotification
}

// NewCleanQueue returns a CleanQueue with room for capacity unconsumed
// notifications.
func NewCleanQueue(capacity int) *CleanQueue {
	return &CleanQueue{ch: make(chan CleanNotification, capacity)}
}

// Push implements opsworker.CleanQueue. Like Add, it blocks when full rather
// than drop notifications.
func (q *CleanQueue) Push(partition int32, notification kmodel.OpMessage) {
	q.ch <- CleanNotification{Partition: partition, Notification: notification}
}

// Next blocks until a notification is available or ctx is done.
func (q *CleanQueue) Next(ctx context.Context) (CleanNotification, error) {
	select {
	case n := <-q.ch:
		return n, nil
	case <-ctx.Done():
		return CleanNotification{}, ctx.Err()
	}
}
