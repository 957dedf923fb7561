package opsworkertest

import (
	"sync"

	"github.com/salewski/replicamap/internal/kmodel"
)

// FlushQueueEntry is one recorded FlushQueue.Add call.
type FlushQueueEntry struct {
	Key, Value   []byte
	OpsOffset    int64
	Updated      bool
	IsFlushPoint bool
}

// FakeFlushQueue records every Add call in order for assertions on ordering
// and flush-point marking (spec.md §4.C, invariant 6).
type FakeFlushQueue struct {
	mu      sync.Mutex
	Entries []FlushQueueEntry
}

// NewFakeFlushQueue returns an empty queue.
func NewFakeFlushQueue() *FakeFlushQueue {
	return &FakeFlushQueue{}
}

func (q *FakeFlushQueue) Add(key, value []byte, opsOffset int64, updated, isFlushPoint bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Entries = append(q.Entries, FlushQueueEntry{key, value, opsOffset, updated, isFlushPoint})
}

// Len returns the number of recorded entries.
func (q *FakeFlushQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Entries)
}

// CleanQueuePush is one recorded CleanQueue.Push call.
type CleanQueuePush struct {
	Partition    int32
	Notification kmodel.OpMessage
}

// FakeCleanQueue records every Push call for assertions.
type FakeCleanQueue struct {
	mu     sync.Mutex
	Pushed []CleanQueuePush
}

// NewFakeCleanQueue returns an empty queue.
func NewFakeCleanQueue() *FakeCleanQueue {
	return &FakeCleanQueue{}
}

func (q *FakeCleanQueue) Push(partition int32, notification kmodel.OpMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Pushed = append(q.Pushed, CleanQueuePush{partition, notification})
}
