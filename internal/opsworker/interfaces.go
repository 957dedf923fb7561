package opsworker

import (
	"context"

	"github.com/salewski/replicamap/internal/kmodel"
)

// LogClient is the abstract partitioned-log consumer this package depends
// on (spec.md §6). A single LogClient instance is assigned to one topic at a
// time; the Worker keeps one for the data topic and one for the ops topic,
// closing the data one as soon as recovery finishes.
type LogClient interface {
	// Assign replaces the full set of partitions this client consumes.
	Assign(partitions []int32)
	// Seek repositions the given partition to an absolute offset.
	Seek(partition int32, offset int64)
	// SeekToBeginning repositions the given partition to its earliest offset.
	SeekToBeginning(partition int32)
	// Poll blocks until records are available, ctx is canceled, or the
	// client is woken up, returning the records grouped by partition. An
	// empty, nil-error result is legal and means "no records before the
	// poll's internal timeout."
	Poll(ctx context.Context) (map[int32][]kmodel.Record, error)
	// Position returns this client's next-read offset for partition, i.e.
	// the offset one past the last record handed to a caller.
	Position(partition int32) int64
	// EndOffsets returns, for each requested partition, one past the
	// highest committed offset. May transiently under-report relative to
	// what is truly committed (spec.md §4.A, §9).
	EndOffsets(ctx context.Context, partitions []int32) (map[int32]int64, error)
	// Wakeup cancels an in-progress Poll, which then returns ErrWakeup or an
	// error wrapping context.Canceled.
	Wakeup()
	// Close releases the client's resources. Safe to call once per client.
	Close()
}

// Producer is the fire-and-forget send primitive used to emit
// FLUSH_REQUEST records (spec.md §6, §5). The core never waits on
// acknowledgement; buffering and backpressure are the producer's concern.
type Producer interface {
	Send(partition int32, key, value []byte)
}

// OpsUpdateHandler mutates the local map for a keyed ops record and reports
// whether the state actually changed, writing the post-apply value (or a nil
// tombstone) into out. Implementations must not block indefinitely; the
// applier calls this synchronously per record (spec.md §6).
type OpsUpdateHandler interface {
	ApplyReceivedUpdate(
		clientID, opID uint64,
		opType kmodel.OpType,
		key, expectedValue, updatedValue, function []byte,
		out *UpdateResult,
	) (updated bool, err error)
}

// UpdateResult carries the post-apply value back from an OpsUpdateHandler
// call. A nil Value with Tombstone set to true represents a deletion.
type UpdateResult struct {
	Value     []byte
	Tombstone bool
}

// FlushQueue is the per-partition ordered buffer shared with the flush
// worker. Add must accept entries in the order given and never reorder or
// drop them (spec.md §4.C, invariant 6).
type FlushQueue interface {
	Add(key, value []byte, opsOffset int64, updated, isFlushPoint bool)
}

// CleanQueue receives flush notifications that originated from a different
// client than the one observing them, for forwarding to a clean/compaction
// consumer (spec.md §4.C step 6).
type CleanQueue interface {
	Push(partition int32, notification kmodel.OpMessage)
}

// Metrics receives the Worker's own observability signal, independent of
// the Kafka client-level metrics franz-go's kprom plugin already covers. A
// Worker with no Metrics set uses a no-op implementation, so wiring one in
// is optional.
type Metrics interface {
	ObserveSteadyLag(partition int32, lag int64)
	IncRecordsApplied(partition int32, opType kmodel.OpType)
	IncFlushRequestsSent(partition int32)
	IncForeignFlushesSeen(partition int32)
	ObserveRecoveryDuration(partition int32, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSteadyLag(int32, int64)          {}
func (nopMetrics) IncRecordsApplied(int32, kmodel.OpType) {}
func (nopMetrics) IncFlushRequestsSent(int32)             {}
func (nopMetrics) IncForeignFlushesSeen(int32)            {}
func (nopMetrics) ObserveRecoveryDuration(int32, float64) {}
