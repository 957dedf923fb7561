package opsworker

import (
	"context"
	"errors"
	"fmt"
)

// ErrWakeup is an error a LogClient's Poll may return when it was canceled
// via Wakeup rather than by the caller's context. The driver treats this,
// like context.Canceled, as a clean shutdown rather than a failure (spec.md
// §7, Cancelled). The logbus Client does not return it; its woken-up Poll
// returns an error wrapping the canceled poll context's error instead.
var ErrWakeup = errors.New("opsworker: log client woken up")

// ErrRecoveryCorrupted is returned when a data partition's end offset lies
// at or below a flush boundary the offset probe validated against it,
// meaning the log holds less data than the boundary promised. This is fatal
// (spec.md §7, RecoveryCorrupted).
type ErrRecoveryCorrupted struct {
	Partition       int32
	FlushOffsetData int64
	DataEndOffset   int64
}

func (e *ErrRecoveryCorrupted) Error() string {
	return fmt.Sprintf("opsworker: partition %d: data end offset %d <= expected flush boundary %d",
		e.Partition, e.DataEndOffset, e.FlushOffsetData)
}

// WorkerError is what a Worker's Steady future resolves to on any
// non-cancellation failure (spec.md §6, ReplicaMapException). Run does not
// fill in Partition, so it is zero; where the cause records a partition
// (for example ErrRecoveryCorrupted), Err's message names it.
type WorkerError struct {
	Partition int32
	Err       error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("opsworker: partition %d failed: %v", e.Partition, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// isCancellation reports whether err represents cooperative cancellation
// (context cancellation or an explicit log-client wakeup), which must never
// fail the Steady latch (spec.md §5, §7).
func isCancellation(err error) bool {
	return errors.Is(err, ErrWakeup) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
