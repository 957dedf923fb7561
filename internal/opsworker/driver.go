package opsworker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Run sequences offset-probe recovery, data replay, ops-offset seeking, and
// the steady-state poll loop for every partition this Worker was constructed
// with (spec.md §4.E, doRun). It blocks until ctx is canceled or a terminal
// error occurs; callers observe the outcome via Steady() rather than Run's
// return value for the "did we ever catch up" question, but Run's return
// value is the authoritative error for logging/process exit purposes.
func (w *Worker) Run(ctx context.Context) error {
	opsOffsets, err := w.loadData(ctx)
	if err != nil {
		if isCancellation(err) {
			return nil
		}
		w.markSteadyFailed(&WorkerError{Err: err})
		return err
	}

	w.seekOpsOffsets(opsOffsets)

	err = w.processOps(ctx)
	if err != nil && !isCancellation(err) {
		w.markSteadyFailed(&WorkerError{Err: err})
		return err
	}
	return nil
}

// loadData runs the offset probe and data loader for every assigned
// partition, returning the ops offset each partition's steady-state
// consumption should resume from (spec.md §4.E step 1; §3, invariant 1: the
// resume offset is always flushOffsetOps+1, or 0 when there was no prior
// flush). The data client is closed on every exit path, success or failure,
// since it is not needed once recovery completes (spec.md §4.B, §5).
func (w *Worker) loadData(ctx context.Context) (map[int32]int64, error) {
	defer w.dataClient.Close()

	opsOffsets := make(map[int32]int64, len(w.cfg.AssignedParts))
	for _, p := range w.cfg.AssignedParts {
		start := time.Now()

		outcome, err := w.findLastFlushRecord(ctx, p)
		if err != nil {
			return nil, err
		}

		if !outcome.found {
			opsOffsets[p] = 0
			w.metrics.ObserveRecoveryDuration(p, time.Since(start).Seconds())
			continue
		}

		if err := w.loadDataForPartition(ctx, p, true, outcome.rec.FlushOffsetData); err != nil {
			return nil, err
		}
		w.lastFlushNotifications[p] = outcome.rec
		opsOffsets[p] = outcome.rec.FlushOffsetOps + 1
		w.metrics.ObserveRecoveryDuration(p, time.Since(start).Seconds())
	}
	return opsOffsets, nil
}

// seekOpsOffsets assigns the ops client to every partition this worker owns
// and seeks each to its computed recovery offset (spec.md §4.E step 2).
func (w *Worker) seekOpsOffsets(opsOffsets map[int32]int64) {
	w.opsClient.Assign(w.cfg.AssignedParts)
	for p, off := range opsOffsets {
		if off == 0 {
			w.opsClient.SeekToBeginning(p)
			continue
		}
		w.opsClient.Seek(p, off)
	}
}

// processOps is the steady-state poll loop: each batch is routed through
// the applier per partition, and after each batch this checks the steady
// detector until the Steady latch fires once (spec.md §4.E step 3).
// The poll timeout starts short (PollBootstrapTimeout) to close the gap to
// the tail quickly, then widens (PollSteadyTimeout) once steady to reduce
// idle CPU (spec.md §4.D).
func (w *Worker) processOps(ctx context.Context) error {
	for {
		timeout := w.cfg.PollBootstrapTimeout
		if steadyState(w.loadSteadyState()) != steadyPending {
			timeout = w.cfg.PollSteadyTimeout
		}

		pollCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		batches, err := w.opsClient.Poll(pollCtx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			// A DeadlineExceeded here is our own bounded-wait timeout, not
			// cancellation or a log client error: treat it as an empty poll
			// and re-check steady. Anything else (including true
			// cancellation, which the caller distinguishes via
			// isCancellation) unwinds the loop.
			return err
		}

		for p, recs := range batches {
			if len(recs) == 0 {
				continue
			}
			if err := w.applyOpsTopicRecords(p, recs); err != nil {
				return err
			}
		}

		if steadyState(w.loadSteadyState()) == steadyPending {
			ok, err := w.isActuallySteady(ctx)
			if err != nil {
				return err
			}
			if ok {
				w.markSteadyOK()
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Worker) loadSteadyState() int32 {
	return atomic.LoadInt32(&w.steadyState)
}
