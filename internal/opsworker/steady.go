package opsworker

import "context"

// isActuallySteady implements the two-shot confirmation of spec.md §4.D. It
// mutates w.endOffsetsOps and w.maxAllowedSteadyLag as a side effect, which
// is safe because both are owned exclusively by the driver goroutine.
//
// The first pass must close the lag against a tail snapshot taken strictly
// after the check begins (freshlyFetched), guaranteeing that every op
// produced before the caller started this worker has been applied by the
// time Steady first resolves. Only after that bar is cleared once does
// maxAllowedSteadyLag widen to FlushPeriodOps, allowing small transient lag
// on later (re-)checks.
func (w *Worker) isActuallySteady(ctx context.Context) (bool, error) {
	for {
		freshlyFetched := false
		if w.endOffsetsOps == nil {
			ends, err := w.opsClient.EndOffsets(ctx, w.cfg.AssignedParts)
			if err != nil {
				return false, err
			}
			w.endOffsetsOps = ends
			freshlyFetched = true
		}

		var totalLag int64
		for _, p := range w.cfg.AssignedParts {
			lag := w.endOffsetsOps[p] - w.opsClient.Position(p)
			w.metrics.ObserveSteadyLag(p, lag)
			totalLag += lag
		}

		if totalLag <= w.maxAllowedSteadyLag {
			w.endOffsetsOps = nil // force a refresh on the next call
			if freshlyFetched {
				return true, nil
			}
			w.maxAllowedSteadyLag = w.cfg.FlushPeriodOps
			continue // re-fetch and check once more before declaring steady
		}
		return false, nil
	}
}
