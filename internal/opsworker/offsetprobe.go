package opsworker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/logbus"
)

// probeOutcome distinguishes "no flush notification exists at all" from
// "found one, here it is" without resorting to a nil-pointer sentinel that
// would be easy to mishandle at call sites.
type probeOutcome struct {
	found bool
	rec   kmodel.OpMessage
}

// tryResult is tryFindLastFlushRecord's three-way result: a notification,
// "keep searching further back" (notFound), or "we have searched from
// offset 0 and there is nothing" (notExist).
type tryResult int

const (
	tryNotFound tryResult = iota
	tryNotExist
	tryFound
)

// findLastFlushRecord resolves the most recent FLUSH_NOTIFICATION on
// opsPartition whose referenced flushOffsetData is actually present on
// dataPartition, tolerating an ops end offset that transiently under-reports
// committed data (spec.md §4.A, §9).
func (w *Worker) findLastFlushRecord(ctx context.Context, partition int32) (probeOutcome, error) {
	max, err := w.endOffset(ctx, w.opsClient, partition)
	if err != nil {
		return probeOutcome{}, fmt.Errorf("opsworker: end offset for ops partition %d: %w", partition, err)
	}

	for {
		result, rec, err := w.tryFindLastFlushRecord(ctx, partition, max)
		if err != nil {
			return probeOutcome{}, err
		}
		switch result {
		case tryNotExist:
			return probeOutcome{found: false}, nil
		case tryFound:
			// Read the data partition's end offset fresh on each loop
			// iteration: it may have advanced (or an earlier read may have
			// been stale) since the previous candidate was checked.
			ends, err := w.dataClient.EndOffsets(ctx, []int32{partition})
			if err != nil {
				return probeOutcome{}, fmt.Errorf("opsworker: end offsets for data partition %d: %w", partition, err)
			}
			dataEnd := ends[partition]
			if dataEnd > rec.FlushOffsetData {
				return probeOutcome{found: true, rec: rec}, nil
			}
			w.log.Warn("flush notification references data offset beyond the data partition's reported end; retrying further back",
				zap.Int32("partition", partition),
				zap.Int64("flush_offset_data", rec.FlushOffsetData),
				zap.Int64("data_end_offset", dataEnd),
			)
		}
		max -= w.cfg.FlushPeriodOps
	}
}

// tryFindLastFlushRecord seeks to max(max-flushPeriodOps, 0) on opsPartition
// and scans forward in offset order for the first FLUSH_NOTIFICATION at or
// before max (spec.md §4.A). The window is exactly one flushPeriodOps wide,
// which is sufficient because flush notifications recur at that cadence.
func (w *Worker) tryFindLastFlushRecord(ctx context.Context, partition int32, max int64) (tryResult, kmodel.OpMessage, error) {
	off := max - w.cfg.FlushPeriodOps
	if off < 0 {
		off = 0
	}

	w.opsClient.Assign([]int32{partition})
	w.opsClient.Seek(partition, off)

	for {
		batches, err := w.opsClient.Poll(ctx)
		if err != nil {
			return tryNotFound, kmodel.OpMessage{}, err
		}
		recs := batches[partition]
		if len(recs) == 0 {
			if off == 0 {
				return tryNotExist, kmodel.OpMessage{}, nil
			}
			return tryNotFound, kmodel.OpMessage{}, nil
		}
		for _, r := range recs {
			if r.Offset > max {
				if off == 0 {
					return tryNotExist, kmodel.OpMessage{}, nil
				}
				return tryNotFound, kmodel.OpMessage{}, nil
			}
			if r.Key != nil {
				continue
			}
			m, err := logbus.DecodeOp(r.Value)
			if err != nil {
				return tryNotFound, kmodel.OpMessage{}, fmt.Errorf("opsworker: decode ops record at offset %d: %w", r.Offset, err)
			}
			if m.OpType == kmodel.OpFlushNotification {
				return tryFound, m, nil
			}
		}
	}
}

// endOffset is a convenience wrapper for the single-partition EndOffsets
// call the probe's outer loop needs against the ops partition.
func (w *Worker) endOffset(ctx context.Context, client LogClient, partition int32) (int64, error) {
	ends, err := client.EndOffsets(ctx, []int32{partition})
	if err != nil {
		return 0, err
	}
	return ends[partition], nil
}
