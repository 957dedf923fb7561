package opsworker

import (
	"context"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/kmodel"
)

// loadDataForPartition assigns the data client exclusively to dataPartition,
// seeks to the beginning, and replays records into the local map up to and
// including flushOffsetData (spec.md §4.B). A nil Value is treated as
// REMOVE_ANY; anything else is a PUT. loadDataForPartition returns once a
// record at exactly flushOffsetData has been applied, or once the consumer
// reaches end-of-partition — whichever comes first.
//
// hasFlush distinguishes "replay up to flushOffsetData" (true) from "there is
// no prior flush; the map starts empty at ops offset 0" (false), in which
// case this function does nothing but is still safe to call.
func (w *Worker) loadDataForPartition(ctx context.Context, partition int32, hasFlush bool, flushOffsetData int64) error {
	if !hasFlush {
		return nil
	}

	w.dataClient.Assign([]int32{partition})
	w.dataClient.SeekToBeginning(partition)

	for {
		batches, err := w.dataClient.Poll(ctx)
		if err != nil {
			return err
		}
		recs := batches[partition]

		if len(recs) == 0 {
			ends, err := w.dataClient.EndOffsets(ctx, []int32{partition})
			if err != nil {
				return err
			}
			if ends[partition] <= flushOffsetData {
				return &ErrRecoveryCorrupted{
					Partition:       partition,
					FlushOffsetData: flushOffsetData,
					DataEndOffset:   ends[partition],
				}
			}
			// Spuriously empty poll with more data still to come; keep
			// polling rather than treating this as end-of-partition.
			continue
		}

		for _, r := range recs {
			w.applyDataRecord(r)
			if r.Offset == flushOffsetData {
				return nil
			}
		}

		if w.dataClient.Position(partition) > flushOffsetData {
			// We have passed the boundary without seeing it land exactly on
			// an offset (should not happen with a well-formed log, but
			// don't spin forever if it does).
			return nil
		}
	}
}

// applyDataRecord applies one compacted data-topic record directly to the
// handler, bypassing the ops-topic bookkeeping in applyOpsTopicRecords
// entirely — data replay never triggers flush requests or clean forwarding.
func (w *Worker) applyDataRecord(r kmodel.Record) {
	var out UpdateResult
	opType := kmodel.OpRemoveAny
	if r.Value != nil {
		opType = kmodel.OpPut
	}
	// Errors from the handler during data replay are not expected: this is
	// a straight PUT/REMOVE_ANY with no conditional semantics, so we log
	// defensively rather than aborting recovery over it.
	if _, err := w.handler.ApplyReceivedUpdate(0, 0, opType, r.Key, nil, r.Value, nil, &out); err != nil {
		w.log.Warn("data replay: handler returned an error applying a compacted record; continuing",
			zap.Int64("offset", r.Offset))
	}
}
