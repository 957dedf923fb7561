package opsworker

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/logbus"
)

// applyOpsTopicRecords processes a consecutive, same-partition slice of ops
// records in order, applying them to the local map, updating flush-notification
// bookkeeping, enqueueing every record to the flush queue exactly once, and
// emitting FLUSH_REQUEST/clean-queue side effects as needed (spec.md §4.C).
func (w *Worker) applyOpsTopicRecords(partition int32, recs []kmodel.Record) error {
	lastIndex := len(recs) - 1
	queue := w.queues[partition]

	for i, r := range recs {
		m, err := logbus.DecodeOp(r.Value)
		if err != nil {
			return fmt.Errorf("opsworker: decode ops record at partition %d offset %d: %w", partition, r.Offset, err)
		}

		needFlush := r.Offset > 0 && r.Offset%w.cfg.FlushPeriodOps == 0 && m.ClientID == w.cfg.ClientID

		var (
			needClean bool
			out       UpdateResult
			updated   bool
		)

		if r.Key == nil {
			switch m.OpType {
			case kmodel.OpFlushNotification:
				needClean = w.recordFlushNotification(partition, m)
			default:
				w.log.Warn("ops record: unrecognized control op type; skipping",
					zap.Int32("partition", partition),
					zap.Int64("offset", r.Offset),
					zap.Uint8("op_type", uint8(m.OpType)),
				)
			}
			// updatedValue is absent for null-key records (spec.md §4.C step 2).
		} else {
			updated, err = w.handler.ApplyReceivedUpdate(m.ClientID, m.OpID, m.OpType, r.Key, m.ExpectedValue, m.UpdatedValue, m.Function, &out)
			if err != nil {
				return fmt.Errorf("opsworker: update handler: %w", err)
			}
			w.metrics.IncRecordsApplied(partition, m.OpType)
		}

		isFlushPoint := needClean || needFlush || i == lastIndex
		if queue != nil {
			var value []byte
			if !out.Tombstone {
				value = out.Value
			}
			queue.Add(r.Key, value, r.Offset, updated, isFlushPoint)
		}

		switch {
		case needFlush:
			w.emitFlushRequest(partition, r.Offset)
		case needClean && w.cleanQueue != nil:
			w.cleanQueue.Push(partition, m)
		}
	}
	return nil
}

// recordFlushNotification installs m as the latest known flush notification
// for partition if it strictly advances flushOffsetOps (spec.md §3,
// invariant 3; §4.C step 2; §7, StaleFlushNotification). Returns true iff
// the notification came from a different client than self, meaning it needs
// to be forwarded to the clean queue.
func (w *Worker) recordFlushNotification(partition int32, m kmodel.OpMessage) bool {
	prev, ok := w.lastFlushNotifications[partition]
	if ok && prev.FlushOffsetOps >= m.FlushOffsetOps {
		return false // stale; silently dropped
	}
	w.lastFlushNotifications[partition] = m
	foreign := m.ClientID != w.cfg.ClientID
	if foreign {
		w.metrics.IncForeignFlushesSeen(partition)
	}
	return foreign
}

// emitFlushRequest sends a FLUSH_REQUEST to the flush topic naming the
// triggering ops offset and the last clean offset this worker knows of
// (spec.md §4.C step 5; §3, invariant 5).
func (w *Worker) emitFlushRequest(partition int32, opsOffset int64) {
	lastCleanOffsetOps := int64(-1)
	if prev, ok := w.lastFlushNotifications[partition]; ok {
		lastCleanOffsetOps = prev.FlushOffsetOps
	}
	req := kmodel.OpMessage{
		OpType:          kmodel.OpFlushRequest,
		ClientID:        w.cfg.ClientID,
		FlushOffsetOps:  opsOffset,
		FlushOffsetData: lastCleanOffsetOps,
	}
	w.producer.Send(partition, nil, logbus.EncodeOp(req))
	w.metrics.IncFlushRequestsSent(partition)
}
