// Package flushworker implements the single-consumer loop that drains a
// partition's FlushQueue and, upon reaching a flush point, writes the
// accumulated compacted state to the data topic followed by a
// FLUSH_NOTIFICATION to the ops topic (SPEC_FULL.md §4.G).
package flushworker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/flushqueue"
	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/logbus"
)

// Producer is the minimal send primitive flushworker needs against both the
// data and ops topics.
type Producer interface {
	Send(partition int32, key, value []byte)
}

// Worker drains one partition's FlushQueue, maintaining a compaction buffer
// of the latest value per key, and flushes it to data+ops on every
// flush-point entry (an own-triggered flush, a forwarded foreign
// notification, or simply the end of the latest applied batch). It
// deliberately does not implement cross-process leader election for who
// flushes a given partition (out of scope, spec.md §1) — any client may
// flush on its own trigger, matching invariant 5 (a flush request is
// honored by the producing client).
type Worker struct {
	partition int32
	clientID  uint64
	queue     *flushqueue.Queue
	dataOut   Producer
	opsOut    Producer
	log       *zap.Logger

	buffer        map[string][]byte
	lastOpsOffset int64
}

// New returns a Worker for partition, reading from queue and writing
// compacted records/notifications via dataOut/opsOut.
func New(partition int32, clientID uint64, queue *flushqueue.Queue, dataOut, opsOut Producer, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		partition: partition,
		clientID:  clientID,
		queue:     queue,
		dataOut:   dataOut,
		opsOut:    opsOut,
		log:       log,
		buffer:    make(map[string][]byte),
	}
}

// Run drains the queue until ctx is canceled, flushing whenever a flush
// point is reached.
func (w *Worker) Run(ctx context.Context) error {
	for {
		entry, err := w.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		w.observe(entry)
	}
}

func (w *Worker) observe(entry flushqueue.Entry) {
	if entry.Key != nil && entry.Updated {
		w.buffer[string(entry.Key)] = entry.Value
	}
	w.lastOpsOffset = entry.OpsOffset

	// The applier marks isFlushPoint on every own-flush-triggering entry as
	// well as the last entry of each batch; flushworker treats either as
	// sufficient cause to flush, since the applier's FLUSH_REQUEST and this
	// entry's flush-point bit are emitted from the same decision (spec.md
	// §4.C step 5).
	if entry.IsFlushPoint {
		w.flush()
	}
}

func (w *Worker) flush() {
	dataOffset := int64(len(w.buffer))
	for key, value := range w.buffer {
		w.dataOut.Send(w.partition, []byte(key), value)
	}

	notif := kmodel.OpMessage{
		OpType:          kmodel.OpFlushNotification,
		ClientID:        w.clientID,
		FlushOffsetOps:  w.lastOpsOffset,
		FlushOffsetData: dataOffset - 1,
	}
	w.opsOut.Send(w.partition, nil, logbus.EncodeOp(notif))

	w.log.Info("flushed partition",
		zap.Int32("partition", w.partition),
		zap.Int64("flush_offset_ops", notif.FlushOffsetOps),
		zap.Int64("flush_offset_data", notif.FlushOffsetData),
		zap.Int("keys", len(w.buffer)),
	)
}
