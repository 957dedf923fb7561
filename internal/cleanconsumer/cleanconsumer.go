// Package cleanconsumer drains the shared clean queue fed by every Ops
// Worker's applier when it observes a foreign flush notification
// (spec.md §4.C step 6; SPEC_FULL.md §4.H).
package cleanconsumer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/flushqueue"
)

// Observer reports on each notification drained; metrics/logging live
// behind this interface so callers can wire a Prometheus counter without
// cleanconsumer depending on a specific metrics implementation.
type Observer interface {
	ObserveForeignFlush(partition int32, clientID uint64, flushOffsetOps int64)
}

// NopObserver discards every observation.
type NopObserver struct{}

// ObserveForeignFlush implements Observer.
func (NopObserver) ObserveForeignFlush(int32, uint64, int64) {}

// Consumer drains a CleanQueue until canceled. It only logs and reports
// each notification: it does not mutate any FlushQueue or the flush
// worker's compaction buffer, so cleaned entries are not removed from
// either (SPEC_FULL.md §4.H).
type Consumer struct {
	queue    *flushqueue.CleanQueue
	observer Observer
	log      *zap.Logger
}

// New returns a Consumer draining queue. observer may be nil, in which case
// notifications are silently discarded after logging.
func New(queue *flushqueue.CleanQueue, observer Observer, log *zap.Logger) *Consumer {
	if observer == nil {
		observer = NopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{queue: queue, observer: observer, log: log}
}

// Run drains queue until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		n, err := c.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.log.Debug("observed foreign flush notification",
			zap.Int32("partition", n.Partition),
			zap.Uint64("client_id", n.Notification.ClientID),
			zap.Int64("flush_offset_ops", n.Notification.FlushOffsetOps),
		)
		c.observer.ObserveForeignFlush(n.Partition, n.Notification.ClientID, n.Notification.FlushOffsetOps)
	}
}
