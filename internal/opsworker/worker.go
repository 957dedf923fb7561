// Package opsworker implements the per-client Ops Worker: the component
// that bootstraps local state from a compacted data log up to the last
// flush boundary, tails the ops log applying records to a local map,
// decides when to request flushes, and signals readiness ("steady") once
// its lag against the log tail is closed.
package opsworker

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/kmodel"
)

// Config holds the parameters a Worker needs for the lifetime of a single
// run. It is copied into the Worker at construction and not mutated
// afterward.
type Config struct {
	// ClientID is stamped on every op this worker emits and used to
	// recognize its own records on replay (spec.md §3).
	ClientID uint64
	// AssignedParts is the set of partition indices this worker owns.
	AssignedParts []int32
	// FlushPeriodOps governs flush cadence and the offset probe's scan
	// stride. Must be positive.
	FlushPeriodOps int64
	// DataTopic/OpsTopic/FlushTopic name the three aligned topics.
	DataTopic  string
	OpsTopic   string
	FlushTopic string
	// PollBootstrapTimeout/PollSteadyTimeout are the two poll timeouts
	// spec.md §4.D refers to: a short one while catching up, widened once
	// steady to reduce idle CPU.
	PollBootstrapTimeout durationMillis
	PollSteadyTimeout    durationMillis
}

// durationMillis avoids importing time into the exported Config surface
// while keeping the field self-describing; driver.go converts it.
type durationMillis = int64

// steadyState is the tri-state outcome of the one-shot Steady latch
// (spec.md §3, invariant 4): pending until exactly one of ok/failed fires.
type steadyState int32

const (
	steadyPending steadyState = iota
	steadyOK
	steadyFailed
)

// Worker is the per-client, per-assigned-partition-set Ops Worker. All
// fields above the steady* latch fields are owned exclusively by the
// goroutine running Run; only the steady latch is safe for concurrent
// external observation.
type Worker struct {
	cfg Config
	log *zap.Logger

	dataClient LogClient
	opsClient  LogClient
	producer   Producer
	handler    OpsUpdateHandler
	queues     map[int32]FlushQueue
	cleanQueue CleanQueue
	metrics    Metrics

	// lastFlushNotifications maps an assigned partition index to the
	// highest-flushOffsetOps notification observed on that partition's ops
	// topic so far. Non-decreasing per partition (spec.md §3, invariant 3).
	lastFlushNotifications map[int32]kmodel.OpMessage

	// endOffsetsOps is the steady detector's cached tail snapshot; absent
	// (nil map) forces a refresh on the next check (spec.md §4.D).
	endOffsetsOps map[int32]int64
	// maxAllowedSteadyLag starts at 0 and is promoted to FlushPeriodOps
	// after the first tail confirmation (spec.md §4.D).
	maxAllowedSteadyLag int64

	steadyMu    sync.Mutex
	steadyState int32 // atomic steadyState
	steadyErr   error
	steadyWait  chan struct{}
	steadyOnce  sync.Once
}

// NewWorker constructs a Worker ready to Run. dataClient and opsClient may be
// the same underlying LogClient implementation reused across two logical
// assignments, but must be distinct values (the data client is closed after
// recovery while the ops client keeps running).
func NewWorker(
	cfg Config,
	log *zap.Logger,
	dataClient, opsClient LogClient,
	producer Producer,
	handler OpsUpdateHandler,
	queues map[int32]FlushQueue,
	cleanQueue CleanQueue,
) *Worker {
	if cfg.FlushPeriodOps <= 0 {
		panic("opsworker: FlushPeriodOps must be positive")
	}
	return &Worker{
		cfg:                     cfg,
		log:                     log,
		dataClient:              dataClient,
		opsClient:               opsClient,
		producer:                producer,
		handler:                 handler,
		queues:                  queues,
		cleanQueue:              cleanQueue,
		metrics:                 nopMetrics{},
		lastFlushNotifications:  make(map[int32]kmodel.OpMessage),
		steadyWait:              make(chan struct{}),
	}
}

// SetMetrics installs m as the Worker's metrics sink. Not safe to call
// concurrently with Run; intended to be set once, before Run starts.
func (w *Worker) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	w.metrics = m
}

// markSteadyOK flips the latch pending -> ok exactly once (spec.md §3,
// invariant 4; spec.md §4.D). Returns true only on the transition that
// actually fired.
func (w *Worker) markSteadyOK() bool {
	fired := false
	w.steadyOnce.Do(func() {
		atomic.StoreInt32(&w.steadyState, int32(steadyOK))
		close(w.steadyWait)
		fired = true
	})
	return fired
}

// markSteadyFailed flips the latch pending -> failed exactly once; a no-op
// if Steady already completed (ok or failed) (spec.md §3, invariant 4).
func (w *Worker) markSteadyFailed(err error) {
	w.steadyOnce.Do(func() {
		w.steadyMu.Lock()
		w.steadyErr = err
		w.steadyMu.Unlock()
		atomic.StoreInt32(&w.steadyState, int32(steadyFailed))
		close(w.steadyWait)
	})
}

// Steady blocks until the worker has caught up to the ops log tail at least
// once, or until it fails terminally. It is safe to call from any
// goroutine, any number of times (spec.md §6, steadyFuture).
func (w *Worker) Steady() error {
	<-w.steadyWait
	if steadyState(atomic.LoadInt32(&w.steadyState)) == steadyFailed {
		w.steadyMu.Lock()
		defer w.steadyMu.Unlock()
		return w.steadyErr
	}
	return nil
}

// SteadyDone returns a channel closed once the Steady latch resolves,
// ok or failed, for use in select statements.
func (w *Worker) SteadyDone() <-chan struct{} {
	return w.steadyWait
}
