// Package metrics defines the Prometheus collectors replicamap registers:
// domain gauges/counters for the Ops Worker's own state, plus the Kafka
// client-level metrics franz-go's kprom plugin exposes for every kgo.Client
// in the process.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/salewski/replicamap/internal/kmodel"
)

// Worker holds the per-process Ops Worker collectors.
type Worker struct {
	SteadyLag          *prometheus.GaugeVec
	RecordsApplied     *prometheus.CounterVec
	FlushRequestsSent  *prometheus.CounterVec
	ForeignFlushesSeen *prometheus.CounterVec
	RecoveryDuration   *prometheus.HistogramVec
}

// NewWorker registers and returns the Ops Worker collectors against reg.
func NewWorker(reg prometheus.Registerer) *Worker {
	factory := promauto.With(reg)
	return &Worker{
		SteadyLag: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replicamap_ops_worker_steady_lag_records",
			Help: "Records the ops consumer is behind the tail, as last measured by the steady detector.",
		}, []string{"partition"}),
		RecordsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replicamap_ops_worker_records_applied_total",
			Help: "Ops-topic records applied to the local map, by op type.",
		}, []string{"partition", "op_type"}),
		FlushRequestsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replicamap_ops_worker_flush_requests_sent_total",
			Help: "FLUSH_REQUEST records emitted by this worker.",
		}, []string{"partition"}),
		ForeignFlushesSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replicamap_ops_worker_foreign_flushes_seen_total",
			Help: "Flush notifications observed from a different client and forwarded to the clean queue.",
		}, []string{"partition"}),
		RecoveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:                        "replicamap_ops_worker_recovery_duration_seconds",
			Help:                        "Time spent in the offset probe and data loader before steady-state consumption begins.",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"partition"}),
	}
}

// ObserveSteadyLag implements opsworker.Metrics.
func (w *Worker) ObserveSteadyLag(partition int32, lag int64) {
	w.SteadyLag.WithLabelValues(partitionLabel(partition)).Set(float64(lag))
}

// IncRecordsApplied implements opsworker.Metrics.
func (w *Worker) IncRecordsApplied(partition int32, opType kmodel.OpType) {
	w.RecordsApplied.WithLabelValues(partitionLabel(partition), opType.String()).Inc()
}

// IncFlushRequestsSent implements opsworker.Metrics.
func (w *Worker) IncFlushRequestsSent(partition int32) {
	w.FlushRequestsSent.WithLabelValues(partitionLabel(partition)).Inc()
}

// IncForeignFlushesSeen implements opsworker.Metrics.
func (w *Worker) IncForeignFlushesSeen(partition int32) {
	w.ForeignFlushesSeen.WithLabelValues(partitionLabel(partition)).Inc()
}

// ObserveRecoveryDuration implements opsworker.Metrics.
func (w *Worker) ObserveRecoveryDuration(partition int32, seconds float64) {
	w.RecoveryDuration.WithLabelValues(partitionLabel(partition)).Observe(seconds)
}

func partitionLabel(partition int32) string {
	return strconv.Itoa(int(partition))
}

// NewKafkaClientMetrics returns the kprom collector set for a named kgo
// client role (e.g. "data", "ops", "flush"), each registered under its own
// "role" label so the collector sets of different clients do not collide.
func NewKafkaClientMetrics(role string, reg prometheus.Registerer) *kprom.Metrics {
	return kprom.NewMetrics("replicamap_"+role,
		kprom.Registerer(prometheus.WrapRegistererWith(prometheus.Labels{"role": role}, reg)),
		kprom.FetchAndProduceDetail(kprom.Batches, kprom.Records),
	)
}
