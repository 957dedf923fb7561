package opsworker

import (
	"context"

	"github.com/salewski/replicamap/internal/kmodel"
)

// ExportApplyOpsTopicRecords exposes applyOpsTopicRecords to opsworker_test,
// which lives in a separate package so it can import opsworkertest without
// an import cycle.
func ExportApplyOpsTopicRecords(w *Worker, partition int32, recs []kmodel.Record) error {
	return w.applyOpsTopicRecords(partition, recs)
}

// ExportIsActuallySteady exposes isActuallySteady to opsworker_test.
func ExportIsActuallySteady(w *Worker, ctx context.Context) (bool, error) {
	return w.isActuallySteady(ctx)
}
