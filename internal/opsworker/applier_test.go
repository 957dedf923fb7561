package opsworker_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/logbus"
	"github.com/salewski/replicamap/internal/opsworker"
	"github.com/salewski/replicamap/internal/opsworker/opsworkertest"
)

// S4 — own-flush triggering: flushPeriodOps=3, worker's clientID=C. A batch
// of four same-client records at offsets 3-6 must produce a FLUSH_REQUEST at
// offsets 3 and 6 (the only ones satisfying offset%3==0), enqueue all four
// records to the flush queue in order, and mark the flush-point boolean true
// for offsets 3, 6, and the last record of the batch (6, already covered).
func TestApplier_OwnFlushTriggering(t *testing.T) {
	const clientID = uint64(42)

	dataClient := opsworkertest.NewFakeClient(opsworkertest.NewTopic())
	opsTopic := opsworkertest.NewTopic()
	opsClient := opsworkertest.NewFakeClient(opsTopic)
	handler := opsworkertest.NewFakeHandler()
	flushQueue := opsworkertest.NewFakeFlushQueue()
	producer := opsworkertest.NewFakeProducer(nil)

	cfg := opsworker.Config{
		ClientID:             clientID,
		AssignedParts:        []int32{0},
		FlushPeriodOps:       3,
		PollBootstrapTimeout: 10,
		PollSteadyTimeout:    10,
	}
	w := opsworker.NewWorker(cfg, zap.NewNop(), dataClient, opsClient, producer, handler,
		map[int32]opsworker.FlushQueue{0: flushQueue}, opsworkertest.NewFakeCleanQueue())

	recs := make([]kmodel.Record, 0, 4)
	for i, off := range []int64{3, 4, 5, 6} {
		recs = append(recs, kmodel.Record{
			Key:       []byte{byte(i)},
			Value:     logbus.EncodeOp(kmodel.OpMessage{OpType: kmodel.OpPut, ClientID: clientID, UpdatedValue: []byte("v")}),
			Partition: 0,
			Offset:    off,
		})
	}

	require.NoError(t, opsworker.ExportApplyOpsTopicRecords(w, 0, recs))

	require.Len(t, flushQueue.Entries, 4)
	for i, e := range flushQueue.Entries {
		require.Equal(t, recs[i].Offset, e.OpsOffset)
	}
	require.True(t, flushQueue.Entries[0].IsFlushPoint, "offset 3 is a flush point")
	require.False(t, flushQueue.Entries[1].IsFlushPoint, "offset 4 is not")
	require.False(t, flushQueue.Entries[2].IsFlushPoint, "offset 5 is not")
	require.True(t, flushQueue.Entries[3].IsFlushPoint, "offset 6 is a flush point and the batch's last record")

	require.Len(t, producer.Sent, 2)
	req0, err := logbus.DecodeOp(producer.Sent[0].Value)
	require.NoError(t, err)
	require.Equal(t, kmodel.OpFlushRequest, req0.OpType)
	require.Equal(t, int64(3), req0.FlushOffsetOps)

	req1, err := logbus.DecodeOp(producer.Sent[1].Value)
	require.NoError(t, err)
	require.Equal(t, int64(6), req1.FlushOffsetOps)
}

// S5 — foreign flush notification: worker C1 observes a FLUSH_NOTIFICATION
// from C2 with a higher flushOffsetOps than currently stored. It must update
// lastFlushNotifications, push the record to the clean queue, never emit a
// FLUSH_REQUEST, and never touch the local map.
func TestApplier_ForeignFlushNotification(t *testing.T) {
	const self, other = uint64(1), uint64(2)

	dataClient := opsworkertest.NewFakeClient(opsworkertest.NewTopic())
	opsClient := opsworkertest.NewFakeClient(opsworkertest.NewTopic())
	handler := opsworkertest.NewFakeHandler()
	flushQueue := opsworkertest.NewFakeFlushQueue()
	cleanQueue := opsworkertest.NewFakeCleanQueue()
	producer := opsworkertest.NewFakeProducer(nil)

	cfg := opsworker.Config{
		ClientID:             self,
		AssignedParts:        []int32{0},
		FlushPeriodOps:       100,
		PollBootstrapTimeout: 10,
		PollSteadyTimeout:    10,
	}
	w := opsworker.NewWorker(cfg, zap.NewNop(), dataClient, opsClient, producer, handler,
		map[int32]opsworker.FlushQueue{0: flushQueue}, cleanQueue)

	notif := kmodel.OpMessage{
		OpType:          kmodel.OpFlushNotification,
		ClientID:        other,
		FlushOffsetOps:  5,
		FlushOffsetData: 3,
	}
	rec := kmodel.Record{Key: nil, Value: logbus.EncodeOp(notif), Partition: 0, Offset: 5}

	require.NoError(t, opsworker.ExportApplyOpsTopicRecords(w, 0, []kmodel.Record{rec}))

	require.Len(t, cleanQueue.Pushed, 1)
	require.Equal(t, other, cleanQueue.Pushed[0].Notification.ClientID)
	require.Empty(t, producer.Sent, "a foreign flush notification must never trigger our own FLUSH_REQUEST")
	require.Empty(t, handler.Calls, "a control record must never reach the update handler")
}
