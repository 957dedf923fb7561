package flushqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salewski/replicamap/internal/flushqueue"
	"github.com/salewski/replicamap/internal/kmodel"
)

func TestQueue_PreservesOrder(t *testing.T) {
	q := flushqueue.New(4)
	q.Add([]byte("a"), []byte("1"), 0, true, false)
	q.Add([]byte("b"), []byte("2"), 1, true, true)

	ctx := context.Background()
	e0, err := q.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), e0.Key)
	require.False(t, e0.IsFlushPoint)

	e1, err := q.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), e1.Key)
	require.True(t, e1.IsFlushPoint)
}

func TestQueue_NextRespectsCancellation(t *testing.T) {
	q := flushqueue.New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCleanQueue_PushAndDrain(t *testing.T) {
	cq := flushqueue.NewCleanQueue(2)
	notif := kmodel.OpMessage{OpType: kmodel.OpFlushNotification, ClientID: 7, FlushOffsetOps: 9}
	cq.Push(0, notif)

	n, err := cq.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(0), n.Partition)
	require.Equal(t, uint64(7), n.Notification.ClientID)
}
