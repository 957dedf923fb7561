package logbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/logbus"
)

// TestClient_ProduceAndConsume exercises the Client/Producer adapter against
// franz-go's own in-process fake broker, giving the wire codec and offset
// bookkeeping a closer-to-real check than the opsworkertest fakes provide
// (SPEC_FULL.md §6).
func TestClient_ProduceAndConsume(t *testing.T) {
	const topic = "ops-0"

	cluster, err := kfake.NewCluster(kfake.SeedTopics(1, topic))
	require.NoError(t, err)
	defer cluster.Close()

	addrs := cluster.ListenAddrs()
	log := zap.NewNop()

	producerCl, err := kgo.NewClient(kgo.SeedBrokers(addrs...))
	require.NoError(t, err)
	defer producerCl.Close()
	producer := logbus.NewProducer(producerCl, topic, log)

	msg := kmodel.OpMessage{OpType: kmodel.OpPut, ClientID: 1, OpID: 1, UpdatedValue: []byte("v1")}
	producer.Send(0, []byte("k"), logbus.EncodeOp(msg))

	consumerCl, err := kgo.NewClient(kgo.SeedBrokers(addrs...))
	require.NoError(t, err)
	defer consumerCl.Close()
	client := logbus.NewClient(consumerCl, topic, log)
	client.Assign([]int32{0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got kmodel.Record
	require.Eventually(t, func() bool {
		batches, err := client.Poll(ctx)
		if err != nil {
			return false
		}
		recs := batches[0]
		if len(recs) == 0 {
			return false
		}
		got = recs[0]
		return true
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(t, []byte("k"), got.Key)
	decoded, err := logbus.DecodeOp(got.Value)
	require.NoError(t, err)
	require.Equal(t, kmodel.OpPut, decoded.OpType)
	require.Equal(t, []byte("v1"), decoded.UpdatedValue)

	ends, err := client.EndOffsets(ctx, []int32{0})
	require.NoError(t, err)
	require.Equal(t, int64(1), ends[0])
}
