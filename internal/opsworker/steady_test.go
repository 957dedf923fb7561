package opsworker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/opsworker"
	"github.com/salewski/replicamap/internal/opsworker/opsworkertest"
)

// isActuallySteady must require the lag to close against a tail snapshot
// taken strictly after the check begins (spec.md §4.D). With the topic
// stationary at a non-zero position gap, the first pass reports not-steady;
// once the client catches up, the two-shot confirmation must both run and
// report steady, and thereafter allow the widened lag tolerance.
func TestIsActuallySteady_TwoShotConfirmation(t *testing.T) {
	opsTopic := opsworkertest.NewTopic()
	for i := 0; i < 5; i++ {
		opsTopic.Append(0, []byte{byte(i)}, []byte("v"))
	}
	opsClient := opsworkertest.NewFakeClient(opsTopic)
	opsClient.Assign([]int32{0})
	opsClient.Seek(0, 2) // position behind the tail of 5

	cfg := opsworker.Config{
		ClientID:             1,
		AssignedParts:        []int32{0},
		FlushPeriodOps:       3,
		PollBootstrapTimeout: 10,
		PollSteadyTimeout:    10,
	}
	dataClient := opsworkertest.NewFakeClient(opsworkertest.NewTopic())
	w := opsworker.NewWorker(cfg, zap.NewNop(), dataClient, opsClient, opsworkertest.NewFakeProducer(nil),
		opsworkertest.NewFakeHandler(), nil, nil)

	ctx := context.Background()

	ok, err := opsworker.ExportIsActuallySteady(w, ctx)
	require.NoError(t, err)
	require.False(t, ok, "lag of 3 against a zero initial tolerance must not report steady")

	opsClient.Seek(0, 5) // catch up to the tail

	ok, err = opsworker.ExportIsActuallySteady(w, ctx)
	require.NoError(t, err)
	require.True(t, ok, "a fully caught-up client must pass the two-shot confirmation")

	// A later check tolerates lag up to FlushPeriodOps now that the widened
	// allowance is in effect.
	opsClient.Seek(0, 3)
	ok, err = opsworker.ExportIsActuallySteady(w, ctx)
	require.NoError(t, err)
	require.True(t, ok, "lag of 2 is within the widened FlushPeriodOps=3 tolerance")
}
