package flushworker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salewski/replicamap/internal/flushqueue"
	"github.com/salewski/replicamap/internal/flushworker"
	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/logbus"
)

type recordingProducer struct {
	mu   sync.Mutex
	sent []struct {
		partition  int32
		key, value []byte
	}
}

func (p *recordingProducer) Send(partition int32, key, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, struct {
		partition  int32
		key, value []byte
	}{partition, key, value})
}

func (p *recordingProducer) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestFlushWorker_FlushesOnFlushPoint(t *testing.T) {
	queue := flushqueue.New(4)
	dataOut := &recordingProducer{}
	opsOut := &recordingProducer{}

	w := flushworker.New(0, 7, queue, dataOut, opsOut, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	queue.Add([]byte("a"), []byte("1"), 0, true, false)
	queue.Add([]byte("b"), []byte("2"), 1, true, true)

	require.Eventually(t, func() bool { return dataOut.len() == 2 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return opsOut.len() == 1 }, time.Second, 10*time.Millisecond)

	opsOut.mu.Lock()
	notifValue := opsOut.sent[0].value
	opsOut.mu.Unlock()
	notif, err := logbus.DecodeOp(notifValue)
	require.NoError(t, err)
	require.Equal(t, kmodel.OpFlushNotification, notif.OpType)
	require.Equal(t, uint64(7), notif.ClientID)

	cancel()
	<-done
}
