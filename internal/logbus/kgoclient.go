// Package logbus binds the Ops Worker's abstract LogClient/Producer
// contract to a real Kafka cluster via franz-go, and defines the wire codec
// every topic in the system (data, ops, flush) shares.
package logbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grafana/dskit/backoff"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/salewski/replicamap/internal/kmodel"
)

// endOffsetsBackoffConfig bounds retries of a transient ListEndOffsets failure
// (a broker hiccup, not a TransportError the spec treats as fatal): same
// shape as grafana-tempo's partition reader retrying its offset fetch.
var endOffsetsBackoffConfig = backoff.Config{
	MinBackoff: 50 * time.Millisecond,
	MaxBackoff: 1 * time.Second,
	MaxRetries: 5,
}

// Client adapts *kgo.Client (plus a *kadm.Client built on top of it) to
// opsworker.LogClient, following the manual-partition-assignment pattern
// used throughout the franz-go ecosystem's own partition-reader code:
// AddConsumePartitions/RemoveConsumePartitions rather than group-managed
// consumption, since each Ops Worker owns a fixed partition set for the
// life of the process (SPEC_FULL.md §4.F).
type Client struct {
	cl    *kgo.Client
	adm   *kadm.Client
	topic string
	log   *zap.Logger

	mu        sync.Mutex
	assigned  []int32
	positions map[int32]int64

	pollCancel context.CancelFunc
}

// NewClient wraps cl for consuming topic. cl must already be configured
// with the desired seed brokers, client ID, etc.; NewClient only adds the
// manual-partition-assignment and kadm bindings this package needs.
func NewClient(cl *kgo.Client, topic string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cl:        cl,
		adm:       kadm.NewClient(cl),
		topic:     topic,
		log:       log,
		positions: make(map[int32]int64),
	}
}

// Assign implements opsworker.LogClient.
func (c *Client) Assign(partitions []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.assigned) > 0 {
		c.cl.RemoveConsumePartitions(map[string][]int32{c.topic: c.assigned})
	}

	offsets := make(map[int32]kgo.Offset, len(partitions))
	for _, p := range partitions {
		off, ok := c.positions[p]
		if !ok {
			off = 0
		}
		offsets[p] = kgo.NewOffset().At(off)
	}
	c.cl.AddConsumePartitions(map[string]map[int32]kgo.Offset{c.topic: offsets})
	c.assigned = append([]int32(nil), partitions...)
}

// Seek implements opsworker.LogClient by removing and re-adding the single
// partition at the requested offset: franz-go requires a partition to be
// dropped via RemoveConsumePartitions before a repeat AddConsumePartitions
// actually takes effect as a reposition, the same order
// TestAddRemovePartitions exercises against a real client.
func (c *Client) Seek(partition int32, offset int64) {
	c.mu.Lock()
	c.positions[partition] = offset
	c.mu.Unlock()
	c.cl.RemoveConsumePartitions(map[string][]int32{c.topic: {partition}})
	c.cl.AddConsumePartitions(map[string]map[int32]kgo.Offset{
		c.topic: {partition: kgo.NewOffset().At(offset)},
	})
}

// SeekToBeginning implements opsworker.LogClient.
func (c *Client) SeekToBeginning(partition int32) {
	c.mu.Lock()
	c.positions[partition] = 0
	c.mu.Unlock()
	c.cl.RemoveConsumePartitions(map[string][]int32{c.topic: {partition}})
	c.cl.AddConsumePartitions(map[string]map[int32]kgo.Offset{
		c.topic: {partition: kgo.NewOffset().AtStart()},
	})
}

// Poll implements opsworker.LogClient via PollFetches, grouping the
// returned kgo.Fetches by partition. Record values are passed through
// undecoded; callers decode them with DecodeOp. The per-poll context is
// stashed so Wakeup can cancel an in-flight call.
func (c *Client) Poll(ctx context.Context) (map[int32][]kmodel.Record, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pollCancel = cancel
	c.mu.Unlock()
	defer cancel()

	fetches := c.cl.PollFetches(pollCtx)
	if err := fetches.Err(); err != nil {
		if pollCtx.Err() != nil && ctx.Err() == nil {
			// Canceled via Wakeup, not via the caller's own context.
			return nil, fmt.Errorf("logbus: %w", wrapWakeup(err))
		}
		return nil, fmt.Errorf("logbus: poll fetches: %w", err)
	}

	out := make(map[int32][]kmodel.Record)
	fetches.EachRecord(func(rec *kgo.Record) {
		out[rec.Partition] = append(out[rec.Partition], kmodel.Record{
			Key:       rec.Key,
			Value:     rec.Value,
			Partition: rec.Partition,
			Offset:    rec.Offset,
		})
	})

	c.mu.Lock()
	for p, recs := range out {
		if len(recs) > 0 {
			c.positions[p] = recs[len(recs)-1].Offset + 1
		}
	}
	c.mu.Unlock()

	return out, nil
}

func wrapWakeup(err error) error { return fmt.Errorf("woken up: %w", err) }

// Position implements opsworker.LogClient. franz-go does not expose a
// direct "next position" query for manually-assigned partitions the way a
// group consumer's committed offsets would, so this is tracked locally from
// the last record handed back by Poll (or the last Seek/SeekToBeginning).
func (c *Client) Position(partition int32) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions[partition]
}

// EndOffsets implements opsworker.LogClient via kadm.Client.ListEndOffsets,
// retrying transient failures with a bounded backoff rather than surfacing
// a blip as a fatal error straight to the offset probe.
func (c *Client) EndOffsets(ctx context.Context, partitions []int32) (map[int32]int64, error) {
	var listed kadm.ListedOffsets
	retry := backoff.New(ctx, endOffsetsBackoffConfig)
	var err error
	succeeded := false
	for retry.Ongoing() {
		listed, err = c.adm.ListEndOffsets(ctx, c.topic)
		if err == nil {
			succeeded = true
			break
		}
		c.log.Warn("list end offsets failed, retrying", zap.String("topic", c.topic), zap.Error(err))
		retry.Wait()
	}
	if !succeeded {
		if err == nil {
			err = retry.Err()
		}
		return nil, fmt.Errorf("logbus: list end offsets for %q: %w", c.topic, err)
	}
	out := make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		o, ok := listed.Lookup(c.topic, p)
		if !ok {
			return nil, fmt.Errorf("logbus: no end offset reported for %s[%d]", c.topic, p)
		}
		out[p] = o.Offset
	}
	return out, nil
}

// Wakeup implements opsworker.LogClient by canceling the context passed to
// the in-flight PollFetches call, if any.
func (c *Client) Wakeup() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close implements opsworker.LogClient.
func (c *Client) Close() {
	c.cl.Close()
}

// Producer adapts *kgo.Client to opsworker.Producer: a fire-and-forget send
// whose completion callback only logs on error (spec.md §5).
type Producer struct {
	cl    *kgo.Client
	topic string
	log   *zap.Logger
}

// NewProducer wraps cl for producing to topic.
func NewProducer(cl *kgo.Client, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{cl: cl, topic: topic, log: log}
}

// Send implements opsworker.Producer.
func (p *Producer) Send(partition int32, key, value []byte) {
	rec := &kgo.Record{Topic: p.topic, Partition: partition, Key: key, Value: value}
	p.cl.Produce(context.Background(), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			p.log.Error("fire-and-forget produce failed",
				zap.String("topic", p.topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		}
	})
}
