// Package opsworkertest provides an in-memory LogClient/Producer fake for
// unit-testing internal/opsworker without a real (or faked) Kafka broker.
// It honors the same contract franz-go's kfake exercises at the wire level,
// but in-process and without encoding, which keeps the opsworker unit tests
// fast and focused on the core algorithms rather than the transport.
package opsworkertest

import (
	"context"
	"sort"
	"sync"

	"github.com/salewski/replicamap/internal/kmodel"
)

// Topic is a single in-memory append-only partitioned log.
type Topic struct {
	mu         sync.Mutex
	partitions map[int32][]kmodel.Record
}

// NewTopic returns an empty topic.
func NewTopic() *Topic {
	return &Topic{partitions: make(map[int32][]kmodel.Record)}
}

// Append adds a record to a partition, stamping it with the next offset.
func (t *Topic) Append(partition int32, key, value []byte) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	off := int64(len(t.partitions[partition]))
	t.partitions[partition] = append(t.partitions[partition], kmodel.Record{
		Key: key, Value: value, Partition: partition, Offset: off,
	})
	return off
}

func (t *Topic) endOffset(partition int32) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.partitions[partition]))
}

func (t *Topic) slice(partition int32, from int64) []kmodel.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.partitions[partition]
	if from >= int64(len(all)) {
		return nil
	}
	if from < 0 {
		from = 0
	}
	out := make([]kmodel.Record, len(all)-int(from))
	copy(out, all[from:])
	return out
}

// FakeClient is an in-memory LogClient over a single Topic.
type FakeClient struct {
	topic *Topic

	mu        sync.Mutex
	assigned  []int32
	positions map[int32]int64

	// EndOffsetsOverride, when non-nil, is consulted instead of the topic's
	// real length — used by tests to model a log client that transiently
	// under-reports its end offset (spec.md §4.A, §9, S3).
	EndOffsetsOverride func(partition int32, real int64) int64
}

// NewFakeClient returns a client bound to topic, initially assigned to
// nothing.
func NewFakeClient(topic *Topic) *FakeClient {
	return &FakeClient{topic: topic, positions: make(map[int32]int64)}
}

func (c *FakeClient) Assign(partitions []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned = append([]int32(nil), partitions...)
	for _, p := range partitions {
		if _, ok := c.positions[p]; !ok {
			c.positions[p] = 0
		}
	}
}

func (c *FakeClient) Seek(partition int32, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[partition] = offset
}

func (c *FakeClient) SeekToBeginning(partition int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[partition] = 0
}

func (c *FakeClient) Poll(ctx context.Context) (map[int32][]kmodel.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	parts := append([]int32(nil), c.assigned...)
	c.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })

	out := make(map[int32][]kmodel.Record)
	for _, p := range parts {
		c.mu.Lock()
		pos := c.positions[p]
		c.mu.Unlock()

		recs := c.topic.slice(p, pos)
		if len(recs) == 0 {
			continue
		}
		out[p] = recs
		c.mu.Lock()
		c.positions[p] = recs[len(recs)-1].Offset + 1
		c.mu.Unlock()
	}
	return out, nil
}

func (c *FakeClient) Position(partition int32) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions[partition]
}

func (c *FakeClient) EndOffsets(_ context.Context, partitions []int32) (map[int32]int64, error) {
	out := make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		real := c.topic.endOffset(p)
		if c.EndOffsetsOverride != nil {
			out[p] = c.EndOffsetsOverride(p, real)
			continue
		}
		out[p] = real
	}
	return out, nil
}

func (c *FakeClient) Wakeup() {}
func (c *FakeClient) Close()  {}

// FakeProducer records every Send call for test assertions and mirrors each
// send into a bound Topic, as a real flush producer eventually would.
type FakeProducer struct {
	mu    sync.Mutex
	Sent  []Sent
	topic *Topic
}

// Sent is one recorded call to FakeProducer.Send.
type Sent struct {
	Partition    int32
	Key, Value   []byte
}

// NewFakeProducer returns a producer that appends sent records to topic (may
// be nil if the test only cares about the Sent log).
func NewFakeProducer(topic *Topic) *FakeProducer {
	return &FakeProducer{topic: topic}
}

func (p *FakeProducer) Send(partition int32, key, value []byte) {
	p.mu.Lock()
	p.Sent = append(p.Sent, Sent{Partition: partition, Key: key, Value: value})
	p.mu.Unlock()
	if p.topic != nil {
		p.topic.Append(partition, key, value)
	}
}
