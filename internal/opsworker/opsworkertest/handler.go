package opsworkertest

import (
	"bytes"
	"sync"

	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/opsworker"
)

// FakeHandler is a minimal in-memory OpsUpdateHandler: unconditional PUT and
// REMOVE_ANY, mirroring the semantics internal/store implements for real.
// It exists so opsworker tests can assert on applied state without pulling
// in the store package, keeping the two packages' tests independent.
type FakeHandler struct {
	mu sync.Mutex
	m  map[string][]byte

	// Calls records every ApplyReceivedUpdate invocation for assertions on
	// call order and arguments.
	Calls []Call
}

// Call is one recorded ApplyReceivedUpdate invocation.
type Call struct {
	ClientID, OpID                       uint64
	OpType                                kmodel.OpType
	Key, ExpectedValue, UpdatedValue, Fn  []byte
}

// NewFakeHandler returns an empty handler.
func NewFakeHandler() *FakeHandler {
	return &FakeHandler{m: make(map[string][]byte)}
}

func (h *FakeHandler) ApplyReceivedUpdate(
	clientID, opID uint64,
	opType kmodel.OpType,
	key, expectedValue, updatedValue, function []byte,
	out *opsworker.UpdateResult,
) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, Call{clientID, opID, opType, key, expectedValue, updatedValue, function})

	switch opType {
	case kmodel.OpPut:
		h.m[string(key)] = updatedValue
		out.Value = updatedValue
		out.Tombstone = false
		return true, nil
	case kmodel.OpRemoveAny:
		_, existed := h.m[string(key)]
		delete(h.m, string(key))
		out.Value = nil
		out.Tombstone = true
		return existed, nil
	default:
		return false, nil
	}
}

// Get returns the current value for key and whether it is present.
func (h *FakeHandler) Get(key []byte) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.m[string(key)]
	return v, ok
}

// Equal reports whether key currently maps to value (nil-safe).
func (h *FakeHandler) Equal(key, value []byte) bool {
	v, ok := h.Get(key)
	if !ok {
		return value == nil
	}
	return bytes.Equal(v, value)
}
