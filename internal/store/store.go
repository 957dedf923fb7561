// Package store implements the local, per-partition-set key-value map that
// backs the Ops Worker's OpsUpdateHandler contract.
package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/salewski/replicamap/internal/kmodel"
	"github.com/salewski/replicamap/internal/opsworker"
)

// Map is a concurrency-safe in-memory key-value store. A single Map may
// back several Worker instances (one per assigned partition set) as long as
// their key spaces don't overlap, since all locking is per-Map, not
// per-partition.
type Map struct {
	log *zap.Logger

	mu sync.RWMutex
	kv map[string][]byte
}

// New returns an empty Map. log may be nil, in which case a no-op logger is
// used.
func New(log *zap.Logger) *Map {
	if log == nil {
		log = zap.NewNop()
	}
	return &Map{log: log, kv: make(map[string][]byte)}
}

// ApplyReceivedUpdate implements opsworker.OpsUpdateHandler (spec.md §4.I):
// PUT always applies and reports updated; REMOVE_ANY deletes unconditionally
// and reports updated iff the key was present. expectedValue and function
// are accepted for interface forward-compatibility but not interpreted,
// per the spec's explicit non-goal on merge policy; any op type other than
// PUT/REMOVE_ANY is treated as a PUT of updatedValue.
func (m *Map) ApplyReceivedUpdate(
	clientID, opID uint64,
	opType kmodel.OpType,
	key, expectedValue, updatedValue, function []byte,
	out *opsworker.UpdateResult,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	switch opType {
	case kmodel.OpRemoveAny:
		_, existed := m.kv[k]
		delete(m.kv, k)
		out.Value = nil
		out.Tombstone = true
		return existed, nil
	case kmodel.OpPut:
		m.kv[k] = updatedValue
		out.Value = updatedValue
		out.Tombstone = false
		return true, nil
	default:
		m.log.Debug("applying non-PUT/REMOVE_ANY op as a PUT",
			zap.Uint8("op_type", uint8(opType)),
			zap.Uint64("client_id", clientID),
			zap.Uint64("op_id", opID),
		)
		m.kv[k] = updatedValue
		out.Value = updatedValue
		out.Tombstone = false
		return true, nil
	}
}

// Get returns the current value for key and whether it is present.
func (m *Map) Get(key []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[string(key)]
	return v, ok
}

// Len returns the number of keys currently present.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kv)
}

// Snapshot returns a point-in-time copy of every key/value pair. The flush
// worker does not use it; it keeps its own compaction buffer.
func (m *Map) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.kv))
	for k, v := range m.kv {
		out[k] = v
	}
	return out
}
