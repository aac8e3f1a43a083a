package core

// Substate store interface, consumed by Track. A pure KV interface: read
// returns an optional substate, write (on commit only) persists one.
// Offsets and node ids are encoded into opaque byte keys by SubstateId's
// canonical encoding, which must be bit-exact across implementations.
//
// Generalized from raw []byte keys to typed SubstateId keys and from a
// single in-process map to an interface so a production backend can be
// swapped in without touching Track.

import "sort"

// SubstateStore is the external persistent backend. Only Get/Put are part
// of the kernel-facing contract; everything else (the WAL, snapshots,
// pruning) belongs to a storage-format layer out of scope for this kernel.
type SubstateStore interface {
	Get(id SubstateId) (Substate, bool, error)
	Put(id SubstateId, sub Substate) error
}

// MemStore is an in-memory SubstateStore good enough to run the seed
// scenarios and the test suite; it is not a production storage engine.
type MemStore struct {
	data map[string]Substate
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]Substate)}
}

func (m *MemStore) Get(id SubstateId) (Substate, bool, error) {
	sub, ok := m.data[string(id.EncodeKey())]
	return sub, ok, nil
}

func (m *MemStore) Put(id SubstateId, sub Substate) error {
	m.data[string(id.EncodeKey())] = sub
	return nil
}

// Snapshot returns a deterministically ordered copy of the store contents,
// keyed by the canonical encoding, for CLI/test inspection.
func (m *MemStore) Snapshot() map[string]Substate {
	out := make(map[string]Substate, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Keys returns the store's keys in sorted order, for deterministic receipt
// dumps: receipts must be byte-for-byte identical given the same inputs.
func (m *MemStore) Keys() []string {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
