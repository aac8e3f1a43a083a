package core

// Track (C3).
//
// A write-through view over the persistent substate store with a
// read-through cache, per-substate acquire/release locks, tentative writes
// buffered until commit, and a fee-reserve accumulator: a single struct
// fronting a KV backend, generalized to substate-typed keys and
// per-substate locking.

import (
	"bytes"
	"sync"

	log "github.com/sirupsen/logrus"
)

var trackLog = log.WithField("component", "track")

// cacheEntry is one read-through cache slot.
type cacheEntry struct {
	substate Substate
	present  bool
	lock     substateLockState
}

// feeLock records one lock_fee grant: the amount locked and whether it is
// contingent (refunded on transaction failure).
type feeLock struct {
	vault      NodeId
	amount     uint64
	contingent bool
}

// Track is the transaction-scoped, lock-aware cache and write buffer over
// the substate store.
type Track struct {
	mu sync.Mutex

	store SubstateStore
	cache map[string]*cacheEntry

	// writeBuffer holds tentative writes, keyed by the canonical encoding,
	// in insertion order so commit/truncate is deterministic.
	writeOrder  []string
	writeBuffer map[string]pendingWrite

	// touched is the "lock_fee" touched-set: once a fee vault has been
	// written, it cannot participate in subsequent lock_fee the same way,
	// preventing fee-reserve replay within one transaction.
	touched map[string]bool

	feeLocks      []feeLock
	feeReserved   uint64
	feeConsumed   uint64
	nextHandle    LockHandle
	handleToKey   map[LockHandle]string
}

type pendingWrite struct {
	id  SubstateId
	sub Substate
}

func NewTrack(store SubstateStore) *Track {
	return &Track{
		store:       store,
		cache:       make(map[string]*cacheEntry),
		writeBuffer: make(map[string]pendingWrite),
		touched:     make(map[string]bool),
		handleToKey: make(map[LockHandle]string),
	}
}

func (t *Track) key(id SubstateId) string { return string(id.EncodeKey()) }

// load populates the read-through cache on first access to a substate,
// preferring an uncommitted write over the backing store.
func (t *Track) load(id SubstateId) (*cacheEntry, error) {
	k := t.key(id)
	if e, ok := t.cache[k]; ok {
		return e, nil
	}
	if pw, ok := t.writeBuffer[k]; ok {
		e := &cacheEntry{substate: pw.sub, present: true}
		t.cache[k] = e
		return e, nil
	}
	sub, present, err := t.store.Get(id)
	if err != nil {
		return nil, WrapKernelError(ErrNotFound, id.String(), err)
	}
	e := &cacheEntry{substate: sub, present: present}
	t.cache[k] = e
	return e, nil
}

// AcquireLock returns a LockHandle or a NotFound / Reentrancy error (the
// fee-specific AlreadyTouched error comes from LockFee). KV-store and non-fungible-store entry offsets are exempt from
// backing-store locking: concurrent keys are logically independent, so
// they always succeed without consulting substateLockState.
func (t *Track) AcquireLock(id SubstateId, flags LockFlags, requireExisting bool) (LockHandle, Substate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, err := t.load(id)
	if err != nil {
		return 0, Substate{}, err
	}
	if requireExisting && !entry.present {
		return 0, Substate{}, NewKernelError(ErrNotFound, id.String())
	}

	if !id.Offset.isEntryClass() {
		if flags.mutable() {
			if entry.lock.write || entry.lock.readers > 0 {
				return 0, Substate{}, NewKernelError(ErrReentrancy, id.String())
			}
			entry.lock.write = true
		} else {
			if entry.lock.write {
				return 0, Substate{}, NewKernelError(ErrReentrancy, id.String())
			}
			entry.lock.readers++
		}
	}

	t.nextHandle++
	h := t.nextHandle
	t.handleToKey[h] = t.key(id)
	return h, entry.substate, nil
}

// ReleaseLock releases a previously acquired lock. If the record's
// UNMODIFIED_BASE flag was set, release verifies that the substate was not
// modified since acquisition.
func (t *Track) ReleaseLock(rec *LockRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := t.handleToKey[rec.trackHandle]
	delete(t.handleToKey, rec.trackHandle)
	entry, ok := t.cache[k]
	if !ok {
		return NewKernelError(ErrInvalidSubstateLock, "release of unknown lock")
	}

	if rec.Flags.unmodifiedBase() {
		if !bytes.Equal(rec.baseSnapshot, entry.substate.Payload) {
			return NewKernelError(ErrInvalidSubstateLock, "base modified under UNMODIFIED_BASE lock: "+rec.Offset.String())
		}
	}

	if !rec.Offset.isEntryClass() {
		if rec.Flags.mutable() {
			entry.lock.write = false
		} else if entry.lock.readers > 0 {
			entry.lock.readers--
		}
	}
	return nil
}

// ReadSubstate returns the current value visible through an open lock.
func (t *Track) ReadSubstate(id SubstateId) (Substate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.load(id)
	if err != nil {
		return Substate{}, err
	}
	return e.substate, nil
}

// WriteSubstate buffers a tentative write; it is only visible to this
// transaction until commit.
func (t *Track) WriteSubstate(id SubstateId, sub Substate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.key(id)
	if _, ok := t.cache[k]; !ok {
		t.cache[k] = &cacheEntry{}
	}
	t.cache[k].substate = sub
	t.cache[k].present = true
	if _, exists := t.writeBuffer[k]; !exists {
		t.writeOrder = append(t.writeOrder, k)
	}
	t.writeBuffer[k] = pendingWrite{id: id, sub: sub}
	t.touched[k] = true
	return nil
}

// putSubstate is the internal entry point Heap.moveToStore uses to place a
// node's substates into Track without going through the lock-acquiring
// WriteSubstate path (the node was just created and is not yet lockable by
// any frame).
func (t *Track) putSubstate(id SubstateId, sub Substate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.key(id)
	t.cache[k] = &cacheEntry{substate: sub, present: true}
	if _, exists := t.writeBuffer[k]; !exists {
		t.writeOrder = append(t.writeOrder, k)
	}
	t.writeBuffer[k] = pendingWrite{id: id, sub: sub}
}

// snapshotMark records the write-buffer length so a child frame failure can
// truncate back to it: the kernel snapshots Track's buffer offsets at each
// frame push and truncates back to the snapshot on frame failure.
func (t *Track) snapshotMark() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writeOrder)
}

// truncateTo discards every write appended after mark, used to unwind a
// failed child frame's effects.
func (t *Track) truncateTo(mark int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.writeOrder) - 1; i >= mark; i-- {
		k := t.writeOrder[i]
		delete(t.writeBuffer, k)
		delete(t.cache, k)
	}
	t.writeOrder = t.writeOrder[:mark]
}

// LockFee accumulates a locked-fee amount from a lock_fee invocation. The
// touched-set rejects a second lock_fee against a vault already written in
// this transaction, preventing fee-reserve replay.
func (t *Track) LockFee(vault NodeId, amount uint64, contingent bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	vk := vault.String()
	if t.touched[vk] || t.touched[t.key(SubstateId{Node: vault, Offset: vaultOffset})] {
		return NewKernelError(ErrRENodeAlreadyTouched, vk)
	}
	t.touched[vk] = true
	t.feeLocks = append(t.feeLocks, feeLock{vault: vault, amount: amount, contingent: contingent})
	t.feeReserved += amount
	trackLog.WithField("vault", vk).WithField("amount", amount).Debug("fee locked")
	return nil
}

// ConsumeCost deducts n units from the fee reserve; exhaustion fails with
// CostingError. The reserve is non-increasing across any kernel call: on
// failure it still reflects the partial consumption so far.
func (t *Track) ConsumeCost(n uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.feeConsumed+n > t.feeReserved {
		t.feeConsumed = t.feeReserved
		return NewKernelError(ErrCostingError, "reserve exhausted")
	}
	t.feeConsumed += n
	return nil
}

func (t *Track) FeeReserved() uint64 { t.mu.Lock(); defer t.mu.Unlock(); return t.feeReserved }
func (t *Track) FeeConsumed() uint64 { t.mu.Lock(); defer t.mu.Unlock(); return t.feeConsumed }

// SettleFees resolves the locked fees at the transaction boundary: the
// consumed amount is paid, contingent locks are refunded in full on
// failure, and non-contingent locks always pay in full up to what was
// consumed.
func (t *Track) SettleFees(succeeded bool) (paid uint64, refunded uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.feeConsumed
	for _, fl := range t.feeLocks {
		if !succeeded && fl.contingent {
			refunded += fl.amount
			continue
		}
		take := fl.amount
		if take > remaining {
			refund := take - remaining
			take = remaining
			refunded += refund
		}
		remaining -= take
		paid += take
	}
	return paid, refunded
}

// Commit flushes the write buffer to the backing store in insertion order,
// deterministically. Called only on overall transaction success.
func (t *Track) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range t.writeOrder {
		pw := t.writeBuffer[k]
		if err := t.store.Put(pw.id, pw.sub); err != nil {
			return WrapKernelError(ErrNotFound, pw.id.String(), err)
		}
	}
	return nil
}

// CommitFeeVaultOnly persists only the fee-vault write on abort: the fee
// vault write (up to the locked fee) persists so that fees can be settled,
// identified by offset category "Vault".
func (t *Track) CommitFeeVaultOnly(vaultIds map[nodeIdKey]bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range t.writeOrder {
		pw := t.writeBuffer[k]
		if pw.id.Offset.Category == "Vault" && vaultIds[pw.id.Node.Key()] {
			if err := t.store.Put(pw.id, pw.sub); err != nil {
				return WrapKernelError(ErrNotFound, pw.id.String(), err)
			}
		}
	}
	return nil
}
