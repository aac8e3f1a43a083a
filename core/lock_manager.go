package core

// Lock Manager (C5): shared between Track (substate-level lock state,
// reference counts) and CallFrame (frame-scoped lock handles). Flags select
// whether a lock grants write access and whether release must verify the
// base state was unchanged -- an optimistic-read mode for reentrant calls.

// LockFlags controls lock acquisition semantics.
type LockFlags uint8

const (
	// LockRead (shared) is the zero value: any number of reads may
	// coexist.
	LockRead LockFlags = 0
	// LockMutable requires write access; needed for get_ref_mut. Any
	// write lock is exclusive with every other lock on the same
	// substate.
	LockMutable LockFlags = 1 << iota
	// LockUnmodifiedBase asserts the base state must not have changed
	// between acquire and release.
	LockUnmodifiedBase
)

func (f LockFlags) mutable() bool         { return f&LockMutable != 0 }
func (f LockFlags) unmodifiedBase() bool  { return f&LockUnmodifiedBase != 0 }
func (f LockFlags) String() string {
	s := "Read"
	if f.mutable() {
		s = "Mutable"
	}
	if f.unmodifiedBase() {
		s += "|UnmodifiedBase"
	}
	return s
}

// LockHandle is a frame-scoped opaque integer identifying one held substate
// lock.
type LockHandle uint32

// substateLockState is Track's per-substate lock bookkeeping: Unlocked,
// ReadLocked(n), or WriteLocked.
type substateLockState struct {
	readers int
	write   bool
}

func (s substateLockState) isUnlocked() bool { return s.readers == 0 && !s.write }

// LockRecord captures everything a held lock needs to be released
// correctly: which node pointer and offset it locked, the flags it was
// acquired with, a snapshot of the payload for unmodified-base
// verification, and the set of child node ids made visible for the lock's
// lifetime.
type LockRecord struct {
	Handle          LockHandle // frame-scoped handle returned to the application
	trackHandle     LockHandle // Track's own handle for the same lock, when Pointer is a Store pointer
	Pointer         NodePointer
	Offset          SubstateOffset
	Flags           LockFlags
	baseSnapshot    []byte
	VisibleChildren []NodeId
}
