package core

// Call Frame (C4).
//
// One activation in the call stack: actor identity, owned heap roots,
// visible node references, held locks, and the auth zone -- one frame per
// call-stack activation, rather than one sandbox per contract address.

// NodePointer is either Heap{frame_id, root, id} (node currently in some
// frame's heap) or Store(node_id) (node is persistent).
type NodePointer struct {
	InHeap  bool
	FrameId uint64 // meaningful only when InHeap
	Root    NodeId // meaningful only when InHeap: the heap root the node lives under
	Id      NodeId
}

func HeapPointer(frameId uint64, root, id NodeId) NodePointer {
	return NodePointer{InHeap: true, FrameId: frameId, Root: root, Id: id}
}

func StorePointer(id NodeId) NodePointer {
	return NodePointer{InHeap: false, Id: id}
}

// Actor identifies who a frame executes as: resolved in kernel.go's actor
// resolution step into one of the tagged variants in actor.go.
type Actor struct {
	Variant  ActorVariant
	FnIdent  FnIdent
	Receiver *NodeId // non-nil for methods
}

// CallFrame is one activation in the call stack.
type CallFrame struct {
	Depth          int
	FrameId        uint64
	Actor          Actor
	OwnedHeapRoots map[nodeIdKey]NodeId
	NodeRefs       map[nodeIdKey]NodePointer
	HeldLocks      map[LockHandle]*LockRecord
	AuthZoneId     NodeId
	nextLockHandle LockHandle
}

// NewRootFrame builds the depth-0 frame that runs the transaction
// processor.
func NewRootFrame(frameId uint64, authZone NodeId) *CallFrame {
	return &CallFrame{
		Depth:          0,
		FrameId:        frameId,
		OwnedHeapRoots: make(map[nodeIdKey]NodeId),
		NodeRefs:       make(map[nodeIdKey]NodePointer),
		HeldLocks:      make(map[LockHandle]*LockRecord),
		AuthZoneId:     authZone,
	}
}

func newChildFrameShell(frameId uint64, depth int, actor Actor, authZone NodeId) *CallFrame {
	return &CallFrame{
		Depth:          depth,
		FrameId:        frameId,
		Actor:          actor,
		OwnedHeapRoots: make(map[nodeIdKey]NodeId),
		NodeRefs:       make(map[nodeIdKey]NodePointer),
		HeldLocks:      make(map[LockHandle]*LockRecord),
		AuthZoneId:     authZone,
	}
}

// OwnsNode reports whether id is currently an owned heap root of this
// frame.
func (f *CallFrame) OwnsNode(id NodeId) bool {
	_, ok := f.OwnedHeapRoots[id.Key()]
	return ok
}

// NewChildFromParent validates each node id in nodesToPass is owned by
// parent (else NodeNotFound), checks verifyMovable on each, removes it from
// parent's owned set, and adds it to the child's owned set. refsToPass are
// copied into the child's node-ref table unchanged.
func NewChildFromParent(
	parent *CallFrame,
	heap *Heap,
	frameId uint64,
	actor Actor,
	authZone NodeId,
	nodesToPass []NodeId,
	refsToPass []NodeId,
) (*CallFrame, error) {
	for _, id := range nodesToPass {
		if !parent.OwnsNode(id) {
			return nil, NewKernelError(ErrNodeNotFound, id.String())
		}
		if err := verifyMovable(heap, id); err != nil {
			return nil, err
		}
	}

	child := newChildFrameShell(frameId, parent.Depth+1, actor, authZone)
	for _, id := range nodesToPass {
		delete(parent.OwnedHeapRoots, id.Key())
		child.OwnedHeapRoots[id.Key()] = id
		if id.Kind == NodeProof {
			if err := restrictProof(heap, id); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range refsToPass {
		ptr, ok := parent.NodeRefs[id.Key()]
		if !ok {
			return nil, NewKernelError(ErrInvalidReferencePass, id.String())
		}
		child.NodeRefs[id.Key()] = ptr
	}
	return child, nil
}

// restrictProof marks a proof passed as a call argument as restricted: once
// it enters a callee it can no longer be cloned or passed on again, only
// used or dropped.
func restrictProof(heap *Heap, id NodeId) error {
	node, err := heap.GetMut(id)
	if err != nil {
		return err
	}
	sub, ok := node.Substates[proofOffset]
	if !ok {
		return nil
	}
	p := decodeProofState(sub.Payload)
	p.Restricted = true
	node.Substates[proofOffset] = Substate{Payload: encodeProofState(p)}
	return nil
}

// verifyMovable applies the move discipline by inspecting the node's
// Bucket::Bucket / Proof::Proof substate if present.
func verifyMovable(heap *Heap, id NodeId) error {
	node, err := heap.Get(id)
	if err != nil {
		return err
	}
	switch id.Kind {
	case NodeBucket:
		if sub, ok := node.Substates[bucketOffset]; ok {
			b := decodeBucketState(sub.Payload)
			if b.LockCount > 0 {
				return NewKernelError(ErrCantMoveLockedBucket, id.String())
			}
		}
	case NodeProof:
		if sub, ok := node.Substates[proofOffset]; ok {
			p := decodeProofState(sub.Payload)
			if p.Restricted {
				return NewKernelError(ErrCantMoveRestrictedProof, id.String())
			}
		}
	}
	return nil
}

// MoveNodesUpstream is the inverse of NewChildFromParent, used for return
// values: every id must currently belong to child's owned set.
func MoveNodesUpstream(child, parent *CallFrame, ids []NodeId) error {
	for _, id := range ids {
		if !child.OwnsNode(id) {
			return NewKernelError(ErrNodeNotFound, id.String())
		}
	}
	for _, id := range ids {
		delete(child.OwnedHeapRoots, id.Key())
		parent.OwnedHeapRoots[id.Key()] = id
	}
	return nil
}

// CopyRefs gives parent read access to globals that callee (child)
// referenced, without removing them from child.
func CopyRefs(child, parent *CallFrame, globalAddresses []NodeId) {
	for _, id := range globalAddresses {
		if ptr, ok := child.NodeRefs[id.Key()]; ok {
			parent.NodeRefs[id.Key()] = ptr
		}
	}
}

// acquireLockHandle mints a frame-scoped LockHandle and records it.
func (f *CallFrame) acquireLockHandle(ptr NodePointer, offset SubstateOffset, flags LockFlags, base Substate) LockHandle {
	f.nextLockHandle++
	h := f.nextLockHandle
	rec := &LockRecord{
		Handle:       h,
		Pointer:      ptr,
		Offset:       offset,
		Flags:        flags,
		baseSnapshot: append([]byte(nil), base.Payload...),
	}
	f.HeldLocks[h] = rec
	for _, child := range base.ChildNodeIds {
		f.NodeRefs[child.Key()] = ptr
		rec.VisibleChildren = append(rec.VisibleChildren, child)
	}
	return h
}

func (f *CallFrame) releaseLockHandle(h LockHandle) (*LockRecord, error) {
	rec, ok := f.HeldLocks[h]
	if !ok {
		return nil, NewKernelError(ErrInvalidSubstateLock, "unknown lock handle")
	}
	delete(f.HeldLocks, h)
	for _, child := range rec.VisibleChildren {
		delete(f.NodeRefs, child.Key())
	}
	return rec, nil
}

// DrainLocks returns and clears all locks so the kernel can release them in
// Track.
func (f *CallFrame) DrainLocks() []*LockRecord {
	out := make([]*LockRecord, 0, len(f.HeldLocks))
	for _, rec := range f.HeldLocks {
		out = append(out, rec)
	}
	f.HeldLocks = make(map[LockHandle]*LockRecord)
	return out
}

// DropFrame treats the frame's own auth zone as dropped with the frame and
// asserts all remaining owned nodes pass try_drop (only empty buckets, empty
// worktops, unrestricted proofs); surfaces a resource-leak error otherwise.
// It removes nothing from the heap.
func DropFrame(f *CallFrame, heap *Heap) error {
	for _, id := range f.OwnedHeapRoots {
		if id == f.AuthZoneId {
			continue
		}
		ok, err := tryDrop(heap, id)
		if err != nil {
			return err
		}
		if !ok {
			return &ResourceLeakError{Node: id}
		}
	}
	return nil
}

// tryDrop reports whether id may be legally dropped at frame end: an empty
// bucket, an empty worktop, or an unrestricted proof. Anything else
// (non-empty bucket, restricted proof, vault, component, ...) cannot be
// dropped.
func tryDrop(heap *Heap, id NodeId) (bool, error) {
	node, err := heap.Get(id)
	if err != nil {
		return false, err
	}
	switch id.Kind {
	case NodeBucket:
		if sub, ok := node.Substates[bucketOffset]; ok {
			b := decodeBucketState(sub.Payload)
			return b.Resource.IsEmpty() && b.LockCount == 0, nil
		}
		return true, nil
	case NodeWorktop:
		return len(node.Children) == 0, nil
	case NodeProof:
		if sub, ok := node.Substates[proofOffset]; ok {
			p := decodeProofState(sub.Payload)
			return !p.Restricted, nil
		}
		return true, nil
	default:
		return false, nil
	}
}
