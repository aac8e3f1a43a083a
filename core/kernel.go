package core

// Kernel Orchestrator (C8).
//
// The top-level object: validates invocation requests, moves owned nodes
// and references across the frame boundary, runs native or guest code,
// reconciles returns, drains locks. Invoke runs the 11-step invocation
// algorithm in order; most steps are inline in Invoke, and pre-checks,
// static-address registration, authorization, dispatch and lock drain are
// private methods on *Kernel. Each call gets its own frame, rather than a
// global sandbox map.

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

var kernelLog = log.WithField("component", "kernel")

const MaxCallDepth = 32

// InvocationRequest is the kernel's invoke() argument: a resolved function
// identifier plus an encoded payload that may reference owned nodes (by id)
// and global addresses.
type InvocationRequest struct {
	Actor    Actor
	Payload  InvocationPayload
}

// InvocationPayload is the decoded argument scan result: which owned node
// ids the payload moves, which global addresses it references, and the
// opaque application payload itself.
type InvocationPayload struct {
	MovedNodes  []NodeId
	GlobalRefs  []NodeId // Global node ids referenced
	AppPayload  []byte
}

// InvocationResult is what an actor handler returns: an application payload
// plus the owned nodes / global refs it returns upstream.
type InvocationResult struct {
	MovedNodes []NodeId
	GlobalRefs []NodeId
	AppPayload []byte
}

// Kernel is the per-transaction execution kernel.
type Kernel struct {
	TxHash    [32]byte
	Ids       *IdAllocator
	Heap      *Heap
	Track     *Track
	Cost      *CostMeter
	Auth      *AuthModule
	Mode      *ModeGuard
	Natives   *NativeDispatchTable
	Guest     Interpreter

	frames    []*CallFrame
	nextFrame uint64

	// wellKnownGlobals are the static addresses unconditionally visible at
	// depth 0: native resources, native packages.
	wellKnownGlobals map[nodeIdKey]NodePointer

	blobs map[[32]byte][]byte

	events []Event
	logs   []LogEntry

	virtualSigners VirtualSignerSet
}

// Event is one emit_event record, distinct from the plainer emit_log.
type Event struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

// LogEntry is one emit_log record.
type LogEntry struct {
	Level string `json:"level"`
	Data  []byte `json:"data"`
}

// Interpreter is the kernel-facing contract for the guest bytecode
// sandbox: it runs a compiled package export and reenters the kernel for
// syscalls through the *Kernel it is given. The wasmer-backed
// implementation lives in package guest.
type Interpreter interface {
	Run(pkg []byte, export string, args []byte, k *Kernel) ([]byte, uint64, error)
}

// NewKernel constructs the kernel for one transaction, seeded with the
// transaction hash, a fresh heap/track, and the native dispatch table.
func NewKernel(txHash [32]byte, store SubstateStore, natives *NativeDispatchTable, guest Interpreter) *Kernel {
	track := NewTrack(store)
	return &Kernel{
		TxHash:           txHash,
		Ids:              NewIdAllocator(txHash),
		Heap:             NewHeap(),
		Track:            track,
		Cost:             NewCostMeter(track),
		Auth:             NewAuthModule(),
		Mode:             NewModeGuard(),
		Natives:          natives,
		Guest:            guest,
		wellKnownGlobals: make(map[nodeIdKey]NodePointer),
		blobs:            make(map[[32]byte][]byte),
	}
}

// RegisterWellKnownGlobal marks addr as unconditionally visible at depth 0:
// native resources (XRD) and native packages.
func (k *Kernel) RegisterWellKnownGlobal(id NodeId, ptr NodePointer) {
	k.wellKnownGlobals[id.Key()] = ptr
}

func (k *Kernel) RegisterBlob(hash [32]byte, data []byte) { k.blobs[hash] = data }

func (k *Kernel) currentFrame() *CallFrame { return k.frames[len(k.frames)-1] }

// VirtualSigners returns the set of resource addresses virtually proved by
// the transaction's presented signatures (see DeriveVirtualSigners),
// consulted by every access-rule evaluation alongside the auth zone's
// explicit proofs.
func (k *Kernel) VirtualSigners() VirtualSignerSet { return k.virtualSigners }

// PushRootFrame creates the root frame (depth 0), populates the auth zone
// from presented proofs, then the caller invokes the transaction processor
// blueprint. genesisReserve seeds the fee reserve against the auth zone
// node before any instruction runs, so the first metered API call has a
// reserve to draw against; 0 leaves the reserve unseeded, requiring an
// explicit lock_fee before any cost-bearing call. sigs, if present, are
// verified against TxHash and folded into VirtualSigners before the
// transaction processor runs.
func (k *Kernel) PushRootFrame(authZoneProofs []ProofState, genesisReserve uint64, sigs ...TransactionSignature) (*CallFrame, error) {
	k.virtualSigners = DeriveVirtualSigners(k.TxHash, sigs)
	authZoneId, err := k.Ids.NewAuthZoneId()
	if err != nil {
		return nil, err
	}
	if err := k.Heap.Create(authZoneId, newHeapNode()); err != nil {
		return nil, err
	}
	var proofIds []NodeId
	for _, p := range authZoneProofs {
		pid, err := k.Ids.NewProofId()
		if err != nil {
			return nil, err
		}
		node := newHeapNode()
		node.Substates[proofOffset] = Substate{Payload: encodeProofState(p)}
		if err := k.Heap.Create(pid, node); err != nil {
			return nil, err
		}
		proofIds = append(proofIds, pid)
	}
	az := AuthZoneState{Proofs: proofIds}
	azNode, _ := k.Heap.Get(authZoneId)
	azNode.Substates[authZoneOffset] = Substate{Payload: mustJSON(az)}

	k.nextFrame++
	root := NewRootFrame(k.nextFrame, authZoneId)
	root.OwnedHeapRoots[authZoneId.Key()] = authZoneId
	for _, pid := range proofIds {
		root.OwnedHeapRoots[pid.Key()] = pid
	}
	k.frames = append(k.frames, root)
	for id, ptr := range k.wellKnownGlobals {
		root.NodeRefs[id] = ptr
		_ = ptr
	}
	if genesisReserve > 0 {
		if err := k.Track.LockFee(authZoneId, genesisReserve, false); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// Invoke runs the 11-step invocation algorithm.
func (k *Kernel) Invoke(req InvocationRequest) (InvocationResult, error) {
	// Step 1: pre-checks.
	if err := k.preChecks(); err != nil {
		return InvocationResult{}, err
	}

	caller := k.currentFrame()

	// Step 2: argument scan already performed by the caller into req.Payload;
	// verify owned nodes are actually owned by the current frame.
	for _, id := range req.Payload.MovedNodes {
		if !caller.OwnsNode(id) {
			return InvocationResult{}, NewKernelError(ErrNodeNotFound, id.String())
		}
	}

	// Steps 3/4: reference pass-through.
	if caller.Depth == 0 {
		if err := k.registerStaticAddresses(caller, req.Payload.GlobalRefs); err != nil {
			return InvocationResult{}, err
		}
	} else {
		for _, g := range req.Payload.GlobalRefs {
			if _, ok := caller.NodeRefs[g.Key()]; !ok {
				return InvocationResult{}, NewKernelError(ErrInvalidReferencePass, g.String())
			}
		}
	}

	// Step 5: actor resolution is assumed done by the caller (req.Actor); a
	// method receiver is dereferenced here if it is Global.
	actor := req.Actor
	if actor.Receiver != nil && actor.Receiver.Kind == NodeGlobal {
		local, err := k.derefGlobal(*actor.Receiver)
		if err != nil {
			return InvocationResult{}, err
		}
		actor.Receiver = &local
	}

	// Step 6: authorization.
	if err := k.checkAuthorization(caller, actor); err != nil {
		return InvocationResult{}, err
	}

	if err := k.Cost.Charge(ApiInvoke, len(req.Payload.AppPayload)); err != nil {
		return InvocationResult{}, err
	}

	// Step 7: build child frame.
	mark := k.Track.snapshotMark()
	k.nextFrame++
	childAuthZoneId, err := k.Ids.NewAuthZoneId()
	if err != nil {
		return InvocationResult{}, err
	}
	if err := k.Heap.Create(childAuthZoneId, newHeapNode()); err != nil {
		return InvocationResult{}, err
	}
	child, err := NewChildFromParent(caller, k.Heap, k.nextFrame, actor, childAuthZoneId, req.Payload.MovedNodes, req.Payload.GlobalRefs)
	if err != nil {
		k.Track.truncateTo(mark)
		return InvocationResult{}, err
	}
	child.OwnedHeapRoots[childAuthZoneId.Key()] = childAuthZoneId
	k.frames = append(k.frames, child)

	// Step 8: execute.
	result, execErr := k.dispatch(actor, req.Payload.AppPayload)

	if execErr != nil {
		k.unwindChild(child)
		k.Track.truncateTo(mark)
		return InvocationResult{}, execErr
	}

	// Step 9: return handling.
	if err := MoveNodesUpstream(child, caller, result.MovedNodes); err != nil {
		k.unwindChild(child)
		k.Track.truncateTo(mark)
		return InvocationResult{}, err
	}
	CopyRefs(child, caller, result.GlobalRefs)
	if err := DropFrame(child, k.Heap); err != nil {
		k.unwindChild(child)
		k.Track.truncateTo(mark)
		return InvocationResult{}, err
	}

	// Step 10: lock drain.
	k.drainFrameLocks(child)

	k.frames = k.frames[:len(k.frames)-1]

	// Step 11: post-sys-call hooks -- cost modules observe the return.
	kernelLog.WithField("actor", actor.FnIdent.String()).WithField("depth", child.Depth).Debug("invoke returned")

	return result, nil
}

func (k *Kernel) preChecks() error {
	if len(k.frames) >= MaxCallDepth {
		return NewKernelError(ErrMaxCallDepthLimitReached, "")
	}
	return nil
}

// registerStaticAddresses validates root-frame global references by
// touching them (read-acquire + release).
func (k *Kernel) registerStaticAddresses(root *CallFrame, refs []NodeId) error {
	for _, g := range refs {
		if _, ok := k.wellKnownGlobals[g.Key()]; ok {
			continue
		}
		local, err := k.derefGlobal(g)
		if err != nil {
			return err
		}
		h, sub, err := k.Track.AcquireLock(SubstateId{Node: local, Offset: globalOffset}, LockRead, true)
		if err != nil {
			root.NodeRefs[g.Key()] = StorePointer(local)
			continue
		}
		rec := &LockRecord{trackHandle: h, Offset: globalOffset, Flags: LockRead, baseSnapshot: sub.Payload}
		_ = k.Track.ReleaseLock(rec)
		root.NodeRefs[g.Key()] = StorePointer(local)
	}
	return nil
}

// derefGlobal resolves a Global node id to its underlying local node id by
// reading the Global substate, which names the local node it indirects to.
func (k *Kernel) derefGlobal(global NodeId) (NodeId, error) {
	if err := k.Mode.Enter(ModeDeref); err != nil {
		return NodeId{}, err
	}
	defer k.Mode.Enter(ModeKernel)

	sub, present, err := k.Track.store.Get(SubstateId{Node: global, Offset: globalOffset})
	if err != nil {
		return NodeId{}, WrapKernelError(ErrGlobalAddressNotFound, global.String(), err)
	}
	if !present {
		return NodeId{}, NewKernelError(ErrGlobalAddressNotFound, global.String())
	}
	var target NodeId
	if err := json.Unmarshal(sub.Payload, &target); err != nil {
		return NodeId{}, WrapKernelError(ErrDecodeError, "global substate", err)
	}
	return target, nil
}

// checkAuthorization runs the authorization module. Function invocations
// pass unconditionally; a method on a component receiver is checked against
// the method rules in its Component::Info substate, read from the heap or,
// for a globalized component, from Track. Methods on other receiver kinds
// pass.
func (k *Kernel) checkAuthorization(caller *CallFrame, actor Actor) error {
	if actor.Variant == ActorNativeFunction || actor.Variant == ActorScryptoFunction {
		return nil
	}
	if actor.Receiver == nil {
		return NewKernelError(ErrMethodIdentNotFound, actor.FnIdent.String())
	}
	if actor.Receiver.Kind != NodeComponent {
		return nil
	}
	var sub Substate
	if node, err := k.Heap.Get(*actor.Receiver); err == nil {
		var ok bool
		if sub, ok = node.Substates[componentInfoOff]; !ok {
			return nil
		}
	} else {
		stored, err := k.Track.ReadSubstate(SubstateId{Node: *actor.Receiver, Offset: componentInfoOff})
		if err != nil || len(stored.Payload) == 0 {
			return nil
		}
		sub = stored
	}
	info := decodeComponentInfo(sub.Payload)
	proofs := k.collectProofs(caller)
	if err := k.Mode.Enter(ModeAuthModule); err != nil {
		return err
	}
	defer k.Mode.Enter(ModeKernel)
	return k.Auth.CheckMethod(info, actor.FnIdent.Function, proofs, k.virtualSigners)
}

// CallerProofs exposes the invoking frame's auth-zone proofs to a native
// handler, which only ever sees (*Kernel, receiver, args) and has no
// *CallFrame of its own to pass to collectProofs. By the time dispatch runs
// a native handler, Invoke has already pushed this call's own (empty) child
// frame (step 7), so the caller's proofs sit one frame below the top of the
// stack. Used by blueprints like ResourceManager whose mint/burn policy is
// not gated by the Component::Info method-rule path checkAuthorization
// already covers.
func (k *Kernel) CallerProofs() []ProofState {
	if len(k.frames) < 2 {
		return nil
	}
	return k.collectProofs(k.frames[len(k.frames)-2])
}

func (k *Kernel) collectProofs(f *CallFrame) []ProofState {
	azNode, err := k.Heap.Get(f.AuthZoneId)
	if err != nil {
		return nil
	}
	sub, ok := azNode.Substates[authZoneOffset]
	if !ok {
		return nil
	}
	var az AuthZoneState
	_ = json.Unmarshal(sub.Payload, &az)
	var out []ProofState
	for _, pid := range az.Proofs {
		pn, err := k.Heap.Get(pid)
		if err != nil {
			continue
		}
		if psub, ok := pn.Substates[proofOffset]; ok {
			out = append(out, decodeProofState(psub.Payload))
		}
	}
	return out
}

// dispatch runs the resolved actor: native handler or guest interpreter.
// Guest execution communicates back through the same kernel API
// (recursive invocation) -- modeled as an ordinary function call, never a
// suspension.
func (k *Kernel) dispatch(actor Actor, payload []byte) (InvocationResult, error) {
	if err := k.Mode.Enter(ModeApplication); err != nil {
		return InvocationResult{}, err
	}
	defer k.Mode.Enter(ModeKernel)

	switch actor.Variant {
	case ActorNativeFunction:
		h, ok := k.Natives.LookupFunction(actor.FnIdent.Blueprint, actor.FnIdent.Function)
		if !ok {
			return InvocationResult{}, NewKernelError(ErrMethodIdentNotFound, actor.FnIdent.String())
		}
		out, err := h(k, payload)
		if err != nil {
			return InvocationResult{}, WrapKernelError(ErrInvokeError, actor.FnIdent.String(), err)
		}
		return InvocationResult{AppPayload: out, MovedNodes: nativeReturnedNode(k, out)}, nil
	case ActorNativeMethod:
		h, ok := k.Natives.LookupMethod(actor.FnIdent.Blueprint, actor.FnIdent.Function)
		if !ok {
			return InvocationResult{}, NewKernelError(ErrMethodIdentNotFound, actor.FnIdent.String())
		}
		out, err := h(k, *actor.Receiver, payload)
		if err != nil {
			return InvocationResult{}, WrapKernelError(ErrInvokeError, actor.FnIdent.String(), err)
		}
		return InvocationResult{AppPayload: out, MovedNodes: nativeReturnedNode(k, out)}, nil
	case ActorScryptoFunction, ActorScryptoMethod:
		if k.Guest == nil {
			return InvocationResult{}, NewKernelError(ErrInvokeError, "no guest interpreter configured")
		}
		pkgBytes, err := k.loadPackageBytecode(actor)
		if err != nil {
			return InvocationResult{}, err
		}
		if err := k.Mode.Enter(ModeScryptoInterpreter); err != nil {
			return InvocationResult{}, err
		}
		out, gasUsed, err := k.Guest.Run(pkgBytes, actor.FnIdent.Function, payload, k)
		k.Mode.Enter(ModeApplication)
		if err != nil {
			return InvocationResult{}, WrapKernelError(ErrInvokeError, actor.FnIdent.String(), err)
		}
		if err := k.Cost.ChargeGuest(gasUsed); err != nil {
			return InvocationResult{}, err
		}
		return InvocationResult{AppPayload: out}, nil
	default:
		return InvocationResult{}, NewKernelError(ErrMethodIdentNotFound, "unknown actor variant")
	}
}

// nativeReturnedNode recognizes the convention every native handler that
// creates and returns an owned node (a bucket, typically) follows: the
// return payload is that node's NodeId, JSON-marshaled, and nothing else.
// Step 9 of Invoke only moves nodes named in InvocationResult.MovedNodes, so
// without this a handler-created bucket would stay stranded in the
// just-finished call's child frame and fail DropFrame's non-empty-bucket
// check. A payload that doesn't decode to a NodeId the child frame currently
// owns is ordinary application data, not a moved node.
func nativeReturnedNode(k *Kernel, out []byte) []NodeId {
	var id NodeId
	if err := json.Unmarshal(out, &id); err != nil {
		return nil
	}
	child := k.currentFrame()
	if _, owned := child.OwnedHeapRoots[id.Key()]; !owned {
		return nil
	}
	return []NodeId{id}
}

func (k *Kernel) loadPackageBytecode(actor Actor) ([]byte, error) {
	pkgId, ok := decodePackageNodeId(actor.FnIdent.PackageOrNative)
	if !ok {
		return nil, NewKernelError(ErrMethodIdentNotFound, "malformed package reference")
	}
	h, sub, err := k.Track.AcquireLock(SubstateId{Node: pkgId, Offset: packageOffset}, LockRead, true)
	if err != nil {
		return nil, err
	}
	defer k.Track.ReleaseLock(&LockRecord{trackHandle: h, Offset: packageOffset, Flags: LockRead, baseSnapshot: sub.Payload})
	return sub.Payload, nil
}

// unwindChild discards the child frame's owned nodes and releases the
// child frame's locks without applying its buffered writes.
func (k *Kernel) unwindChild(child *CallFrame) {
	for _, id := range child.OwnedHeapRoots {
		k.Heap.Remove(id)
	}
	k.drainFrameLocks(child)
	k.frames = k.frames[:len(k.frames)-1]
}

func (k *Kernel) drainFrameLocks(f *CallFrame) {
	for _, rec := range f.DrainLocks() {
		if err := k.Track.ReleaseLock(rec); err != nil {
			kernelLog.WithError(err).Warn("lock release failed during drain")
		}
	}
}

// LockSubstate implements the lock_substate kernel API.
func (k *Kernel) LockSubstate(nodeId NodeId, offset SubstateOffset, flags LockFlags) (LockHandle, error) {
	if err := k.Mode.RequireApplication(); err != nil {
		return 0, err
	}
	if err := k.Cost.Charge(ApiLockSubstate, 0); err != nil {
		return 0, err
	}
	f := k.currentFrame()
	ptr, ok := f.NodeRefs[nodeId.Key()]
	if !ok {
		if f.OwnsNode(nodeId) {
			ptr = HeapPointer(f.FrameId, nodeId, nodeId)
		} else {
			return 0, NewKernelError(ErrInvalidSubstateLock, nodeId.String())
		}
	}
	if ptr.InHeap {
		node, err := k.Heap.Get(nodeId)
		if err != nil {
			return 0, err
		}
		sub, present := node.Substates[offset]
		if !present && offset.isEntryClass() {
			sub = Substate{}
		}
		return f.acquireLockHandle(ptr, offset, flags, sub), nil
	}
	h, sub, err := k.Track.AcquireLock(SubstateId{Node: nodeId, Offset: offset}, flags, !offset.isEntryClass())
	if err != nil {
		return 0, err
	}
	rec := f.acquireLockHandle(ptr, offset, flags, sub)
	f.HeldLocks[rec].trackHandle = h
	return rec, nil
}

// Locks the kernel itself takes and drops within a single step
// (registerStaticAddresses, loadPackageBytecode) go straight through
// Track.AcquireLock / Track.ReleaseLock and are never exposed as a
// frame-scoped LockHandle.

// DropLock implements drop_lock.
func (k *Kernel) DropLock(h LockHandle) error {
	if err := k.Cost.Charge(ApiDropLock, 0); err != nil {
		return err
	}
	f := k.currentFrame()
	rec, err := f.releaseLockHandle(h)
	if err != nil {
		return err
	}
	if !rec.Pointer.InHeap {
		return k.Track.ReleaseLock(rec)
	}
	return nil
}

// GetRef implements get_ref: a read view over the locked substate.
func (k *Kernel) GetRef(h LockHandle) ([]byte, error) {
	if err := k.Cost.Charge(ApiReadSubstate, 0); err != nil {
		return nil, err
	}
	f := k.currentFrame()
	rec, ok := f.HeldLocks[h]
	if !ok {
		return nil, NewKernelError(ErrInvalidSubstateLock, "unknown lock handle")
	}
	if rec.Pointer.InHeap {
		node, err := k.Heap.Get(rec.Pointer.Id)
		if err != nil {
			return nil, err
		}
		return node.Substates[rec.Offset].Payload, nil
	}
	sub, err := k.Track.ReadSubstate(SubstateId{Node: rec.Pointer.Id, Offset: rec.Offset})
	if err != nil {
		return nil, err
	}
	return sub.Payload, nil
}

// GetRefMut implements get_ref_mut: requires MUTABLE.
func (k *Kernel) GetRefMut(h LockHandle) ([]byte, error) {
	f := k.currentFrame()
	rec, ok := f.HeldLocks[h]
	if !ok {
		return nil, NewKernelError(ErrInvalidSubstateLock, "unknown lock handle")
	}
	if !rec.Flags.mutable() {
		return nil, NewKernelError(ErrLockNotMutable, "")
	}
	return k.GetRef(h)
}

// WriteSubstate implements the write half of get_ref_mut (the caller reads
// via GetRefMut, mutates the decoded struct, then calls WriteSubstate to
// commit the new payload back through the same lock).
func (k *Kernel) WriteSubstate(h LockHandle, payload []byte) error {
	if err := k.Cost.Charge(ApiWriteSubstate, len(payload)); err != nil {
		return err
	}
	f := k.currentFrame()
	rec, ok := f.HeldLocks[h]
	if !ok {
		return NewKernelError(ErrInvalidSubstateLock, "unknown lock handle")
	}
	if !rec.Flags.mutable() {
		return NewKernelError(ErrLockNotMutable, "")
	}
	if rec.Pointer.InHeap {
		node, err := k.Heap.Get(rec.Pointer.Id)
		if err != nil {
			return err
		}
		node.Substates[rec.Offset] = Substate{Payload: payload}
		return nil
	}
	return k.Track.WriteSubstate(SubstateId{Node: rec.Pointer.Id, Offset: rec.Offset}, Substate{Payload: payload})
}

// CreateNode implements create_node.
func (k *Kernel) CreateNode(id NodeId, node *HeapNode) error {
	if err := k.Cost.Charge(ApiCreateNode, 0); err != nil {
		return err
	}
	if err := k.Heap.Create(id, node); err != nil {
		return err
	}
	k.currentFrame().OwnedHeapRoots[id.Key()] = id
	return nil
}

// DropNode implements drop_node.
func (k *Kernel) DropNode(id NodeId) (*HeapNode, error) {
	if err := k.Cost.Charge(ApiDropNode, 0); err != nil {
		return nil, err
	}
	f := k.currentFrame()
	if !f.OwnsNode(id) {
		return nil, NewKernelError(ErrNodeNotOwned, id.String())
	}
	ok, err := tryDrop(k.Heap, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ResourceLeakError{Node: id}
	}
	delete(f.OwnedHeapRoots, id.Key())
	return k.Heap.Remove(id)
}

// Globalize implements globalize: promotes a local node to a Global
// address.
func (k *Kernel) Globalize(id NodeId) (GlobalAddress, error) {
	if err := k.Mode.Enter(ModeGlobalize); err != nil {
		return GlobalAddress{}, err
	}
	defer k.Mode.Enter(ModeKernel)
	if err := k.Cost.Charge(ApiGlobalize, 0); err != nil {
		return GlobalAddress{}, err
	}
	switch id.Kind {
	case NodeComponent, NodePackage, NodeResourceManager, NodeSystem:
	default:
		return GlobalAddress{}, NewKernelError(ErrRENodeGlobalizeTypeNotAllowed, id.Kind.String())
	}
	f := k.currentFrame()
	if !f.OwnsNode(id) {
		return GlobalAddress{}, NewKernelError(ErrNodeNotOwned, id.String())
	}
	addr := k.Ids.GlobalAddressFor(id)
	delete(f.OwnedHeapRoots, id.Key())
	if err := k.Heap.moveToStore(k.Track, id); err != nil {
		return GlobalAddress{}, err
	}
	globalNode := NodeId{Kind: NodeGlobal, Address: addr.Address}
	k.Track.putSubstate(SubstateId{Node: globalNode, Offset: globalOffset}, Substate{Payload: mustJSON(id)})
	f.NodeRefs[globalNode.Key()] = StorePointer(id)
	return addr, nil
}

// GetVisibleNodeIds implements get_visible_node_ids.
func (k *Kernel) GetVisibleNodeIds() []NodeId {
	f := k.currentFrame()
	out := make([]NodeId, 0, len(f.OwnedHeapRoots)+len(f.NodeRefs))
	for _, id := range f.OwnedHeapRoots {
		out = append(out, id)
	}
	for _, ptr := range f.NodeRefs {
		out = append(out, ptr.Id)
	}
	return out
}

// ReadTransactionHash implements read_transaction_hash.
func (k *Kernel) ReadTransactionHash() ([32]byte, error) {
	if err := k.Cost.Charge(ApiReadTxHash, 0); err != nil {
		return [32]byte{}, err
	}
	return k.TxHash, nil
}

// ReadBlob implements read_blob.
func (k *Kernel) ReadBlob(hash [32]byte) ([]byte, error) {
	if err := k.Cost.Charge(ApiReadBlob, 0); err != nil {
		return nil, err
	}
	b, ok := k.blobs[hash]
	if !ok {
		return nil, NewKernelError(ErrBlobNotFound, "")
	}
	return b, nil
}

// GenerateUUID implements generate_uuid.
func (k *Kernel) GenerateUUID() ([16]byte, error) {
	if err := k.Cost.Charge(ApiGenerateUUID, 0); err != nil {
		return [16]byte{}, err
	}
	return k.Ids.NewUUID()
}

// EmitLog implements emit_log.
func (k *Kernel) EmitLog(level string, message []byte) error {
	if err := k.Cost.Charge(ApiEmitLog, len(message)); err != nil {
		return err
	}
	k.logs = append(k.logs, LogEntry{Level: level, Data: message})
	return nil
}

// EmitEvent implements the emit_event kernel API.
func (k *Kernel) EmitEvent(eventType string, payload []byte) error {
	if err := k.Cost.Charge(ApiEmitEvent, len(payload)); err != nil {
		return err
	}
	k.events = append(k.events, Event{Type: eventType, Payload: payload})
	return nil
}

// LockFee implements lock_fee: locks amount from vaultId's balance into the
// fee reserve, contingent portions refunding on failure.
func (k *Kernel) LockFee(vaultId NodeId, amount uint64, contingent bool) error {
	return k.Track.LockFee(vaultId, amount, contingent)
}

// ConsumeCostUnits implements consume_cost_units.
func (k *Kernel) ConsumeCostUnits(n uint64) error {
	return k.Track.ConsumeCost(n)
}

func decodePackageNodeId(s string) (NodeId, bool) {
	// PackageOrNative carries the package NodeId's JSON encoding for
	// Scrypto actors (see actor.go's FnIdent doc comment).
	var id NodeId
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return NodeId{}, false
	}
	return id, true
}
