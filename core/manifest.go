package core

// Transaction manifest surface and the transaction processor that executes
// it through the kernel API. The kernel accepts a pre-parsed instruction
// sequence; text-manifest parsing itself is a separate, out-of-scope
// collaborator.
//
// The Receipt shape generalizes "one dispatch call" to "a sequence of
// manifest instructions executed against a root frame with a worktop and
// auth zone."

import (
	"encoding/json"
)

// InstructionKind enumerates the manifest instruction set.
type InstructionKind string

const (
	InsTakeFromWorktopByAmount InstructionKind = "TakeFromWorktopByAmount"
	InsTakeFromWorktopByIds    InstructionKind = "TakeFromWorktopByIds"
	InsReturnToWorktop         InstructionKind = "ReturnToWorktop"
	InsAssertWorktopContains   InstructionKind = "AssertWorktopContains"
	InsPopFromAuthZone         InstructionKind = "PopFromAuthZone"
	InsPushToAuthZone          InstructionKind = "PushToAuthZone"
	InsCreateProofFromBucket   InstructionKind = "CreateProofFromBucket"
	InsCreateProofFromAuthZone InstructionKind = "CreateProofFromAuthZone"
	InsClearAuthZone           InstructionKind = "ClearAuthZone"
	InsDropAllProofs           InstructionKind = "DropAllProofs"
	InsCallFunction            InstructionKind = "CallFunction"
	InsCallMethod              InstructionKind = "CallMethod"
	InsCallNativeFunction      InstructionKind = "CallNativeFunction"
	InsCallNativeMethod        InstructionKind = "CallNativeMethod"
	InsPublishPackageWithOwner InstructionKind = "PublishPackageWithOwner"
	InsCreateResource          InstructionKind = "CreateResource"
	InsBurnBucket              InstructionKind = "BurnBucket"
	InsMintFungible            InstructionKind = "MintFungible"
)

// Instruction is one manifest step. Only the fields relevant to Kind are
// populated; unused fields are left zero.
type Instruction struct {
	Kind InstructionKind `json:"kind"`

	ResourceAddress ResourceAddress `json:"resource_address,omitempty"`
	Amount          uint64          `json:"amount,omitempty"`
	Ids             []string        `json:"ids,omitempty"`

	BucketLabel string `json:"bucket_label,omitempty"`
	ProofLabel  string `json:"proof_label,omitempty"`

	ComponentAddress GlobalAddress `json:"component_address,omitempty"`
	PackageAddress   GlobalAddress `json:"package_address,omitempty"`
	Blueprint        string        `json:"blueprint,omitempty"`
	Method           string        `json:"method,omitempty"`
	Function         string        `json:"function,omitempty"`
	NativeName       string        `json:"native_name,omitempty"`

	Args []byte `json:"args,omitempty"`

	Fungible     bool   `json:"fungible,omitempty"`
	Divisibility uint8  `json:"divisibility,omitempty"`
	MintRule     AccessRule `json:"mint_rule,omitempty"`
	BurnRule     AccessRule `json:"burn_rule,omitempty"`
	WithdrawRule AccessRule `json:"withdraw_rule,omitempty"`
	DepositRule  AccessRule `json:"deposit_rule,omitempty"`
}

// Receipt is the transaction outcome: the first error becomes the
// transaction outcome, recorded alongside fee settlement.
type Receipt struct {
	Status      bool
	Error       error
	ReturnData  [][]byte
	Logs        []LogEntry
	Events      []Event
	FeePaid     uint64
	FeeRefunded uint64
}

// TransactionProcessor executes a parsed manifest against a kernel's root
// frame: it owns the worktop and the bucket/proof label registries a text
// manifest would otherwise resolve by name.
type TransactionProcessor struct {
	k         *Kernel
	root      *CallFrame
	worktopId NodeId
	slots     map[ResourceAddress]NodeId // resource address -> bucket node id currently on the worktop
	buckets   map[string]NodeId
	proofs    map[string]NodeId
}

// NewTransactionProcessor creates the worktop and binds to the kernel's
// already-pushed root frame.
func NewTransactionProcessor(k *Kernel, root *CallFrame) (*TransactionProcessor, error) {
	worktopId, err := k.Ids.NewVaultId() // worktop reuses the hashed-id scheme; kind tag distinguishes it
	if err != nil {
		return nil, err
	}
	worktopId.Kind = NodeWorktop
	if err := k.Heap.Create(worktopId, newHeapNode()); err != nil {
		return nil, err
	}
	root.OwnedHeapRoots[worktopId.Key()] = worktopId
	return &TransactionProcessor{
		k: k, root: root, worktopId: worktopId,
		slots:   make(map[ResourceAddress]NodeId),
		buckets: make(map[string]NodeId),
		proofs:  make(map[string]NodeId),
	}, nil
}

func (p *TransactionProcessor) depositToWorktop(bucketId NodeId, res Resource) error {
	existing, ok := p.slots[res.Address]
	if !ok {
		if err := p.k.Heap.AttachChildren([]NodeId{bucketId}, p.worktopId); err != nil {
			return err
		}
		p.slots[res.Address] = bucketId
		p.root.OwnedHeapRoots[bucketId.Key()] = bucketId
		return nil
	}
	// Merge into the existing worktop slot bucket and drop the incoming one.
	existingNode, err := p.k.Heap.Get(existing)
	if err != nil {
		return err
	}
	existingState := decodeBucketState(existingNode.Substates[bucketOffset].Payload)
	if err := existingState.Resource.put(res); err != nil {
		return err
	}
	existingNode.Substates[bucketOffset] = Substate{Payload: encodeBucketState(existingState)}
	delete(p.root.OwnedHeapRoots, bucketId.Key())
	_, err = p.k.Heap.Remove(bucketId)
	return err
}

// retireSlotIfEmpty drops a worktop slot bucket once its resource is fully
// withdrawn, so the worktop's child set (and therefore tryDrop's emptiness
// check) reflects the true balance rather than a zero-balance husk.
func (p *TransactionProcessor) retireSlotIfEmpty(addr ResourceAddress, bucketId NodeId, resource Resource) error {
	if !resource.IsEmpty() {
		return nil
	}
	worktopNode, err := p.k.Heap.Get(p.worktopId)
	if err != nil {
		return err
	}
	delete(worktopNode.Children, bucketId.Key())
	delete(p.slots, addr)
	delete(p.root.OwnedHeapRoots, bucketId.Key())
	_, err = p.k.Heap.Remove(bucketId)
	return err
}

// execTakeAmount implements TAKE_FROM_WORKTOP_BY_AMOUNT: splits `amount`
// units of the resource currently on the worktop into a fresh bucket bound
// to BucketLabel.
func (p *TransactionProcessor) execTakeAmount(ins Instruction) error {
	slotId, ok := p.slots[ins.ResourceAddress]
	if !ok {
		return NewKernelError(ErrValueNotAllowed, "resource not present on worktop")
	}
	node, err := p.k.Heap.Get(slotId)
	if err != nil {
		return err
	}
	state := decodeBucketState(node.Substates[bucketOffset].Payload)
	taken, err := state.Resource.takeAmount(ins.Amount)
	if err != nil {
		return err
	}
	node.Substates[bucketOffset] = Substate{Payload: encodeBucketState(state)}
	if err := p.retireSlotIfEmpty(ins.ResourceAddress, slotId, state.Resource); err != nil {
		return err
	}

	bucketId, err := p.k.Ids.NewBucketId()
	if err != nil {
		return err
	}
	bucketNode := newHeapNode()
	bucketNode.Substates[bucketOffset] = Substate{Payload: encodeBucketState(BucketState{Resource: taken})}
	if err := p.k.Heap.Create(bucketId, bucketNode); err != nil {
		return err
	}
	p.root.OwnedHeapRoots[bucketId.Key()] = bucketId
	p.buckets[ins.BucketLabel] = bucketId
	return nil
}

func (p *TransactionProcessor) execTakeIds(ins Instruction) error {
	slotId, ok := p.slots[ins.ResourceAddress]
	if !ok {
		return NewKernelError(ErrValueNotAllowed, "resource not present on worktop")
	}
	node, err := p.k.Heap.Get(slotId)
	if err != nil {
		return err
	}
	state := decodeBucketState(node.Substates[bucketOffset].Payload)
	taken, err := state.Resource.takeIds(ins.Ids)
	if err != nil {
		return err
	}
	node.Substates[bucketOffset] = Substate{Payload: encodeBucketState(state)}
	if err := p.retireSlotIfEmpty(ins.ResourceAddress, slotId, state.Resource); err != nil {
		return err
	}

	bucketId, err := p.k.Ids.NewBucketId()
	if err != nil {
		return err
	}
	bucketNode := newHeapNode()
	bucketNode.Substates[bucketOffset] = Substate{Payload: encodeBucketState(BucketState{Resource: taken})}
	if err := p.k.Heap.Create(bucketId, bucketNode); err != nil {
		return err
	}
	p.root.OwnedHeapRoots[bucketId.Key()] = bucketId
	p.buckets[ins.BucketLabel] = bucketId
	return nil
}

func (p *TransactionProcessor) execReturnToWorktop(ins Instruction) error {
	bucketId, ok := p.buckets[ins.BucketLabel]
	if !ok {
		return NewKernelError(ErrNodeNotFound, ins.BucketLabel)
	}
	node, err := p.k.Heap.Get(bucketId)
	if err != nil {
		return err
	}
	state := decodeBucketState(node.Substates[bucketOffset].Payload)
	delete(p.buckets, ins.BucketLabel)
	return p.depositToWorktop(bucketId, state.Resource)
}

func (p *TransactionProcessor) execAssertWorktopContains(ins Instruction) error {
	slotId, ok := p.slots[ins.ResourceAddress]
	if !ok {
		if ins.Amount > 0 || len(ins.Ids) > 0 {
			return NewKernelError(ErrValueNotAllowed, "worktop assertion failed: resource absent")
		}
		return nil
	}
	node, _ := p.k.Heap.Get(slotId)
	state := decodeBucketState(node.Substates[bucketOffset].Payload)
	if state.Resource.Fungible {
		if state.Resource.Amount < ins.Amount {
			return NewKernelError(ErrValueNotAllowed, "worktop assertion failed: amount too low")
		}
		return nil
	}
	have := make(map[string]bool, len(state.Resource.NFIds))
	for _, id := range state.Resource.NFIds {
		have[id] = true
	}
	for _, id := range ins.Ids {
		if !have[id] {
			return NewKernelError(ErrValueNotAllowed, "worktop assertion failed: id missing "+id)
		}
	}
	return nil
}

func (p *TransactionProcessor) execCallMethod(ins Instruction) ([]byte, error) {
	receiverLocal, err := p.k.derefGlobal(NodeId{Kind: NodeGlobal, Address: ins.ComponentAddress.Address})
	if err != nil {
		return nil, err
	}
	moved, globalRefs := p.movedAndRefsFromBucketArg(ins)
	req := InvocationRequest{
		Actor: Actor{
			Variant:  ActorScryptoMethod,
			FnIdent:  FnIdent{PackageOrNative: "", Blueprint: ins.Blueprint, Function: ins.Method},
			Receiver: &receiverLocal,
		},
		Payload: InvocationPayload{MovedNodes: moved, GlobalRefs: globalRefs, AppPayload: ins.Args},
	}
	res, err := p.k.Invoke(req)
	if err != nil {
		return nil, err
	}
	if err := p.autoDepositReturned(res.MovedNodes); err != nil {
		return nil, err
	}
	return res.AppPayload, nil
}

func (p *TransactionProcessor) execCallNativeMethod(ins Instruction) ([]byte, error) {
	receiverLocal, err := p.k.derefGlobal(NodeId{Kind: NodeGlobal, Address: ins.ComponentAddress.Address})
	if err != nil {
		return nil, err
	}
	moved, globalRefs := p.movedAndRefsFromBucketArg(ins)
	req := InvocationRequest{
		Actor: Actor{
			Variant:  ActorNativeMethod,
			FnIdent:  FnIdent{PackageOrNative: ins.NativeName, Blueprint: ins.Blueprint, Function: ins.Method},
			Receiver: &receiverLocal,
		},
		Payload: InvocationPayload{MovedNodes: moved, GlobalRefs: globalRefs, AppPayload: ins.Args},
	}
	res, err := p.k.Invoke(req)
	if err != nil {
		return nil, err
	}
	if err := p.autoDepositReturned(res.MovedNodes); err != nil {
		return nil, err
	}
	return res.AppPayload, nil
}

func (p *TransactionProcessor) execCallNativeFunction(ins Instruction) ([]byte, error) {
	req := InvocationRequest{
		Actor: Actor{
			Variant: ActorNativeFunction,
			FnIdent: FnIdent{PackageOrNative: ins.NativeName, Blueprint: ins.Blueprint, Function: ins.Function},
		},
		Payload: InvocationPayload{AppPayload: ins.Args},
	}
	res, err := p.k.Invoke(req)
	if err != nil {
		return nil, err
	}
	if err := p.autoDepositReturned(res.MovedNodes); err != nil {
		return nil, err
	}
	return res.AppPayload, nil
}

// autoDepositReturned deposits every returned bucket onto the worktop,
// mirroring CALL_METHOD/CALL_FUNCTION's manifest-level convention that
// resources handed back by a callee land on the worktop rather than
// requiring an explicit instruction to catch them. Non-bucket returned
// nodes (components freshly created and not yet globalized, proofs) stay
// owned by the root frame, reachable only through whatever label the next
// instruction supplies.
func (p *TransactionProcessor) autoDepositReturned(moved []NodeId) error {
	for _, id := range moved {
		if id.Kind != NodeBucket {
			continue
		}
		node, err := p.k.Heap.Get(id)
		if err != nil {
			return err
		}
		state := decodeBucketState(node.Substates[bucketOffset].Payload)
		if err := p.depositToWorktop(id, state.Resource); err != nil {
			return err
		}
	}
	return nil
}

// movedAndRefsFromBucketArg passes the bucket named by the instruction's
// BucketLabel (if one is held under that label) as the only moved node and
// passes no global references -- a simplification of full argument
// decoding for the manifest-level call instructions.
func (p *TransactionProcessor) movedAndRefsFromBucketArg(ins Instruction) ([]NodeId, []NodeId) {
	var moved []NodeId
	if ins.BucketLabel != "" {
		if id, ok := p.buckets[ins.BucketLabel]; ok {
			moved = append(moved, id)
			delete(p.buckets, ins.BucketLabel)
		}
	}
	return moved, nil
}

// CreateResource implements CREATE_RESOURCE: creates and globalizes a
// ResourceManager node.
func (p *TransactionProcessor) execCreateResource(ins Instruction) (GlobalAddress, error) {
	rmId, err := p.k.Ids.NewResourceManagerId()
	if err != nil {
		return GlobalAddress{}, err
	}
	state := ResourceManagerState{
		Fungible: ins.Fungible, Divisibility: ins.Divisibility,
		MintRule: ins.MintRule, BurnRule: ins.BurnRule,
		WithdrawRule: ins.WithdrawRule, DepositRule: ins.DepositRule,
	}
	node := newHeapNode()
	node.Substates[resourceMgrOffset] = Substate{Payload: encodeResourceManagerState(state)}
	if err := p.k.CreateNode(rmId, node); err != nil {
		return GlobalAddress{}, err
	}
	return p.k.Globalize(rmId)
}

// execMintFungible mints `amount` units of a fungible resource into a fresh
// bucket, after checking the resource's mint rule against the current auth
// zone, and updates TotalSupply.
func (p *TransactionProcessor) execMintFungible(ins Instruction, rmLocal NodeId) (NodeId, error) {
	h, err := p.k.LockSubstate(rmLocal, resourceMgrOffset, LockMutable)
	if err != nil {
		return NodeId{}, err
	}
	defer p.k.DropLock(h)
	raw, err := p.k.GetRefMut(h)
	if err != nil {
		return NodeId{}, err
	}
	rm := decodeResourceManagerState(raw)
	proofs := p.k.collectProofs(p.root)
	if err := p.k.Auth.CheckMint(rm, proofs, p.k.VirtualSigners()); err != nil {
		return NodeId{}, err
	}
	rm.TotalSupply += ins.Amount
	if err := p.k.WriteSubstate(h, encodeResourceManagerState(rm)); err != nil {
		return NodeId{}, err
	}
	bucketId, err := p.k.Ids.NewBucketId()
	if err != nil {
		return NodeId{}, err
	}
	bucketNode := newHeapNode()
	bucketNode.Substates[bucketOffset] = Substate{Payload: encodeBucketState(BucketState{
		Resource: Resource{Address: ResourceAddress(p.k.Ids.GlobalAddressFor(rmLocal).Address), Fungible: true, Amount: ins.Amount},
	})}
	if err := p.k.CreateNode(bucketId, bucketNode); err != nil {
		return NodeId{}, err
	}
	return bucketId, nil
}

// addressFromLocal copies the first 26 bytes of a local NodeId into a
// ResourceAddress. Minted buckets do not use it: they carry the resource
// manager's global address.
func (n NodeId) addressFromLocal() ResourceAddress {
	var out ResourceAddress
	copy(out[:], n.Bytes[:26])
	return out
}

// execBurnBucket implements BURN_BUCKET: checks the burn rule, decrements
// TotalSupply (and records burned ids for non-fungibles so they can never
// be re-minted), then drops the bucket.
func (p *TransactionProcessor) execBurnBucket(ins Instruction, rmLocal NodeId, bucketId NodeId) error {
	bnode, err := p.k.Heap.Get(bucketId)
	if err != nil {
		return err
	}
	bstate := decodeBucketState(bnode.Substates[bucketOffset].Payload)

	h, err := p.k.LockSubstate(rmLocal, resourceMgrOffset, LockMutable)
	if err != nil {
		return err
	}
	defer p.k.DropLock(h)
	raw, err := p.k.GetRefMut(h)
	if err != nil {
		return err
	}
	rm := decodeResourceManagerState(raw)
	proofs := p.k.collectProofs(p.root)
	if err := p.k.Auth.CheckBurn(rm, proofs, p.k.VirtualSigners()); err != nil {
		return err
	}
	if bstate.Resource.Fungible {
		rm.TotalSupply -= bstate.Resource.Amount
	} else {
		rm.TotalSupply -= uint64(len(bstate.Resource.NFIds))
		rm.BurnedIds = append(rm.BurnedIds, bstate.Resource.NFIds...)
	}
	if err := p.k.WriteSubstate(h, encodeResourceManagerState(rm)); err != nil {
		return err
	}
	delete(p.root.OwnedHeapRoots, bucketId.Key())
	_, err = p.k.Heap.Remove(bucketId)
	return err
}

// Execute runs the full manifest, returning the transaction receipt. It
// never panics on an application error: every failure maps to an unwind
// and a failed Receipt.
func (p *TransactionProcessor) Execute(manifest []Instruction) *Receipt {
	var returns [][]byte
	for _, ins := range manifest {
		var retData []byte
		var err error
		switch ins.Kind {
		case InsTakeFromWorktopByAmount:
			err = p.execTakeAmount(ins)
		case InsTakeFromWorktopByIds:
			err = p.execTakeIds(ins)
		case InsReturnToWorktop:
			err = p.execReturnToWorktop(ins)
		case InsAssertWorktopContains:
			err = p.execAssertWorktopContains(ins)
		case InsPushToAuthZone:
			err = p.pushProofToAuthZone(ins)
		case InsPopFromAuthZone:
			err = p.popProofFromAuthZone(ins)
		case InsCreateProofFromBucket:
			err = p.createProofFromBucket(ins)
		case InsCreateProofFromAuthZone:
			err = p.createProofFromAuthZone(ins)
		case InsClearAuthZone:
			err = p.clearAuthZone()
		case InsDropAllProofs:
			err = p.clearAuthZone()
		case InsCallMethod:
			retData, err = p.execCallMethod(ins)
		case InsCallNativeMethod:
			retData, err = p.execCallNativeMethod(ins)
		case InsCallFunction:
			retData, err = p.execCallFunction(ins)
		case InsCallNativeFunction:
			retData, err = p.execCallNativeFunction(ins)
		case InsCreateResource:
			var addr GlobalAddress
			addr, err = p.execCreateResource(ins)
			if err == nil {
				retData = mustJSON(addr)
			}
		case InsPublishPackageWithOwner:
			var addr GlobalAddress
			addr, err = p.execPublishPackageWithOwner(ins)
			if err == nil {
				retData = mustJSON(addr)
			}
		case InsMintFungible:
			var rmLocal, bucketId NodeId
			rmLocal, err = p.k.derefGlobal(NodeId{Kind: NodeGlobal, Address: ins.ComponentAddress.Address})
			if err == nil {
				bucketId, err = p.execMintFungible(ins, rmLocal)
			}
			if err == nil {
				p.root.OwnedHeapRoots[bucketId.Key()] = bucketId
				p.buckets[ins.BucketLabel] = bucketId
			}
		case InsBurnBucket:
			bucketId, ok := p.buckets[ins.BucketLabel]
			if !ok {
				err = NewKernelError(ErrNodeNotFound, ins.BucketLabel)
				break
			}
			var rmLocal NodeId
			rmLocal, err = p.k.derefGlobal(NodeId{Kind: NodeGlobal, Address: ins.ComponentAddress.Address})
			if err == nil {
				err = p.execBurnBucket(ins, rmLocal, bucketId)
			}
			if err == nil {
				delete(p.buckets, ins.BucketLabel)
			}
		default:
			err = NewKernelError(ErrDecodeError, "unknown instruction kind "+string(ins.Kind))
		}
		if err != nil {
			paid, refunded := p.k.Track.SettleFees(false)
			return &Receipt{Status: false, Error: err, FeePaid: paid, FeeRefunded: refunded, Logs: p.k.logs, Events: p.k.events}
		}
		returns = append(returns, retData)
	}

	if err := DropFrame(p.root, p.k.Heap); err != nil {
		paid, refunded := p.k.Track.SettleFees(false)
		return &Receipt{Status: false, Error: err, FeePaid: paid, FeeRefunded: refunded, Logs: p.k.logs, Events: p.k.events}
	}

	if err := p.k.Track.Commit(); err != nil {
		paid, refunded := p.k.Track.SettleFees(false)
		return &Receipt{Status: false, Error: err, FeePaid: paid, FeeRefunded: refunded, Logs: p.k.logs, Events: p.k.events}
	}
	paid, refunded := p.k.Track.SettleFees(true)
	return &Receipt{Status: true, ReturnData: returns, FeePaid: paid, FeeRefunded: refunded, Logs: p.k.logs, Events: p.k.events}
}

func (p *TransactionProcessor) execCallFunction(ins Instruction) ([]byte, error) {
	pkgLocal, err := p.k.derefGlobal(NodeId{Kind: NodeGlobal, Address: ins.PackageAddress.Address})
	if err != nil {
		return nil, err
	}
	pkgRef, _ := json.Marshal(pkgLocal)
	moved, _ := p.movedAndRefsFromBucketArg(ins)
	req := InvocationRequest{
		Actor: Actor{
			Variant: ActorScryptoFunction,
			FnIdent: FnIdent{PackageOrNative: string(pkgRef), Blueprint: ins.Blueprint, Function: ins.Function},
		},
		Payload: InvocationPayload{MovedNodes: moved, AppPayload: ins.Args},
	}
	res, err := p.k.Invoke(req)
	if err != nil {
		return nil, err
	}
	if err := p.autoDepositReturned(res.MovedNodes); err != nil {
		return nil, err
	}
	return res.AppPayload, nil
}

func (p *TransactionProcessor) pushProofToAuthZone(ins Instruction) error {
	proofId, ok := p.proofs[ins.ProofLabel]
	if !ok {
		return NewKernelError(ErrNodeNotFound, ins.ProofLabel)
	}
	azNode, err := p.k.Heap.Get(p.root.AuthZoneId)
	if err != nil {
		return err
	}
	var az AuthZoneState
	json.Unmarshal(azNode.Substates[authZoneOffset].Payload, &az)
	az.Proofs = append(az.Proofs, proofId)
	azNode.Substates[authZoneOffset] = Substate{Payload: mustJSON(az)}
	delete(p.root.OwnedHeapRoots, proofId.Key())
	delete(p.proofs, ins.ProofLabel)
	return nil
}

func (p *TransactionProcessor) popProofFromAuthZone(ins Instruction) error {
	azNode, err := p.k.Heap.Get(p.root.AuthZoneId)
	if err != nil {
		return err
	}
	var az AuthZoneState
	json.Unmarshal(azNode.Substates[authZoneOffset].Payload, &az)
	if len(az.Proofs) == 0 {
		return NewKernelError(ErrNodeNotFound, "auth zone empty")
	}
	top := az.Proofs[len(az.Proofs)-1]
	az.Proofs = az.Proofs[:len(az.Proofs)-1]
	azNode.Substates[authZoneOffset] = Substate{Payload: mustJSON(az)}
	p.root.OwnedHeapRoots[top.Key()] = top
	p.proofs[ins.ProofLabel] = top
	return nil
}

// createProofFromBucket creates a proof referencing the bucket's resource,
// incrementing the source bucket's lock count.
func (p *TransactionProcessor) createProofFromBucket(ins Instruction) error {
	bucketId, ok := p.buckets[ins.BucketLabel]
	if !ok {
		return NewKernelError(ErrNodeNotFound, ins.BucketLabel)
	}
	bnode, err := p.k.Heap.Get(bucketId)
	if err != nil {
		return err
	}
	bstate := decodeBucketState(bnode.Substates[bucketOffset].Payload)
	bstate.LockCount++
	bnode.Substates[bucketOffset] = Substate{Payload: encodeBucketState(bstate)}

	proofId, err := p.k.Ids.NewProofId()
	if err != nil {
		return err
	}
	pnode := newHeapNode()
	pnode.Substates[proofOffset] = Substate{Payload: encodeProofState(ProofState{
		Resource: bstate.Resource, Restricted: false, Source: bucketId,
	})}
	if err := p.k.Heap.Create(proofId, pnode); err != nil {
		return err
	}
	p.root.OwnedHeapRoots[proofId.Key()] = proofId
	p.proofs[ins.ProofLabel] = proofId
	return nil
}

// createProofFromAuthZone creates a proof of the given resource backed by
// the auth zone's already-presented proofs, without popping anything off
// the zone: unlike createProofFromBucket, the zone itself is the source, so
// no lock count is incremented on an individual container.
func (p *TransactionProcessor) createProofFromAuthZone(ins Instruction) error {
	azNode, err := p.k.Heap.Get(p.root.AuthZoneId)
	if err != nil {
		return err
	}
	var az AuthZoneState
	json.Unmarshal(azNode.Substates[authZoneOffset].Payload, &az)
	for _, candidateId := range az.Proofs {
		pnode, err := p.k.Heap.Get(candidateId)
		if err != nil {
			continue
		}
		candidate := decodeProofState(pnode.Substates[proofOffset].Payload)
		if candidate.Resource.Address != ins.ResourceAddress {
			continue
		}
		proofId, err := p.k.Ids.NewProofId()
		if err != nil {
			return err
		}
		node := newHeapNode()
		node.Substates[proofOffset] = Substate{Payload: encodeProofState(ProofState{
			Resource: candidate.Resource, Restricted: candidate.Restricted, Source: candidate.Source,
		})}
		if err := p.k.Heap.Create(proofId, node); err != nil {
			return err
		}
		p.root.OwnedHeapRoots[proofId.Key()] = proofId
		p.proofs[ins.ProofLabel] = proofId
		return nil
	}
	return NewKernelError(ErrNodeNotFound, "no matching proof in auth zone")
}

// execPublishPackageWithOwner implements PUBLISH_PACKAGE_WITH_OWNER: stores
// the provided WASM bytecode (Args) as a Package::Package substate and
// globalizes it. Owner-badge-gated publish updates are out of scope here;
// the "with owner" instruction name is kept for manifest compatibility but
// every published package is immutable once globalized.
func (p *TransactionProcessor) execPublishPackageWithOwner(ins Instruction) (GlobalAddress, error) {
	pkgId, err := p.k.Ids.NewPackageId()
	if err != nil {
		return GlobalAddress{}, err
	}
	node := newHeapNode()
	node.Substates[packageOffset] = Substate{Payload: ins.Args}
	if err := p.k.CreateNode(pkgId, node); err != nil {
		return GlobalAddress{}, err
	}
	return p.k.Globalize(pkgId)
}

// clearAuthZone drops every proof currently in the auth zone,
// decrementing their source's lock count.
func (p *TransactionProcessor) clearAuthZone() error {
	azNode, err := p.k.Heap.Get(p.root.AuthZoneId)
	if err != nil {
		return err
	}
	var az AuthZoneState
	json.Unmarshal(azNode.Substates[authZoneOffset].Payload, &az)
	for _, proofId := range az.Proofs {
		if pnode, err := p.k.Heap.Get(proofId); err == nil {
			pstate := decodeProofState(pnode.Substates[proofOffset].Payload)
			if bnode, err := p.k.Heap.Get(pstate.Source); err == nil {
				bstate := decodeBucketState(bnode.Substates[bucketOffset].Payload)
				if bstate.LockCount > 0 {
					bstate.LockCount--
				}
				bnode.Substates[bucketOffset] = Substate{Payload: encodeBucketState(bstate)}
			}
		}
		delete(p.root.OwnedHeapRoots, proofId.Key())
		p.k.Heap.Remove(proofId)
	}
	az.Proofs = nil
	azNode.Substates[authZoneOffset] = Substate{Payload: mustJSON(az)}
	return nil
}
