package core_test

import (
	"encoding/json"
	"testing"

	"vaultkernel/core"
	"vaultkernel/core/guest"
	"vaultkernel/core/native"
)

func newTestKernel(t *testing.T, seed byte) (*core.Kernel, *core.CallFrame) {
	t.Helper()
	return newTestKernelWithReserve(t, seed, 10_000_000)
}

func newTestKernelWithReserve(t *testing.T, seed byte, genesisReserve uint64) (*core.Kernel, *core.CallFrame) {
	t.Helper()
	var txHash [32]byte
	txHash[0] = seed

	natives := core.NewNativeDispatchTable()
	native.RegisterAll(natives)

	k := core.NewKernel(txHash, core.NewMemStore(), natives, guest.New())
	root, err := k.PushRootFrame(nil, genesisReserve)
	if err != nil {
		t.Fatalf("push root frame: %v", err)
	}
	return k, root
}

// createResource publishes a resource manager with every rule set to
// AllowAll and returns its resource address.
func createResource(t *testing.T, proc *core.TransactionProcessor, fungible bool) core.ResourceAddress {
	t.Helper()
	receipt := proc.Execute([]core.Instruction{
		{
			Kind:         core.InsCreateResource,
			Fungible:     fungible,
			Divisibility: 18,
			MintRule:     core.AllowAll(),
			BurnRule:     core.AllowAll(),
			WithdrawRule: core.AllowAll(),
			DepositRule:  core.AllowAll(),
		},
	})
	if !receipt.Status {
		t.Fatalf("create resource failed: %v", receipt.Error)
	}
	var addr core.GlobalAddress
	if err := json.Unmarshal(receipt.ReturnData[0], &addr); err != nil {
		t.Fatalf("decode resource address: %v", err)
	}
	return core.ResourceAddress(addr.Address)
}

// Minting a fungible resource and taking/returning it off the worktop
// round-trips the exact amount, and the receipt reports success.
func TestScenarioMintAndAssertWorktop(t *testing.T) {
	k, root := newTestKernel(t, 1)
	proc, err := core.NewTransactionProcessor(k, root)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	resAddr := createResource(t, proc, true)
	rmGlobal := core.GlobalAddress{Kind: core.NodeResourceManager, Address: resAddr}

	receipt := proc.Execute([]core.Instruction{
		{Kind: core.InsMintFungible, ComponentAddress: rmGlobal, ResourceAddress: resAddr, Amount: 1000, BucketLabel: "b1"},
		{Kind: core.InsReturnToWorktop, BucketLabel: "b1"},
		{Kind: core.InsAssertWorktopContains, ResourceAddress: resAddr, Amount: 1000},
		{Kind: core.InsTakeFromWorktopByAmount, ResourceAddress: resAddr, Amount: 400, BucketLabel: "half"},
		{Kind: core.InsAssertWorktopContains, ResourceAddress: resAddr, Amount: 600},
		{Kind: core.InsReturnToWorktop, BucketLabel: "half"},
		{Kind: core.InsAssertWorktopContains, ResourceAddress: resAddr, Amount: 1000},
		{Kind: core.InsTakeFromWorktopByAmount, ResourceAddress: resAddr, Amount: 1000, BucketLabel: "final"},
		{Kind: core.InsBurnBucket, ComponentAddress: rmGlobal, BucketLabel: "final"},
	})
	if !receipt.Status {
		t.Fatalf("manifest failed: %v", receipt.Error)
	}
}

// S2: taking more than is present on the worktop fails the transaction.
func TestScenarioUnderflowRejected(t *testing.T) {
	k, root := newTestKernel(t, 2)
	proc, err := core.NewTransactionProcessor(k, root)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	resAddr := createResource(t, proc, true)
	rmGlobal := core.GlobalAddress{Kind: core.NodeResourceManager, Address: resAddr}

	receipt := proc.Execute([]core.Instruction{
		{Kind: core.InsMintFungible, ComponentAddress: rmGlobal, ResourceAddress: resAddr, Amount: 100, BucketLabel: "b1"},
		{Kind: core.InsReturnToWorktop, BucketLabel: "b1"},
		{Kind: core.InsTakeFromWorktopByAmount, ResourceAddress: resAddr, Amount: 500, BucketLabel: "toobig"},
	})
	if receipt.Status {
		t.Fatalf("expected underflow to fail the transaction")
	}
}

// S3: taking a non-fungible id that was never minted fails cleanly rather
// than fabricating a bucket.
func TestScenarioNonFungibleMissingId(t *testing.T) {
	k, root := newTestKernel(t, 3)
	proc, err := core.NewTransactionProcessor(k, root)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	resAddr := createResource(t, proc, false)

	receipt := proc.Execute([]core.Instruction{
		{Kind: core.InsTakeFromWorktopByIds, ResourceAddress: resAddr, Ids: []string{"#1#"}},
	})
	if receipt.Status {
		t.Fatalf("expected take of absent ids to fail, got success")
	}
}

// Proof discipline -- creating a proof from a bucket increments its
// lock count, and clearing the auth zone releases it again, leaving the
// bucket free to be consumed.
func TestScenarioProofLockDiscipline(t *testing.T) {
	k, root := newTestKernel(t, 4)
	proc, err := core.NewTransactionProcessor(k, root)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	resAddr := createResource(t, proc, true)
	rmGlobal := core.GlobalAddress{Kind: core.NodeResourceManager, Address: resAddr}

	receipt := proc.Execute([]core.Instruction{
		{Kind: core.InsMintFungible, ComponentAddress: rmGlobal, ResourceAddress: resAddr, Amount: 50, BucketLabel: "b1"},
		{Kind: core.InsCreateProofFromBucket, BucketLabel: "b1", ProofLabel: "p1"},
		{Kind: core.InsPushToAuthZone, ProofLabel: "p1"},
		{Kind: core.InsCreateProofFromAuthZone, ResourceAddress: resAddr, ProofLabel: "p2"},
		{Kind: core.InsClearAuthZone},
		{Kind: core.InsBurnBucket, ComponentAddress: rmGlobal, BucketLabel: "b1"},
	})
	if !receipt.Status {
		t.Fatalf("manifest failed: %v", receipt.Error)
	}
}

// Calling a native blueprint function end to end -- Faucet.new
// followed by Faucet.take -- deposits a fresh bucket onto the worktop.
func TestScenarioFaucetDispenses(t *testing.T) {
	k, root := newTestKernel(t, 5)
	proc, err := core.NewTransactionProcessor(k, root)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	resAddr := createResource(t, proc, true)
	rmGlobal := core.GlobalAddress{Kind: core.NodeResourceManager, Address: resAddr}

	newArgs, _ := json.Marshal(map[string]interface{}{
		"resource_address": resAddr,
		"per_call_amount":  25,
	})
	receipt := proc.Execute([]core.Instruction{
		{Kind: core.InsCallNativeFunction, NativeName: "native", Blueprint: "Faucet", Function: "new", Args: newArgs},
	})
	if !receipt.Status {
		t.Fatalf("faucet.new failed: %v", receipt.Error)
	}
	var faucetAddr core.GlobalAddress
	if err := json.Unmarshal(receipt.ReturnData[0], &faucetAddr); err != nil {
		t.Fatalf("decode faucet address: %v", err)
	}

	receipt = proc.Execute([]core.Instruction{
		{Kind: core.InsCallNativeMethod, NativeName: "native", Blueprint: "Faucet", Method: "take", ComponentAddress: faucetAddr},
		{Kind: core.InsAssertWorktopContains, ResourceAddress: resAddr, Amount: 25},
		{Kind: core.InsTakeFromWorktopByAmount, ResourceAddress: resAddr, Amount: 25, BucketLabel: "drain"},
		{Kind: core.InsBurnBucket, ComponentAddress: rmGlobal, BucketLabel: "drain"},
	})
	if !receipt.Status {
		t.Fatalf("faucet.take failed: %v", receipt.Error)
	}
}

// S6: with no genesis reserve, a 1-unit lock_fee covers exactly one cost
// unit; consuming a second unit exhausts the reserve and fails rather than
// letting costs run unbounded.
func TestScenarioFeeReserveExhaustion(t *testing.T) {
	k, root := newTestKernelWithReserve(t, 6, 0)

	if err := k.LockFee(root.AuthZoneId, 1, false); err != nil {
		t.Fatalf("lock fee: %v", err)
	}
	if err := k.ConsumeCostUnits(1); err != nil {
		t.Fatalf("first consume should fit the reserve: %v", err)
	}
	if err := k.ConsumeCostUnits(1); err == nil {
		t.Fatalf("expected reserve exhaustion on a second unit against a 1-unit lock")
	}
}

func invokeNative(t *testing.T, k *core.Kernel, blueprint, fn string, args interface{}) core.InvocationResult {
	t.Helper()
	payload, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	res, err := k.Invoke(core.InvocationRequest{
		Actor:   core.Actor{Variant: core.ActorNativeFunction, FnIdent: core.FnIdent{Blueprint: blueprint, Function: fn}},
		Payload: core.InvocationPayload{AppPayload: payload},
	})
	if err != nil {
		t.Fatalf("invoke %s::%s: %v", blueprint, fn, err)
	}
	return res
}

func invokeNativeMethod(t *testing.T, k *core.Kernel, blueprint, fn string, receiver core.GlobalAddress, moved []core.NodeId, args interface{}) core.InvocationResult {
	t.Helper()
	payload, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	recv := core.NodeId{Kind: core.NodeGlobal, Address: receiver.Address}
	res, err := k.Invoke(core.InvocationRequest{
		Actor:   core.Actor{Variant: core.ActorNativeMethod, FnIdent: core.FnIdent{Blueprint: blueprint, Function: fn}, Receiver: &recv},
		Payload: core.InvocationPayload{MovedNodes: moved, AppPayload: payload},
	})
	if err != nil {
		t.Fatalf("invoke %s::%s: %v", blueprint, fn, err)
	}
	return res
}

// S1: a two-account transfer -- mint a resource into account1, withdraw
// against its owner-badge proof, deposit the withdrawn bucket into
// account2, and confirm account2 can in turn withdraw the transferred
// amount. Exercises the Account blueprint's vault and owner-badge gate
// through the same Invoke path a manifest's CALL_NATIVE_METHOD uses.
func TestScenarioTwoAccountTransfer(t *testing.T) {
	var badge core.ResourceAddress
	badge[0] = 0x7A

	var txHash [32]byte
	txHash[0] = 21
	natives := core.NewNativeDispatchTable()
	native.RegisterAll(natives)
	k := core.NewKernel(txHash, core.NewMemStore(), natives, guest.New())
	if _, err := k.PushRootFrame([]core.ProofState{{
		Resource: core.Resource{Address: badge, Fungible: true, Amount: 1},
	}}, 10_000_000); err != nil {
		t.Fatalf("push root frame: %v", err)
	}

	createRes := invokeNative(t, k, native.ResourceManagerBlueprint, "create", map[string]interface{}{
		"fungible":      true,
		"divisibility":  18,
		"mint_rule":     core.AllowAll(),
		"burn_rule":     core.AllowAll(),
		"withdraw_rule": core.AllowAll(),
		"deposit_rule":  core.AllowAll(),
	})
	var rmAddr core.GlobalAddress
	if err := json.Unmarshal(createRes.AppPayload, &rmAddr); err != nil {
		t.Fatalf("decode resource manager address: %v", err)
	}
	resAddr := core.ResourceAddress(rmAddr.Address)

	mintRes := invokeNativeMethod(t, k, native.ResourceManagerBlueprint, "mint", rmAddr, nil, map[string]interface{}{"amount": 500})
	var bucketId core.NodeId
	if err := json.Unmarshal(mintRes.AppPayload, &bucketId); err != nil {
		t.Fatalf("decode minted bucket id: %v", err)
	}

	acct1Res := invokeNative(t, k, native.AccountBlueprint, "new", map[string]interface{}{"owner_badge": badge})
	var acct1Addr core.GlobalAddress
	if err := json.Unmarshal(acct1Res.AppPayload, &acct1Addr); err != nil {
		t.Fatalf("decode account1 address: %v", err)
	}
	acct2Res := invokeNative(t, k, native.AccountBlueprint, "new", map[string]interface{}{"owner_badge": badge})
	var acct2Addr core.GlobalAddress
	if err := json.Unmarshal(acct2Res.AppPayload, &acct2Addr); err != nil {
		t.Fatalf("decode account2 address: %v", err)
	}

	invokeNativeMethod(t, k, native.AccountBlueprint, "deposit", acct1Addr, []core.NodeId{bucketId}, map[string]interface{}{"bucket": bucketId})

	withdrawRes := invokeNativeMethod(t, k, native.AccountBlueprint, "withdraw", acct1Addr, nil, map[string]interface{}{
		"resource_address": resAddr,
		"amount":           200,
	})
	var transferredId core.NodeId
	if err := json.Unmarshal(withdrawRes.AppPayload, &transferredId); err != nil {
		t.Fatalf("decode withdrawn bucket id: %v", err)
	}

	invokeNativeMethod(t, k, native.AccountBlueprint, "deposit", acct2Addr, []core.NodeId{transferredId}, map[string]interface{}{"bucket": transferredId})

	finalRes := invokeNativeMethod(t, k, native.AccountBlueprint, "withdraw", acct2Addr, nil, map[string]interface{}{
		"resource_address": resAddr,
		"amount":           200,
	})
	if len(finalRes.MovedNodes) != 1 {
		t.Fatalf("expected account2 to hold the 200 units transferred from account1")
	}
}

// S4: two mutable locks on the same substate without releasing the first
// is the reentrancy case AcquireLock exists to reject -- a callee that
// tries to re-enter its own caller's still-locked substate must fail
// rather than silently aliasing a write. Exercised directly against Track,
// the component that owns this rejection, independent of whether the
// substate in question happens to still be heap-resident or already moved
// to the backing store.
func TestScenarioReentrancyDenied(t *testing.T) {
	k, _ := newTestKernel(t, 7)

	nodeId, err := k.Ids.NewComponentId()
	if err != nil {
		t.Fatalf("new component id: %v", err)
	}
	id := core.SubstateId{Node: nodeId, Offset: core.SubstateOffset{Category: "Test", Variant: "State"}}

	if _, _, err := k.Track.AcquireLock(id, core.LockMutable, false); err != nil {
		t.Fatalf("first lock should succeed: %v", err)
	}

	if _, _, err := k.Track.AcquireLock(id, core.LockMutable, false); err == nil {
		t.Fatalf("expected a second mutable lock on the same substate to be denied as reentrant")
	}
}

// S5: a proof passed as a call argument is restricted on entry to the
// callee -- it can still be used there, but it can never be forwarded a
// second time, closing off the double-spend-by-reference path a
// non-restricted proof would otherwise allow.
func TestScenarioProofRestrictedOnCallEntry(t *testing.T) {
	k, root := newTestKernel(t, 8)

	proofId, err := k.Ids.NewProofId()
	if err != nil {
		t.Fatalf("new proof id: %v", err)
	}
	var resAddr core.ResourceAddress
	resAddr[0] = 0x9C
	node := core.NewHeapNode()
	node.PutSubstate(core.SubstateOffset{Category: "Proof", Variant: "Proof"}, mustEncodeProof(t, core.ProofState{
		Resource: core.Resource{Address: resAddr, Fungible: true, Amount: 1},
	}))
	if err := k.CreateNode(proofId, node); err != nil {
		t.Fatalf("create proof node: %v", err)
	}
	root.OwnedHeapRoots[proofId.Key()] = proofId

	actor := core.Actor{Variant: core.ActorNativeFunction, FnIdent: core.FnIdent{Blueprint: "Test", Function: "noop"}}
	child, err := core.NewChildFromParent(root, k.Heap, 1, actor, root.AuthZoneId, []core.NodeId{proofId}, nil)
	if err != nil {
		t.Fatalf("pass proof into child frame: %v", err)
	}

	restricted, err := decodeProofRestricted(k, proofId)
	if err != nil {
		t.Fatalf("read proof state: %v", err)
	}
	if !restricted {
		t.Fatalf("expected proof to be restricted after entering the callee")
	}

	grandchild := core.Actor{Variant: core.ActorNativeFunction, FnIdent: core.FnIdent{Blueprint: "Test", Function: "noop"}}
	if _, err := core.NewChildFromParent(child, k.Heap, 2, grandchild, child.AuthZoneId, []core.NodeId{proofId}, nil); err == nil {
		t.Fatalf("expected forwarding an already-restricted proof to fail")
	}
}

func mustEncodeProof(t *testing.T, p core.ProofState) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("encode proof state: %v", err)
	}
	return raw
}

func decodeProofRestricted(k *core.Kernel, id core.NodeId) (bool, error) {
	node, err := k.Heap.Get(id)
	if err != nil {
		return false, err
	}
	sub, ok := node.Substates[core.SubstateOffset{Category: "Proof", Variant: "Proof"}]
	if !ok {
		return false, nil
	}
	var p core.ProofState
	if err := json.Unmarshal(sub.Payload, &p); err != nil {
		return false, err
	}
	return p.Restricted, nil
}
