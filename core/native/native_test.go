package native_test

import (
	"encoding/json"
	"testing"

	"vaultkernel/core"
	"vaultkernel/core/guest"
	"vaultkernel/core/native"
)

func newTestKernel(t *testing.T, seed byte, proofs ...core.ProofState) *core.Kernel {
	t.Helper()
	var txHash [32]byte
	txHash[0] = seed

	table := core.NewNativeDispatchTable()
	native.RegisterAll(table)

	k := core.NewKernel(txHash, core.NewMemStore(), table, guest.New())
	if _, err := k.PushRootFrame(proofs, 10_000_000); err != nil {
		t.Fatalf("push root frame: %v", err)
	}
	return k
}

func invokeFunction(t *testing.T, k *core.Kernel, blueprint, fn string, args interface{}) core.InvocationResult {
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

func invokeMethod(t *testing.T, k *core.Kernel, blueprint, fn string, receiver core.GlobalAddress, moved []core.NodeId, args interface{}) core.InvocationResult {
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

// TestResourceManagerMintAndBurn exercises the ResourceManager blueprint's
// mint/burn round trip directly through the kernel, independent of the
// manifest-level MINT_FUNGIBLE/BURN_BUCKET shortcuts already covered
// elsewhere.
func TestResourceManagerMintAndBurn(t *testing.T) {
	k := newTestKernel(t, 10)

	createRes := invokeFunction(t, k, native.ResourceManagerBlueprint, "create", map[string]interface{}{
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

	mintRes := invokeMethod(t, k, native.ResourceManagerBlueprint, "mint", rmAddr, nil, map[string]interface{}{"amount": 200})
	var bucketId core.NodeId
	if err := json.Unmarshal(mintRes.AppPayload, &bucketId); err != nil {
		t.Fatalf("decode minted bucket id: %v", err)
	}
	if len(mintRes.MovedNodes) != 1 || mintRes.MovedNodes[0] != bucketId {
		t.Fatalf("expected mint to move the new bucket upstream, got %v", mintRes.MovedNodes)
	}

	burnRes := invokeMethod(t, k, native.ResourceManagerBlueprint, "burn", rmAddr, []core.NodeId{bucketId}, map[string]interface{}{"bucket": bucketId})
	if string(burnRes.AppPayload) != "{}" {
		t.Fatalf("expected empty burn response, got %s", burnRes.AppPayload)
	}
}

// TestFaucetDispensesCorrectResourceAddress exercises the fix that stamps
// the faucet's configured resource address onto every bucket it dispenses;
// previously a dispensed bucket's resource address was left zero, so it
// could never be recognized as the resource the faucet was set up for.
func TestFaucetDispensesCorrectResourceAddress(t *testing.T) {
	k := newTestKernel(t, 11)

	createRes := invokeFunction(t, k, native.ResourceManagerBlueprint, "create", map[string]interface{}{
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

	newRes := invokeFunction(t, k, native.FaucetBlueprint, "new", map[string]interface{}{
		"resource_address": resAddr,
		"per_call_amount":  42,
	})
	var faucetAddr core.GlobalAddress
	if err := json.Unmarshal(newRes.AppPayload, &faucetAddr); err != nil {
		t.Fatalf("decode faucet address: %v", err)
	}

	takeRes := invokeMethod(t, k, native.FaucetBlueprint, "take", faucetAddr, nil, nil)
	var bucketId core.NodeId
	if err := json.Unmarshal(takeRes.AppPayload, &bucketId); err != nil {
		t.Fatalf("decode dispensed bucket id: %v", err)
	}
	if len(takeRes.MovedNodes) != 1 {
		t.Fatalf("expected faucet.take to move the dispensed bucket upstream")
	}
}

// TestAccountDepositAndWithdraw round-trips a minted bucket through an
// Account component's vault, gated by the owner badge's withdraw rule.
func TestAccountDepositAndWithdraw(t *testing.T) {
	var badge core.ResourceAddress
	badge[0] = 0xAB

	k := newTestKernel(t, 12, core.ProofState{
		Resource:   core.Resource{Address: badge, Fungible: true, Amount: 1},
		Restricted: false,
	})

	createRes := invokeFunction(t, k, native.ResourceManagerBlueprint, "create", map[string]interface{}{
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

	mintRes := invokeMethod(t, k, native.ResourceManagerBlueprint, "mint", rmAddr, nil, map[string]interface{}{"amount": 75})
	var bucketId core.NodeId
	if err := json.Unmarshal(mintRes.AppPayload, &bucketId); err != nil {
		t.Fatalf("decode minted bucket id: %v", err)
	}

	newAcctRes := invokeFunction(t, k, native.AccountBlueprint, "new", map[string]interface{}{"owner_badge": badge})
	var acctAddr core.GlobalAddress
	if err := json.Unmarshal(newAcctRes.AppPayload, &acctAddr); err != nil {
		t.Fatalf("decode account address: %v", err)
	}

	invokeMethod(t, k, native.AccountBlueprint, "deposit", acctAddr, []core.NodeId{bucketId}, map[string]interface{}{"bucket": bucketId})

	withdrawRes := invokeMethod(t, k, native.AccountBlueprint, "withdraw", acctAddr, nil, map[string]interface{}{
		"resource_address": resAddr,
		"amount":           30,
	})
	var withdrawn core.NodeId
	if err := json.Unmarshal(withdrawRes.AppPayload, &withdrawn); err != nil {
		t.Fatalf("decode withdrawn bucket id: %v", err)
	}
	if len(withdrawRes.MovedNodes) != 1 {
		t.Fatalf("expected withdraw to move the new bucket upstream")
	}
}

// TestEpochManagerAdvancesRounds exercises EpochManager's create/get/next
// trio and checks the epoch counter monotonically increases.
func TestEpochManagerAdvancesRounds(t *testing.T) {
	k := newTestKernel(t, 13)

	createRes := invokeFunction(t, k, native.EpochManagerBlueprint, "create", nil)
	var epochAddr core.GlobalAddress
	if err := json.Unmarshal(createRes.AppPayload, &epochAddr); err != nil {
		t.Fatalf("decode epoch manager address: %v", err)
	}

	getRes := invokeMethod(t, k, native.EpochManagerBlueprint, "get_epoch", epochAddr, nil, nil)
	var epoch uint64
	if err := json.Unmarshal(getRes.AppPayload, &epoch); err != nil {
		t.Fatalf("decode epoch: %v", err)
	}
	if epoch != 0 {
		t.Fatalf("expected a fresh epoch manager to start at 0, got %d", epoch)
	}

	nextRes := invokeMethod(t, k, native.EpochManagerBlueprint, "next_round", epochAddr, nil, nil)
	var nextEpoch uint64
	if err := json.Unmarshal(nextRes.AppPayload, &nextEpoch); err != nil {
		t.Fatalf("decode next epoch: %v", err)
	}
	if nextEpoch != 1 {
		t.Fatalf("expected next_round to advance the epoch to 1, got %d", nextEpoch)
	}
}
