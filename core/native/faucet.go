// Package native implements the kernel's built-in blueprints: ordinary
// callers of the *core.Kernel API, registered into a
// core.NativeDispatchTable exactly the way a Scrypto package would be, but
// running as Go functions instead of guest bytecode.
//
// Mint/burn-style free-dispense helpers and account/balance bookkeeping,
// adapted onto the node/substate/resource-manager model in place of flat
// address-keyed balances.
package native

import (
	"encoding/json"

	"vaultkernel/core"
)

// FaucetBlueprint dispenses a fixed amount of a single resource per call,
// the way a test-network faucet component would. It mints by fabricating
// a bucket directly rather than calling through a resource manager, so the
// resource it dispenses need not track total supply.
const FaucetBlueprint = "Faucet"

// faucetState is the Faucet::State substate payload: the global resource
// address this faucet dispenses and the per-call amount.
type faucetState struct {
	ResourceAddress core.ResourceAddress `json:"resource_address"`
	PerCallAmount   uint64               `json:"per_call_amount"`
}

// faucetComponentState is the opaque Component::State payload stored for a
// faucet component instance.
type faucetComponentState struct {
	Faucet faucetState `json:"faucet"`
}

// RegisterFaucet wires the Faucet blueprint's "new" function and "take"
// method into t.
func RegisterFaucet(t *core.NativeDispatchTable) {
	t.RegisterFunction(FaucetBlueprint, "new", faucetNew)
	t.RegisterMethod(FaucetBlueprint, "take", faucetTake)
}

// faucetNewArgs is the function-call payload for Faucet::new.
type faucetNewArgs struct {
	ResourceAddress core.ResourceAddress `json:"resource_address"`
	PerCallAmount   uint64               `json:"per_call_amount"`
}

func faucetNew(k *core.Kernel, args []byte) ([]byte, error) {
	var a faucetNewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "faucet.new: malformed args")
	}

	compId, err := k.Ids.NewComponentId()
	if err != nil {
		return nil, err
	}
	state := faucetComponentState{Faucet: faucetState{
		ResourceAddress: a.ResourceAddress,
		PerCallAmount:   a.PerCallAmount,
	}}
	payload, _ := json.Marshal(state)

	methodRules := map[string]core.AccessRule{"take": core.AllowAll()}
	node := newComponentNode(compId, "Faucet", methodRules, payload)
	if err := k.CreateNode(compId, node); err != nil {
		return nil, err
	}
	addr, err := k.Globalize(compId)
	if err != nil {
		return nil, err
	}
	return json.Marshal(addr)
}

func faucetTake(k *core.Kernel, receiver core.NodeId, _ []byte) ([]byte, error) {
	h, err := k.LockSubstate(receiver, componentStateOffset, core.LockRead)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(h)

	raw, err := k.GetRef(h)
	if err != nil {
		return nil, err
	}
	var cs faucetComponentState
	if err := json.Unmarshal(decodeComponentStateData(raw), &cs); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "faucet: malformed component state")
	}

	bucketId, err := k.Ids.NewBucketId()
	if err != nil {
		return nil, err
	}
	resource := core.Resource{Address: cs.Faucet.ResourceAddress, Fungible: true, Amount: cs.Faucet.PerCallAmount}
	bucket := newBucketNode(resource)
	if err := k.CreateNode(bucketId, bucket); err != nil {
		return nil, err
	}
	return json.Marshal(bucketId)
}
