package native

import (
	"encoding/json"

	"vaultkernel/core"
)

// ResourceManagerBlueprint is the native blueprint behind every
// ResourceAddress: mint/burn policy plus total-supply bookkeeping.
// The CREATE_RESOURCE / MINT_FUNGIBLE / BURN_BUCKET manifest instructions
// (core/manifest.go) are a direct-dispatch shortcut for the same mint/burn
// supply adjustments this blueprint exposes to guest packages via
// CALL_NATIVE_FUNCTION / CALL_NATIVE_METHOD.
const ResourceManagerBlueprint = "ResourceManager"

type resourceManagerCreateArgs struct {
	Fungible     bool             `json:"fungible"`
	Divisibility uint8            `json:"divisibility"`
	MintRule     core.AccessRule  `json:"mint_rule"`
	BurnRule     core.AccessRule  `json:"burn_rule"`
	WithdrawRule core.AccessRule  `json:"withdraw_rule"`
	DepositRule  core.AccessRule  `json:"deposit_rule"`
}

// RegisterResourceManager wires the ResourceManager blueprint's "create"
// function and "mint"/"burn" methods into t.
func RegisterResourceManager(t *core.NativeDispatchTable) {
	t.RegisterFunction(ResourceManagerBlueprint, "create", resourceManagerCreate)
	t.RegisterMethod(ResourceManagerBlueprint, "mint", resourceManagerMint)
	t.RegisterMethod(ResourceManagerBlueprint, "burn", resourceManagerBurn)
}

func resourceManagerCreate(k *core.Kernel, args []byte) ([]byte, error) {
	var a resourceManagerCreateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "resource_manager.create: malformed args")
	}

	rmId, err := k.Ids.NewResourceManagerId()
	if err != nil {
		return nil, err
	}
	state := core.ResourceManagerState{
		Fungible:     a.Fungible,
		Divisibility: a.Divisibility,
		MintRule:     a.MintRule,
		BurnRule:     a.BurnRule,
		WithdrawRule: a.WithdrawRule,
		DepositRule:  a.DepositRule,
	}
	node := core.NewHeapNode()
	node.PutSubstate(resourceManagerOffset, mustMarshal(state))
	if err := k.CreateNode(rmId, node); err != nil {
		return nil, err
	}
	addr, err := k.Globalize(rmId)
	if err != nil {
		return nil, err
	}
	return json.Marshal(addr)
}

type resourceManagerMintArgs struct {
	Amount uint64 `json:"amount"`
}

// resourceManagerMint increases total supply and returns a fresh bucket.
// The kernel's checkAuthorization step only gates *component* method calls
// via Component::Info method rules; a resource manager is not a component,
// so the mint policy is enforced here directly against the caller's
// collected auth-zone proofs via AuthModule.CheckMint.
func resourceManagerMint(k *core.Kernel, receiver core.NodeId, args []byte) ([]byte, error) {
	var a resourceManagerMintArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "resource_manager.mint: malformed args")
	}

	h, err := k.LockSubstate(receiver, resourceManagerOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(h)
	raw, err := k.GetRefMut(h)
	if err != nil {
		return nil, err
	}
	var rm core.ResourceManagerState
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "resource_manager: malformed state")
	}
	if !rm.Fungible {
		return nil, core.NewKernelError(core.ErrValueNotAllowed, "mint amount on non-fungible resource manager")
	}
	if err := k.Auth.CheckMint(rm, k.CallerProofs(), k.VirtualSigners()); err != nil {
		return nil, err
	}
	rm.TotalSupply += a.Amount
	if err := k.WriteSubstate(h, mustMarshal(rm)); err != nil {
		return nil, err
	}

	addr := k.Ids.GlobalAddressFor(receiver)
	bucketId, err := k.Ids.NewBucketId()
	if err != nil {
		return nil, err
	}
	resource := core.Resource{Address: resourceAddressFromGlobal(addr), Fungible: true, Amount: a.Amount}
	if err := k.CreateNode(bucketId, newBucketNode(resource)); err != nil {
		return nil, err
	}
	return json.Marshal(bucketId)
}

type resourceManagerBurnArgs struct {
	Bucket core.NodeId `json:"bucket"`
}

func resourceManagerBurn(k *core.Kernel, receiver core.NodeId, args []byte) ([]byte, error) {
	var a resourceManagerBurnArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "resource_manager.burn: malformed args")
	}

	bh, err := k.LockSubstate(a.Bucket, bucketOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	bRaw, err := k.GetRef(bh)
	if err != nil {
		k.DropLock(bh)
		return nil, err
	}
	var bucket bucketPayload
	_ = json.Unmarshal(bRaw, &bucket)
	emptied := bucketPayload{Resource: core.Resource{Address: bucket.Resource.Address, Fungible: bucket.Resource.Fungible}}
	err = k.WriteSubstate(bh, mustMarshal(emptied))
	k.DropLock(bh)
	if err != nil {
		return nil, err
	}

	h, err := k.LockSubstate(receiver, resourceManagerOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(h)
	raw, err := k.GetRefMut(h)
	if err != nil {
		return nil, err
	}
	var rm core.ResourceManagerState
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "resource_manager: malformed state")
	}
	if err := k.Auth.CheckBurn(rm, k.CallerProofs(), k.VirtualSigners()); err != nil {
		return nil, err
	}
	if rm.Fungible {
		if bucket.Resource.Amount > rm.TotalSupply {
			return nil, core.NewKernelError(core.ErrValueNotAllowed, "burn amount exceeds total supply")
		}
		rm.TotalSupply -= bucket.Resource.Amount
	} else {
		rm.BurnedIds = append(rm.BurnedIds, bucket.Resource.NFIds...)
	}
	if err := k.WriteSubstate(h, mustMarshal(rm)); err != nil {
		return nil, err
	}
	if _, err := k.DropNode(a.Bucket); err != nil {
		return nil, err
	}
	return []byte("{}"), nil
}

func resourceAddressFromGlobal(addr core.GlobalAddress) core.ResourceAddress {
	var out core.ResourceAddress
	copy(out[:], addr.Address[:])
	return out
}
