package native

import (
	"encoding/json"

	"github.com/google/uuid"

	"vaultkernel/core"
)

// AccountBlueprint holds one vault per resource address behind an
// owner-badge withdraw rule, generalizing a flat balance map into
// per-resource vaults addressable the way the kernel's vault model
// requires.
const AccountBlueprint = "Account"

type accountState struct {
	OwnerBadge core.ResourceAddress                  `json:"owner_badge"`
	Nonce      string                                `json:"nonce"`
	Vaults     map[core.ResourceAddress]core.NodeId `json:"vaults"`
}

// RegisterAccount wires the Account blueprint's "new" function and its
// "deposit"/"withdraw" methods into t. Withdraw is gated behind the owner
// badge at the component level (Component::Info method rules), evaluated by
// the kernel's own checkAuthorization step before this file's withdraw
// handler ever runs -- the handler itself never touches proofs.
func RegisterAccount(t *core.NativeDispatchTable) {
	t.RegisterFunction(AccountBlueprint, "new", accountNew)
	t.RegisterMethod(AccountBlueprint, "deposit", accountDeposit)
	t.RegisterMethod(AccountBlueprint, "withdraw", accountWithdraw)
}

type accountNewArgs struct {
	OwnerBadge core.ResourceAddress `json:"owner_badge"`
}

func accountNew(k *core.Kernel, args []byte) ([]byte, error) {
	var a accountNewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "account.new: malformed args")
	}

	compId, err := k.Ids.NewComponentId()
	if err != nil {
		return nil, err
	}
	// The nonce is formatted through google/uuid purely for its standard
	// string form; the bits themselves come from the kernel's deterministic
	// generate_uuid (tx-hash derived), never crypto/rand, so two replayers
	// of the same transaction still agree on the account's nonce.
	rawUUID, err := k.GenerateUUID()
	if err != nil {
		return nil, err
	}
	nonce := uuid.UUID(rawUUID).String()
	state := accountState{OwnerBadge: a.OwnerBadge, Nonce: nonce, Vaults: map[core.ResourceAddress]core.NodeId{}}
	payload, _ := json.Marshal(state)

	methodRules := map[string]core.AccessRule{
		"deposit":  core.AllowAll(),
		"withdraw": core.RequireAmount(a.OwnerBadge, 1),
	}
	node := newComponentNode(compId, AccountBlueprint, methodRules, payload)
	if err := k.CreateNode(compId, node); err != nil {
		return nil, err
	}
	addr, err := k.Globalize(compId)
	if err != nil {
		return nil, err
	}
	return json.Marshal(addr)
}

type accountDepositArgs struct {
	Bucket core.NodeId `json:"bucket"`
}

// accountDeposit moves the caller-supplied bucket's contents into the
// account's vault for that resource address, creating the vault on first
// deposit. The bucket node itself is consumed (dropped) once its resource is
// merged.
func accountDeposit(k *core.Kernel, receiver core.NodeId, args []byte) ([]byte, error) {
	var a accountDepositArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "account.deposit: malformed args")
	}

	bh, err := k.LockSubstate(a.Bucket, bucketOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	bRaw, err := k.GetRefMut(bh)
	if err != nil {
		k.DropLock(bh)
		return nil, err
	}
	var bucket bucketPayload
	_ = json.Unmarshal(bRaw, &bucket)
	emptied := bucketPayload{Resource: core.Resource{Address: bucket.Resource.Address, Fungible: bucket.Resource.Fungible}}
	if err := k.WriteSubstate(bh, mustMarshal(emptied)); err != nil {
		k.DropLock(bh)
		return nil, err
	}
	k.DropLock(bh)

	sh, err := k.LockSubstate(receiver, componentStateOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(sh)
	raw, err := k.GetRefMut(sh)
	if err != nil {
		return nil, err
	}
	var st accountState
	if err := json.Unmarshal(decodeComponentStateData(raw), &st); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "account: malformed state")
	}

	vaultId, ok := st.Vaults[bucket.Resource.Address]
	if !ok {
		vaultId, err = k.Ids.NewVaultId()
		if err != nil {
			return nil, err
		}
		if err := k.CreateNode(vaultId, newVaultNode(bucket.Resource)); err != nil {
			return nil, err
		}
		st.Vaults[bucket.Resource.Address] = vaultId
	} else {
		vh, err := k.LockSubstate(vaultId, vaultOffset, core.LockMutable)
		if err != nil {
			return nil, err
		}
		vRaw, err := k.GetRefMut(vh)
		if err != nil {
			k.DropLock(vh)
			return nil, err
		}
		var vault vaultPayload
		_ = json.Unmarshal(vRaw, &vault)
		if err := vault.Resource.Put(bucket.Resource); err != nil {
			k.DropLock(vh)
			return nil, err
		}
		if err := k.WriteSubstate(vh, mustMarshal(vault)); err != nil {
			k.DropLock(vh)
			return nil, err
		}
		k.DropLock(vh)
	}

	newState := struct {
		Data []byte `json:"data"`
	}{Data: mustMarshal(st)}
	if err := k.WriteSubstate(sh, mustMarshal(newState)); err != nil {
		return nil, err
	}
	if _, err := k.DropNode(a.Bucket); err != nil {
		return nil, err
	}
	return []byte("{}"), nil
}

type accountWithdrawArgs struct {
	ResourceAddress core.ResourceAddress `json:"resource_address"`
	Amount          uint64               `json:"amount"`
}

func accountWithdraw(k *core.Kernel, receiver core.NodeId, args []byte) ([]byte, error) {
	var a accountWithdrawArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "account.withdraw: malformed args")
	}

	sh, err := k.LockSubstate(receiver, componentStateOffset, core.LockRead)
	if err != nil {
		return nil, err
	}
	raw, err := k.GetRef(sh)
	k.DropLock(sh)
	if err != nil {
		return nil, err
	}
	var st accountState
	if err := json.Unmarshal(decodeComponentStateData(raw), &st); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "account: malformed state")
	}
	vaultId, ok := st.Vaults[a.ResourceAddress]
	if !ok {
		return nil, core.NewKernelError(core.ErrValueNotAllowed, "no vault for resource")
	}

	vh, err := k.LockSubstate(vaultId, vaultOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(vh)
	vRaw, err := k.GetRefMut(vh)
	if err != nil {
		return nil, err
	}
	var vault vaultPayload
	_ = json.Unmarshal(vRaw, &vault)
	taken, err := vault.Resource.TakeAmount(a.Amount)
	if err != nil {
		return nil, err
	}
	if err := k.WriteSubstate(vh, mustMarshal(vault)); err != nil {
		return nil, err
	}

	bucketId, err := k.Ids.NewBucketId()
	if err != nil {
		return nil, err
	}
	if err := k.CreateNode(bucketId, newBucketNode(taken)); err != nil {
		return nil, err
	}
	return json.Marshal(bucketId)
}
