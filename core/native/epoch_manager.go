package native

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"vaultkernel/core"
)

// EpochManagerBlueprint is the single well-known system component tracking
// the current epoch: a round/sequence counter generalized from a
// channel-local counter to one ledger-wide epoch.
const EpochManagerBlueprint = "EpochManager"

type epochManagerState struct {
	Epoch     uint64      `json:"epoch"`
	RoundHash common.Hash `json:"round_hash"`
}

// RegisterEpochManager wires the EpochManager blueprint's "create" function
// and "get_epoch"/"next_round" methods into t.
func RegisterEpochManager(t *core.NativeDispatchTable) {
	t.RegisterFunction(EpochManagerBlueprint, "create", epochManagerCreate)
	t.RegisterMethod(EpochManagerBlueprint, "get_epoch", epochManagerGetEpoch)
	t.RegisterMethod(EpochManagerBlueprint, "next_round", epochManagerNextRound)
}

func epochManagerCreate(k *core.Kernel, _ []byte) ([]byte, error) {
	compId, err := k.Ids.NewSystemComponentId()
	if err != nil {
		return nil, err
	}
	txHash, err := k.ReadTransactionHash()
	if err != nil {
		return nil, err
	}
	state := epochManagerState{Epoch: 0, RoundHash: common.BytesToHash(txHash[:])}
	payload, _ := json.Marshal(state)

	methodRules := map[string]core.AccessRule{
		"get_epoch":  core.AllowAll(),
		"next_round": core.AllowAll(),
	}
	node := newComponentNode(compId, EpochManagerBlueprint, methodRules, payload)
	if err := k.CreateNode(compId, node); err != nil {
		return nil, err
	}
	addr, err := k.Globalize(compId)
	if err != nil {
		return nil, err
	}
	return json.Marshal(addr)
}

func epochManagerGetEpoch(k *core.Kernel, receiver core.NodeId, _ []byte) ([]byte, error) {
	h, err := k.LockSubstate(receiver, componentStateOffset, core.LockRead)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(h)
	raw, err := k.GetRef(h)
	if err != nil {
		return nil, err
	}
	var st epochManagerState
	if err := json.Unmarshal(decodeComponentStateData(raw), &st); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "epoch_manager: malformed state")
	}
	return json.Marshal(st.Epoch)
}

// epochManagerNextRound advances the epoch by one and re-derives the round
// hash from the current transaction hash and the new epoch number, giving
// every round a distinct, deterministic, replay-stable hash.
func epochManagerNextRound(k *core.Kernel, receiver core.NodeId, _ []byte) ([]byte, error) {
	h, err := k.LockSubstate(receiver, componentStateOffset, core.LockMutable)
	if err != nil {
		return nil, err
	}
	defer k.DropLock(h)
	raw, err := k.GetRefMut(h)
	if err != nil {
		return nil, err
	}
	var st epochManagerState
	if err := json.Unmarshal(decodeComponentStateData(raw), &st); err != nil {
		return nil, core.NewKernelError(core.ErrDecodeError, "epoch_manager: malformed state")
	}
	st.Epoch++
	txHash, err := k.ReadTransactionHash()
	if err != nil {
		return nil, err
	}
	st.RoundHash = common.BytesToHash(append(txHash[:], byte(st.Epoch)))

	newState := struct {
		Data []byte `json:"data"`
	}{Data: mustMarshal(st)}
	if err := k.WriteSubstate(h, mustMarshal(newState)); err != nil {
		return nil, err
	}
	return json.Marshal(st.Epoch)
}
