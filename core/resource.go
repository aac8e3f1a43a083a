package core

// Resource Semantics (C7).
//
// Buckets, vaults, proofs, worktop, auth zone and the invariants around
// them: non-duplication, non-drop of non-empty assets, amount/id
// conservation. The fungible-amount shape generalizes ordinary
// token/balance bookkeeping with an explicit non-fungible id set.

import (
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Well-known substate offsets used across node kinds.
var (
	bucketOffset     = SubstateOffset{Category: "Bucket", Variant: "Bucket"}
	proofOffset      = SubstateOffset{Category: "Proof", Variant: "Proof"}
	vaultOffset      = SubstateOffset{Category: "Vault", Variant: "Vault"}
	worktopOffset    = SubstateOffset{Category: "Worktop", Variant: "Worktop"}
	authZoneOffset   = SubstateOffset{Category: "AuthZoneStack", Variant: "AuthZoneStack"}
	componentInfoOff = SubstateOffset{Category: "Component", Variant: "Info"}
	componentStateOff = SubstateOffset{Category: "Component", Variant: "State"}
	resourceMgrOffset = SubstateOffset{Category: "ResourceManager", Variant: "ResourceManager"}
	packageOffset     = SubstateOffset{Category: "Package", Variant: "Package"}
	globalOffset      = SubstateOffset{Category: "Global", Variant: "Global"}
)

func kvEntryOffset(key []byte) SubstateOffset {
	return SubstateOffset{Category: "KeyValueStore", Variant: "Entry", Key: string(key)}
}

func nfEntryOffset(key []byte) SubstateOffset {
	return SubstateOffset{Category: "NonFungibleStore", Variant: "Entry", Key: string(key)}
}

// ResourceAddress identifies a resource's ResourceManager Global address.
type ResourceAddress [32]byte

// MarshalText renders the address as hex, letting ResourceAddress serve as
// a JSON object key (encoding/json requires map keys to be strings, ints,
// or encoding.TextMarshaler) in addition to an ordinary struct field.
func (a ResourceAddress) MarshalText() ([]byte, error) {
	dst := make([]byte, hex.EncodedLen(len(a)))
	hex.Encode(dst, a[:])
	return dst, nil
}

// UnmarshalText is MarshalText's inverse.
func (a *ResourceAddress) UnmarshalText(text []byte) error {
	dst := make([]byte, hex.DecodedLen(len(text)))
	if _, err := hex.Decode(dst, text); err != nil {
		return err
	}
	copy(a[:], dst)
	return nil
}

// Resource is a snapshot container: either an amount (fungible) or a set of
// non-fungible ids, always tagged by its resource address.
type Resource struct {
	Address   ResourceAddress `json:"address"`
	Fungible  bool            `json:"fungible"`
	Amount    uint64          `json:"amount,omitempty"`
	NFIds     []string        `json:"nf_ids,omitempty"`
}

// Put is the exported form of put, used by native blueprint packages
// outside package core.
func (r *Resource) Put(other Resource) error { return r.put(other) }

// TakeAmount is the exported form of takeAmount.
func (r *Resource) TakeAmount(amount uint64) (Resource, error) { return r.takeAmount(amount) }

// TakeIds is the exported form of takeIds.
func (r *Resource) TakeIds(ids []string) (Resource, error) { return r.takeIds(ids) }

func (r Resource) IsEmpty() bool {
	if r.Fungible {
		return r.Amount == 0
	}
	return len(r.NFIds) == 0
}

// quantity reports the fungible amount, or the cardinality of the
// non-fungible id set, used uniformly by conservation checks.
func (r Resource) quantity() uint64 {
	if r.Fungible {
		return r.Amount
	}
	return uint64(len(r.NFIds))
}

// put merges other into r in place; both must share Address and Fungible.
func (r *Resource) put(other Resource) error {
	if r.Fungible != other.Fungible || (r.quantity() > 0 && r.Address != other.Address) {
		return NewKernelError(ErrValueNotAllowed, "resource address/type mismatch")
	}
	r.Address = other.Address
	if r.Fungible {
		r.Amount += other.Amount
	} else {
		seen := make(map[string]bool, len(r.NFIds))
		for _, id := range r.NFIds {
			seen[id] = true
		}
		for _, id := range other.NFIds {
			if seen[id] {
				return NewKernelError(ErrValueNotAllowed, "duplicate non-fungible id "+id)
			}
			r.NFIds = append(r.NFIds, id)
			seen[id] = true
		}
		sort.Strings(r.NFIds)
	}
	return nil
}

// takeAmount removes amount units from a fungible resource, returning the
// taken Resource. Errors if insufficient balance.
func (r *Resource) takeAmount(amount uint64) (Resource, error) {
	if !r.Fungible {
		return Resource{}, NewKernelError(ErrValueNotAllowed, "takeAmount on non-fungible resource")
	}
	if amount > r.Amount {
		return Resource{}, NewKernelError(ErrValueNotAllowed, "insufficient balance")
	}
	r.Amount -= amount
	return Resource{Address: r.Address, Fungible: true, Amount: amount}, nil
}

// takeIds removes the given ids from a non-fungible resource.
func (r *Resource) takeIds(ids []string) (Resource, error) {
	if r.Fungible {
		return Resource{}, NewKernelError(ErrValueNotAllowed, "takeIds on fungible resource")
	}
	have := make(map[string]bool, len(r.NFIds))
	for _, id := range r.NFIds {
		have[id] = true
	}
	for _, id := range ids {
		if !have[id] {
			return Resource{}, NewKernelError(ErrValueNotAllowed, "non-fungible id not present: "+id)
		}
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	remaining := r.NFIds[:0:0]
	for _, id := range r.NFIds {
		if !want[id] {
			remaining = append(remaining, id)
		}
	}
	r.NFIds = remaining
	return Resource{Address: r.Address, Fungible: false, NFIds: append([]string(nil), ids...)}, nil
}

// BucketState is the Bucket::Bucket substate payload.
type BucketState struct {
	Resource  Resource `json:"resource"`
	LockCount int      `json:"lock_count"`
}

func encodeBucketState(b BucketState) []byte {
	data, _ := json.Marshal(b)
	return data
}

func decodeBucketState(data []byte) BucketState {
	var b BucketState
	_ = json.Unmarshal(data, &b)
	return b
}

// ProofState is the Proof::Proof substate payload: a snapshot of
// (resource_address, amount-or-id-set, source_ref) plus the restricted
// flag. Creating a proof increments a lock on the source container;
// dropping it decrements.
type ProofState struct {
	Resource   Resource `json:"resource"`
	Restricted bool     `json:"restricted"`
	Source     NodeId   `json:"source"` // the bucket/vault this proof locks
}

func encodeProofState(p ProofState) []byte {
	data, _ := json.Marshal(p)
	return data
}

func decodeProofState(data []byte) ProofState {
	var p ProofState
	_ = json.Unmarshal(data, &p)
	return p
}

// VaultState is the Vault::Vault substate payload, persistent across
// transactions.
type VaultState struct {
	Resource Resource `json:"resource"`
}

func encodeVaultState(v VaultState) []byte {
	data, _ := json.Marshal(v)
	return data
}

func decodeVaultState(data []byte) VaultState {
	var v VaultState
	_ = json.Unmarshal(data, &v)
	return v
}

// WorktopState tracks, per resource address, the bucket node id currently
// holding that resource's slot -- "a multiset of buckets indexed by
// resource address."
type WorktopState struct {
	Slots map[ResourceAddress]NodeId `json:"-"`
}

// AuthZoneState is the AuthZoneStack::AuthZoneStack substate: an ordered
// stack of proof node ids plus the set of virtualizable resource addresses
// for this frame.
type AuthZoneState struct {
	Proofs        []NodeId          `json:"proofs"`
	Virtualizable []ResourceAddress `json:"virtualizable"`
}

// ResourceManagerState is the ResourceManager::ResourceManager substate:
// mint policy, total supply, divisibility, access rules.
type ResourceManagerState struct {
	Fungible     bool        `json:"fungible"`
	Divisibility uint8       `json:"divisibility"`
	TotalSupply  uint64      `json:"total_supply"`
	BurnedIds    []string    `json:"burned_ids,omitempty"`
	MintRule     AccessRule  `json:"mint_rule"`
	BurnRule     AccessRule  `json:"burn_rule"`
	WithdrawRule AccessRule  `json:"withdraw_rule"`
	DepositRule  AccessRule  `json:"deposit_rule"`
}

func encodeResourceManagerState(r ResourceManagerState) []byte {
	data, _ := json.Marshal(r)
	return data
}

func decodeResourceManagerState(data []byte) ResourceManagerState {
	var r ResourceManagerState
	_ = json.Unmarshal(data, &r)
	return r
}

// ComponentInfoState is the Component::Info substate: package reference,
// blueprint name, and the method-level access rules keyed by fn_ident.
type ComponentInfoState struct {
	Package       NodeId                `json:"-"`
	Blueprint     string                `json:"blueprint"`
	MethodRules   map[string]AccessRule `json:"method_rules"`
}

func encodeComponentInfo(c ComponentInfoState) []byte {
	data, _ := json.Marshal(c)
	return data
}

func decodeComponentInfo(data []byte) ComponentInfoState {
	var c ComponentInfoState
	_ = json.Unmarshal(data, &c)
	return c
}

// ComponentStateState is the Component::State substate: opaque state bytes
// plus the child node references discovered within them -- state bytes are
// opaque to the kernel but decoded to discover child node references.
type ComponentStateState struct {
	Data     []byte   `json:"data"`
	Children []NodeId `json:"-"`
}
