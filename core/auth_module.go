package core

// Authorization Module (C6).
//
// Resolves method/function authorization rules against the current auth
// zone (stack of proofs): an access rule is a boolean expression over
// "proof of N units of resource R" or "proof of any id from set S of
// resource R," evaluated against a per-frame proof stack rather than a
// persistent role grant.

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/crypto"
)

// RuleKind tags the AccessRule expression tree.
type RuleKind int

const (
	RuleAllowAll RuleKind = iota
	RuleDenyAll
	RuleRequireAmount
	RuleRequireAnyId
	RuleAnd
	RuleOr
	RuleNot
)

// AccessRule is a boolean expression over "this auth zone proves ownership
// of at least N units of resource R" or "proves any id from set S of
// resource R," composed with And/Or/Not.
type AccessRule struct {
	Kind      RuleKind     `json:"kind"`
	Resource  ResourceAddress `json:"resource,omitempty"`
	MinAmount uint64       `json:"min_amount,omitempty"`
	Ids       []string     `json:"ids,omitempty"`
	Sub       []AccessRule `json:"sub,omitempty"`
}

func AllowAll() AccessRule { return AccessRule{Kind: RuleAllowAll} }
func DenyAll() AccessRule  { return AccessRule{Kind: RuleDenyAll} }

func RequireAmount(addr ResourceAddress, min uint64) AccessRule {
	return AccessRule{Kind: RuleRequireAmount, Resource: addr, MinAmount: min}
}

func RequireAnyId(addr ResourceAddress, ids []string) AccessRule {
	return AccessRule{Kind: RuleRequireAnyId, Resource: addr, Ids: ids}
}

func And(rules ...AccessRule) AccessRule { return AccessRule{Kind: RuleAnd, Sub: rules} }
func Or(rules ...AccessRule) AccessRule  { return AccessRule{Kind: RuleOr, Sub: rules} }
func Not(rule AccessRule) AccessRule     { return AccessRule{Kind: RuleNot, Sub: []AccessRule{rule}} }

// VirtualSignerSet reports, for the current transaction, which resource
// addresses are satisfied by a presented signature even without an
// explicit proof -- a signer's virtual badge, resolved against the
// transaction's signature set.
type VirtualSignerSet map[ResourceAddress]bool

// SignatureScheme names a supported virtual-signer signature scheme.
type SignatureScheme string

const (
	SchemeEcdsaSecp256k1 SignatureScheme = "ecdsa-secp256k1"
	SchemeEddsaEd25519   SignatureScheme = "eddsa-ed25519"
)

// TransactionSignature is one signature presented alongside a transaction.
// Verifying it against the transaction hash derives a virtual badge the
// auth module treats as an implicit proof, so a signer doesn't have to
// first withdraw and present an explicit badge resource to satisfy a rule
// keyed on their own public key's resource address.
type TransactionSignature struct {
	Scheme    SignatureScheme `json:"scheme"`
	PublicKey []byte          `json:"public_key"`
	Signature []byte          `json:"signature"`
}

// DeriveVirtualSigners verifies every presented signature against txHash
// and returns the set of resource addresses -- one per valid signer,
// folded from the public key the same way pubKeyToBadgeAddress folds an
// ed25519 owner badge -- to treat as virtually proved for this
// transaction. A signature that fails to verify is dropped rather than
// failing the whole batch, so one malformed entry in a multi-signed
// transaction doesn't deny every other signer's badge.
func DeriveVirtualSigners(txHash [32]byte, sigs []TransactionSignature) VirtualSignerSet {
	out := make(VirtualSignerSet, len(sigs))
	for _, sig := range sigs {
		addr, ok := verifyTransactionSignature(txHash, sig)
		if !ok {
			continue
		}
		out[addr] = true
	}
	return out
}

func verifyTransactionSignature(txHash [32]byte, sig TransactionSignature) (ResourceAddress, bool) {
	switch sig.Scheme {
	case SchemeEddsaEd25519:
		if len(sig.PublicKey) != ed25519.PublicKeySize {
			return ResourceAddress{}, false
		}
		if !ed25519.Verify(ed25519.PublicKey(sig.PublicKey), txHash[:], sig.Signature) {
			return ResourceAddress{}, false
		}
		return sha256.Sum256(sig.PublicKey), true
	case SchemeEcdsaSecp256k1:
		if len(sig.Signature) != 64 {
			return ResourceAddress{}, false
		}
		if !crypto.VerifySignature(sig.PublicKey, txHash[:], sig.Signature) {
			return ResourceAddress{}, false
		}
		return sha256.Sum256(sig.PublicKey), true
	default:
		return ResourceAddress{}, false
	}
}

// AuthModule evaluates access rules against an auth zone.
type AuthModule struct{}

func NewAuthModule() *AuthModule { return &AuthModule{} }

// Evaluate reports whether the given proofs (plus any virtual signer
// match) satisfy rule.
func (m *AuthModule) Evaluate(rule AccessRule, proofs []ProofState, virtual VirtualSignerSet) bool {
	switch rule.Kind {
	case RuleAllowAll:
		return true
	case RuleDenyAll:
		return false
	case RuleRequireAmount:
		if virtual[rule.Resource] {
			return true
		}
		var total uint64
		for _, p := range proofs {
			if p.Resource.Address == rule.Resource && p.Resource.Fungible {
				total += p.Resource.Amount
			}
		}
		return total >= rule.MinAmount
	case RuleRequireAnyId:
		if virtual[rule.Resource] {
			return true
		}
		want := make(map[string]bool, len(rule.Ids))
		for _, id := range rule.Ids {
			want[id] = true
		}
		for _, p := range proofs {
			if p.Resource.Address != rule.Resource || p.Resource.Fungible {
				continue
			}
			for _, id := range p.Resource.NFIds {
				if want[id] {
					return true
				}
			}
		}
		return false
	case RuleAnd:
		for _, sub := range rule.Sub {
			if !m.Evaluate(sub, proofs, virtual) {
				return false
			}
		}
		return true
	case RuleOr:
		for _, sub := range rule.Sub {
			if m.Evaluate(sub, proofs, virtual) {
				return true
			}
		}
		return false
	case RuleNot:
		return !m.Evaluate(rule.Sub[0], proofs, virtual)
	default:
		return false
	}
}

// CheckMethod resolves the authorization rule for a method call against the
// component's declared method rules (read from Component::Info) and
// evaluates it. Failure is NotAuthorized, which is non-recoverable by the
// callee: the invoke never happens.
func (m *AuthModule) CheckMethod(info ComponentInfoState, fn string, proofs []ProofState, virtual VirtualSignerSet) error {
	rule, ok := info.MethodRules[fn]
	if !ok {
		rule = DenyAll()
	}
	if !m.Evaluate(rule, proofs, virtual) {
		return NewKernelError(ErrNotAuthorized, fn)
	}
	return nil
}

// CheckWithdraw evaluates a vault's withdraw rule, used by account/vault
// blueprints that gate outgoing transfers.
func (m *AuthModule) CheckWithdraw(rm ResourceManagerState, proofs []ProofState, virtual VirtualSignerSet) error {
	if !m.Evaluate(rm.WithdrawRule, proofs, virtual) {
		return NewKernelError(ErrNotAuthorized, "withdraw")
	}
	return nil
}

// CheckMint evaluates a resource manager's mint rule.
func (m *AuthModule) CheckMint(rm ResourceManagerState, proofs []ProofState, virtual VirtualSignerSet) error {
	if !m.Evaluate(rm.MintRule, proofs, virtual) {
		return NewKernelError(ErrNotAuthorized, "mint")
	}
	return nil
}

// CheckBurn evaluates a resource manager's burn rule for a consumed-receiver
// invocation (e.g. BurnBucket).
func (m *AuthModule) CheckBurn(rm ResourceManagerState, proofs []ProofState, virtual VirtualSignerSet) error {
	if !m.Evaluate(rm.BurnRule, proofs, virtual) {
		return NewKernelError(ErrNotAuthorized, "burn")
	}
	return nil
}
