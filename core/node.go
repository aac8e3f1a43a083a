package core

import (
	"encoding/binary"
	"fmt"
)

// NodeKind tags the union NodeId ranges over: a tagged union over
// {Bucket, Proof, Worktop, AuthZoneStack, Vault, KeyValueStore,
// NonFungibleStore, Package, ResourceManager, Component, System,
// Global(address)}.
type NodeKind uint8

const (
	NodeBucket NodeKind = iota
	NodeProof
	NodeWorktop
	NodeAuthZoneStack
	NodeVault
	NodeKeyValueStore
	NodeNonFungibleStore
	NodePackage
	NodeResourceManager
	NodeComponent
	NodeSystem
	NodeGlobal
)

func (k NodeKind) String() string {
	switch k {
	case NodeBucket:
		return "Bucket"
	case NodeProof:
		return "Proof"
	case NodeWorktop:
		return "Worktop"
	case NodeAuthZoneStack:
		return "AuthZoneStack"
	case NodeVault:
		return "Vault"
	case NodeKeyValueStore:
		return "KeyValueStore"
	case NodeNonFungibleStore:
		return "NonFungibleStore"
	case NodePackage:
		return "Package"
	case NodeResourceManager:
		return "ResourceManager"
	case NodeComponent:
		return "Component"
	case NodeSystem:
		return "System"
	case NodeGlobal:
		return "Global"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// transientKinds are never persisted to the substate store: proofs and
// buckets never live in the persistent store; vaults never live in a
// bucket.
func (k NodeKind) transient() bool {
	return k == NodeBucket || k == NodeProof || k == NodeWorktop || k == NodeAuthZoneStack
}

// NodeId identifies a node. The wire format is fixed-byte and varies
// by kind: bucket/proof are 4 bytes (LE counter), vault/kv-store/
// non-fungible-store are 36 bytes (32-byte tx-hash || 4-byte counter), and
// component/resource/package are 26 bytes (1-byte entity-type tag || 25-byte
// hash-derived body). The entity-type tag must survive any serialization
// round trip, so NodeId carries Kind explicitly rather than inferring it
// from payload length alone.
type NodeId struct {
	Kind    NodeKind
	Bytes   [36]byte // zero-padded; only the first Len() bytes are meaningful
	Address [32]byte // set only for NodeGlobal
}

// Len reports how many bytes of Bytes are significant for this NodeId's
// Kind, per its wire format.
func (k NodeKind) Len() int {
	switch k {
	case NodeBucket, NodeProof:
		return 4
	case NodeVault, NodeKeyValueStore, NodeNonFungibleStore, NodeWorktop, NodeAuthZoneStack, NodeSystem:
		return 36
	case NodeComponent, NodeResourceManager, NodePackage:
		return 26
	case NodeGlobal:
		return 32
	default:
		return 36
	}
}

func (n NodeId) String() string {
	l := n.Kind.Len()
	if n.Kind == NodeGlobal {
		return fmt.Sprintf("Global(%x)", n.Address)
	}
	return fmt.Sprintf("%s(%x)", n.Kind, n.Bytes[:l])
}

// Key returns a stable comparable representation usable as a Go map key.
func (n NodeId) Key() nodeIdKey {
	return nodeIdKey{kind: n.Kind, bytes: n.Bytes, address: n.Address}
}

type nodeIdKey struct {
	kind    NodeKind
	bytes   [36]byte
	address [32]byte
}

func newCounterNodeId(kind NodeKind, counter uint32) NodeId {
	var b [36]byte
	binary.LittleEndian.PutUint32(b[:4], counter)
	return NodeId{Kind: kind, Bytes: b}
}

func newHashedNodeId(kind NodeKind, txHash [32]byte, counter uint32) NodeId {
	var b [36]byte
	copy(b[:32], txHash[:])
	binary.LittleEndian.PutUint32(b[32:36], counter)
	return NodeId{Kind: kind, Bytes: b}
}

func newEntityNodeId(kind NodeKind, tag byte, body [25]byte) NodeId {
	var b [36]byte
	b[0] = tag
	copy(b[1:26], body[:])
	return NodeId{Kind: kind, Bytes: b}
}

// GlobalAddress derives the Global node wrapping a promoted local node: a
// thin indirection whose single substate names the underlying local node.
type GlobalAddress struct {
	Kind    NodeKind // the kind of node this address resolves to (Component, Package, ResourceManager, System)
	Address [32]byte
}

func (a GlobalAddress) String() string { return fmt.Sprintf("Global<%s>(%x)", a.Kind, a.Address) }

// SubstateOffset addresses one substate within a node, e.g.
// Component::Info, Component::State, Bucket::Bucket,
// KeyValueStore::Entry(key_bytes).
type SubstateOffset struct {
	Category string // e.g. "Component", "Bucket", "Vault", "ResourceManager", "Package", "AuthZoneStack"
	Variant  string // e.g. "Info", "State", "Bucket", "Entry"
	Key      string // populated only for KeyValueStore::Entry / NonFungibleStore::Entry; string (not []byte) so SubstateOffset stays usable as a map key
}

func (o SubstateOffset) String() string {
	if len(o.Key) > 0 {
		return fmt.Sprintf("%s::%s(%x)", o.Category, o.Variant, o.Key)
	}
	return fmt.Sprintf("%s::%s", o.Category, o.Variant)
}

// isEntryClass reports whether this offset addresses a KeyValueStore or
// NonFungibleStore entry. Entry-class offsets are the only offset class
// exempt from backing-store locking: concurrent keys are logically
// independent.
func (o SubstateOffset) isEntryClass() bool {
	return o.Variant == "Entry"
}

// SubstateId is the (NodeId, Offset) pair that is the unit of locking and
// persistence.
type SubstateId struct {
	Node   NodeId
	Offset SubstateOffset
}

func (s SubstateId) String() string { return fmt.Sprintf("%s/%s", s.Node, s.Offset) }

// EncodeKey produces the canonical opaque byte key the substate store sees.
// This encoding must be bit-exact across implementations, so it never
// varies with map iteration order or pointer identity.
func (s SubstateId) EncodeKey() []byte {
	l := s.Node.Kind.Len()
	out := make([]byte, 0, 1+l+1+len(s.Offset.Category)+1+len(s.Offset.Variant)+len(s.Offset.Key))
	out = append(out, byte(s.Node.Kind))
	if s.Node.Kind == NodeGlobal {
		out = append(out, s.Node.Address[:]...)
	} else {
		out = append(out, s.Node.Bytes[:l]...)
	}
	out = append(out, 0)
	out = append(out, s.Offset.Category...)
	out = append(out, ':')
	out = append(out, s.Offset.Variant...)
	if len(s.Offset.Key) > 0 {
		out = append(out, ':')
		out = append(out, s.Offset.Key...)
	}
	return out
}
