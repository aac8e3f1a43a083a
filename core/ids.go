package core

// Identifier Allocator (C1).
//
// Deterministic ID generation keyed on the transaction hash. One counter per
// ID class is mixed with the tx hash via hash_based_derivation so that two
// independent replayers given the same (tx_hash, instruction sequence)
// allocate byte-identical node ids. Collision resistance against
// pre-existing on-chain ids comes from the tx-hash mix; determinism comes
// from the monotonic per-class counter, never from time or randomness.
//
// Hash-based derivation generalizes a single fixed-width address scheme to
// the full NodeId family, each kind with its own byte layout.

import (
	"crypto/sha256"
	"encoding/binary"
)

// idClass enumerates the per-node-kind allocation counters.
type idClass uint8

const (
	classBucket idClass = iota
	classProof
	classVault
	classKVStore
	classNonFungibleStore
	classComponent
	classPackage
	classResource
	classSystemComponent
	classAuthZone
	classUUID
)

// IdAllocator derives deterministic ids for every node kind from the
// transaction hash and a monotonic counter, one per idClass.
type IdAllocator struct {
	txHash   [32]byte
	counters [classUUID + 1]uint32
}

// NewIdAllocator seeds an allocator for a single transaction.
func NewIdAllocator(txHash [32]byte) *IdAllocator {
	return &IdAllocator{txHash: txHash}
}

// overflow is practically unreachable (2^32 allocations of one class within
// a single transaction) but is still a checked failure, converted by the
// kernel into a fatal IdAllocationError rather than silently wrapping the
// counter.
func (a *IdAllocator) next(class idClass) (uint32, error) {
	if a.counters[class] == ^uint32(0) {
		return 0, NewKernelError(ErrIdAllocationError, "counter overflow")
	}
	c := a.counters[class]
	a.counters[class]++
	return c, nil
}

// hashBasedDerivation mixes the tx hash, a class tag, and the counter into a
// 32-byte digest; entity-class node ids (component/resource/package) take
// their 25-byte body from this digest.
func (a *IdAllocator) hashBasedDerivation(class idClass, counter uint32) [32]byte {
	h := sha256.New()
	h.Write(a.txHash[:])
	h.Write([]byte{byte(class)})
	var cb [4]byte
	binary.LittleEndian.PutUint32(cb[:], counter)
	h.Write(cb[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (a *IdAllocator) NewBucketId() (NodeId, error) {
	c, err := a.next(classBucket)
	if err != nil {
		return NodeId{}, err
	}
	return newCounterNodeId(NodeBucket, c), nil
}

func (a *IdAllocator) NewProofId() (NodeId, error) {
	c, err := a.next(classProof)
	if err != nil {
		return NodeId{}, err
	}
	return newCounterNodeId(NodeProof, c), nil
}

func (a *IdAllocator) NewVaultId() (NodeId, error) {
	c, err := a.next(classVault)
	if err != nil {
		return NodeId{}, err
	}
	return newHashedNodeId(NodeVault, a.txHash, c), nil
}

func (a *IdAllocator) NewKVStoreId() (NodeId, error) {
	c, err := a.next(classKVStore)
	if err != nil {
		return NodeId{}, err
	}
	return newHashedNodeId(NodeKeyValueStore, a.txHash, c), nil
}

func (a *IdAllocator) NewNonFungibleStoreId() (NodeId, error) {
	c, err := a.next(classNonFungibleStore)
	if err != nil {
		return NodeId{}, err
	}
	return newHashedNodeId(NodeNonFungibleStore, a.txHash, c), nil
}

func (a *IdAllocator) newEntityId(kind NodeKind, class idClass, tag byte) (NodeId, error) {
	c, err := a.next(class)
	if err != nil {
		return NodeId{}, err
	}
	digest := a.hashBasedDerivation(class, c)
	var body [25]byte
	copy(body[:], digest[:25])
	return newEntityNodeId(kind, tag, body), nil
}

func (a *IdAllocator) NewComponentId() (NodeId, error) {
	return a.newEntityId(NodeComponent, classComponent, 0x01)
}

func (a *IdAllocator) NewPackageId() (NodeId, error) {
	return a.newEntityId(NodePackage, classPackage, 0x02)
}

func (a *IdAllocator) NewResourceManagerId() (NodeId, error) {
	return a.newEntityId(NodeResourceManager, classResource, 0x03)
}

func (a *IdAllocator) NewSystemComponentId() (NodeId, error) {
	return a.newEntityId(NodeSystem, classSystemComponent, 0x04)
}

func (a *IdAllocator) NewAuthZoneId() (NodeId, error) {
	c, err := a.next(classAuthZone)
	if err != nil {
		return NodeId{}, err
	}
	return newHashedNodeId(NodeAuthZoneStack, a.txHash, c), nil
}

// NewUUID implements the generate_uuid() kernel API: a 128-bit integer,
// still derived deterministically from the tx hash and the uuid counter so
// that replayers agree bit-for-bit, not backed by crypto/rand.
func (a *IdAllocator) NewUUID() ([16]byte, error) {
	c, err := a.next(classUUID)
	if err != nil {
		return [16]byte{}, err
	}
	digest := a.hashBasedDerivation(classUUID, c)
	var out [16]byte
	copy(out[:], digest[:16])
	return out, nil
}

// GlobalAddressFor derives the deterministic content-addressed Global
// address for a promoted local node, mixing the node's own id into the
// digest so that globalizing the same local node twice (which callers never
// do, but tests exercise) still produces the same address.
func (a *IdAllocator) GlobalAddressFor(local NodeId) GlobalAddress {
	h := sha256.New()
	h.Write(a.txHash[:])
	h.Write([]byte{0xA0})
	h.Write([]byte{byte(local.Kind)})
	h.Write(local.Bytes[:local.Kind.Len()])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return GlobalAddress{Kind: local.Kind, Address: out}
}
