package native

import (
	"encoding/json"

	"vaultkernel/core"
)

// Substate offsets mirrored from the kernel's own resource.go; native
// blueprints live outside package core so they address substates by the
// same (Category, Variant) pairs rather than the kernel's unexported
// offset variables.
var (
	componentInfoOffset  = core.SubstateOffset{Category: "Component", Variant: "Info"}
	componentStateOffset = core.SubstateOffset{Category: "Component", Variant: "State"}
	bucketOffset         = core.SubstateOffset{Category: "Bucket", Variant: "Bucket"}
	vaultOffset          = core.SubstateOffset{Category: "Vault", Variant: "Vault"}
	resourceManagerOffset = core.SubstateOffset{Category: "ResourceManager", Variant: "ResourceManager"}
)

type bucketPayload struct {
	Resource  core.Resource `json:"resource"`
	LockCount int           `json:"lock_count"`
}

func newBucketNode(resource core.Resource) *core.HeapNode {
	n := core.NewHeapNode()
	n.PutSubstate(bucketOffset, mustMarshal(bucketPayload{Resource: resource}))
	return n
}

type vaultPayload struct {
	Resource core.Resource `json:"resource"`
}

func newVaultNode(resource core.Resource) *core.HeapNode {
	n := core.NewHeapNode()
	n.PutSubstate(vaultOffset, mustMarshal(vaultPayload{Resource: resource}))
	return n
}

// newComponentNode builds a Component node with an Info substate (blueprint
// name, method access rules -- enforced by the kernel's own
// checkAuthorization step before a native method handler ever runs, so
// handlers never re-derive authorization themselves) and a State substate
// carrying the caller's opaque payload. methodRules may be nil; a method
// with no entry in methodRules is denied (the auth module defaults a
// missing rule to DenyAll).
func newComponentNode(_ core.NodeId, blueprint string, methodRules map[string]core.AccessRule, statePayload []byte) *core.HeapNode {
	if methodRules == nil {
		methodRules = map[string]core.AccessRule{}
	}
	info := struct {
		Blueprint   string                     `json:"blueprint"`
		MethodRules map[string]core.AccessRule `json:"method_rules"`
	}{Blueprint: blueprint, MethodRules: methodRules}
	state := struct {
		Data []byte `json:"data"`
	}{Data: statePayload}
	n := core.NewHeapNode()
	n.PutSubstate(componentInfoOffset, mustMarshal(info))
	n.PutSubstate(componentStateOffset, mustMarshal(state))
	return n
}

func mustMarshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// componentStateWire mirrors core/resource.go's ComponentStateState wire
// shape: Data carries the blueprint's own opaque, component-specific bytes.
type componentStateWire struct {
	Data []byte `json:"data"`
}

// decodeComponentStateData unwraps a Component::State substate's raw payload
// down to the blueprint-specific bytes a native handler marshaled in.
func decodeComponentStateData(raw []byte) []byte {
	var w componentStateWire
	_ = json.Unmarshal(raw, &w)
	return w.Data
}
