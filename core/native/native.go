package native

import "vaultkernel/core"

// RegisterAll wires every built-in blueprint into t, the set a freshly
// constructed Kernel's Natives table needs for the scenarios in
// cmd/txrunner and the kernel's own tests.
func RegisterAll(t *core.NativeDispatchTable) {
	RegisterFaucet(t)
	RegisterAccount(t)
	RegisterEpochManager(t)
	RegisterResourceManager(t)
}
