// Package guest runs a compiled Scrypto package export inside a Wasmer
// sandbox and exposes the kernel syscalls as WASM host imports:
// wasmer.NewStore/NewModule/NewInstance, host functions registered under
// the "env" namespace, linear-memory ptr/len marshaling, generalized from
// a handful of host opcodes to the full kernel API surface a guest export
// may call.
package guest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"vaultkernel/core"
)

// Interpreter runs compiled package bytecode under Wasmer. It satisfies
// core.Interpreter.
type Interpreter struct {
	engine *wasmer.Engine
}

func New() *Interpreter {
	return &Interpreter{engine: wasmer.NewEngine()}
}

// hostCtx is the per-call state the host imports close over: a kernel
// handle plus a gas-used accumulator.
type hostCtx struct {
	mem     *wasmer.Memory
	kernel  *core.Kernel
	gasUsed uint64
	failed  error
}

// Run compiles pkg, instantiates it, and calls the named export with args,
// returning the export's return payload and the guest-bytecode metering
// term accumulated over the call. Every kernel syscall issued by the guest
// reenters k directly -- an ordinary Go call, never a goroutine or
// suspension.
func (it *Interpreter) Run(pkg []byte, export string, args []byte, k *core.Kernel) ([]byte, uint64, error) {
	store := wasmer.NewStore(it.engine)
	mod, err := wasmer.NewModule(store, pkg)
	if err != nil {
		return nil, 0, fmt.Errorf("guest: compile package: %w", err)
	}

	hctx := &hostCtx{kernel: k}
	imports := registerHost(store, hctx)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, 0, fmt.Errorf("guest: instantiate: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, 0, errors.New("guest: wasm memory export missing")
	}
	hctx.mem = mem

	alloc, err := instance.Exports.GetFunction("alloc")
	if err != nil {
		return nil, 0, errors.New("guest: alloc export missing")
	}
	fn, err := instance.Exports.GetFunction(export)
	if err != nil {
		return nil, 0, fmt.Errorf("guest: export %q not found", export)
	}

	argPtr, err := alloc(int32(len(args)))
	if err != nil {
		return nil, 0, fmt.Errorf("guest: alloc args: %w", err)
	}
	copy(mem.Data()[argPtr.(int32):], args)

	retPtr, err := fn(argPtr, int32(len(args)))
	if err != nil {
		return nil, hctx.gasUsed, fmt.Errorf("guest: export trapped: %w", err)
	}
	if hctx.failed != nil {
		return nil, hctx.gasUsed, hctx.failed
	}

	out, err := readLenPrefixed(mem, toI32(retPtr))
	if err != nil {
		return nil, hctx.gasUsed, err
	}
	return out, hctx.gasUsed, nil
}

func toI32(v interface{}) int32 {
	switch t := v.(type) {
	case int32:
		return t
	default:
		return 0
	}
}

// readLenPrefixed reads a (u32 length || bytes) buffer the guest wrote at
// ptr, the convention every syscall response and the final export return
// value share.
func readLenPrefixed(mem *wasmer.Memory, ptr int32) ([]byte, error) {
	data := mem.Data()
	if int(ptr)+4 > len(data) {
		return nil, errors.New("guest: return pointer out of bounds")
	}
	l := int32(data[ptr]) | int32(data[ptr+1])<<8 | int32(data[ptr+2])<<16 | int32(data[ptr+3])<<24
	start := ptr + 4
	if int(start+l) > len(data) {
		return nil, errors.New("guest: return buffer out of bounds")
	}
	out := make([]byte, l)
	copy(out, data[start:start+l])
	return out, nil
}

func readBytes(h *hostCtx, ptr, ln int32) []byte {
	data := h.mem.Data()
	out := make([]byte, ln)
	copy(out, data[ptr:ptr+ln])
	return out
}

func writeLenPrefixed(h *hostCtx, ptr int32, payload []byte) {
	data := h.mem.Data()
	l := int32(len(payload))
	data[ptr] = byte(l)
	data[ptr+1] = byte(l >> 8)
	data[ptr+2] = byte(l >> 16)
	data[ptr+3] = byte(l >> 24)
	copy(data[ptr+4:], payload)
}

// syscallRequest is the JSON envelope a guest export writes into its own
// memory to issue one kernel syscall; syscallResponse is what the host
// writes back. JSON keeps the wire format uniform with the kernel's own
// substate encoding and lets the guest ABI stay a single marshal/unmarshal
// pair rather than one hand-rolled binary layout per syscall.
type syscallRequest struct {
	Op      string          `json:"op"`
	NodeId  core.NodeId     `json:"node_id,omitempty"`
	Offset  *offsetWire     `json:"offset,omitempty"`
	Flags   uint8           `json:"flags,omitempty"`
	Handle  uint32          `json:"handle,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Level   string          `json:"level,omitempty"`
	Event   string          `json:"event,omitempty"`
	Amount  uint64          `json:"amount,omitempty"`
	Vault   core.NodeId     `json:"vault,omitempty"`
}

type offsetWire struct {
	Category string `json:"category"`
	Variant  string `json:"variant"`
	Key      []byte `json:"key,omitempty"`
}

type syscallResponse struct {
	Ok      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Handle  uint32          `json:"handle,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// registerHost wires the kernel's public API as WASM imports under the
// "env" namespace, one function per syscall family: one wasmer.NewFunction
// literal per host call, grouped into a single imports.Register.
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.ValueKind(wasmer.I32)

	// host_syscall(reqPtr, reqLen, respPtr) -> i32(0 ok, -1 fail)
	//
	// A single dispatch point keeps the host side to one function signature
	// regardless of how many distinct kernel APIs a guest export may call,
	// at the cost of a JSON round trip per syscall -- acceptable since
	// substate payloads already pay that cost.
	hostSyscall := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32, i32),
			wasmer.NewValueTypes(i32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			reqPtr, reqLen, respPtr := args[0].I32(), args[1].I32(), args[2].I32()
			raw := readBytes(h, reqPtr, reqLen)
			var req syscallRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				h.failed = fmt.Errorf("guest: malformed syscall request: %w", err)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			resp := dispatchSyscall(h, req)
			out, _ := json.Marshal(resp)
			writeLenPrefixed(h, respPtr, out)
			if !resp.Ok {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	// host_consume_gas(units) -> i32
	hostConsumeGas := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			units := uint64(args[0].I32())
			h.gasUsed += units
			if err := h.kernel.ConsumeCostUnits(units); err != nil {
				h.failed = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_syscall":     hostSyscall,
		"host_consume_gas": hostConsumeGas,
	})
	return imports
}

// dispatchSyscall runs one decoded guest request against the kernel API,
// translating each op name to the matching *core.Kernel method.
func dispatchSyscall(h *hostCtx, req syscallRequest) syscallResponse {
	switch req.Op {
	case "lock_substate":
		off := core.SubstateOffset{Category: req.Offset.Category, Variant: req.Offset.Variant, Key: string(req.Offset.Key)}
		handle, err := h.kernel.LockSubstate(req.NodeId, off, core.LockFlags(req.Flags))
		if err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true, Handle: uint32(handle)}

	case "drop_lock":
		if err := h.kernel.DropLock(core.LockHandle(req.Handle)); err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true}

	case "get_ref":
		payload, err := h.kernel.GetRef(core.LockHandle(req.Handle))
		if err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true, Payload: payload}

	case "get_ref_mut":
		payload, err := h.kernel.GetRefMut(core.LockHandle(req.Handle))
		if err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true, Payload: payload}

	case "write_substate":
		if err := h.kernel.WriteSubstate(core.LockHandle(req.Handle), req.Payload); err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true}

	case "drop_node":
		if _, err := h.kernel.DropNode(req.NodeId); err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true}

	case "read_transaction_hash":
		hash, err := h.kernel.ReadTransactionHash()
		if err != nil {
			return fail(err)
		}
		payload, _ := json.Marshal(hash)
		return syscallResponse{Ok: true, Payload: payload}

	case "generate_uuid":
		id, err := h.kernel.GenerateUUID()
		if err != nil {
			return fail(err)
		}
		payload, _ := json.Marshal(id)
		return syscallResponse{Ok: true, Payload: payload}

	case "emit_log":
		if err := h.kernel.EmitLog(req.Level, req.Payload); err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true}

	case "emit_event":
		if err := h.kernel.EmitEvent(req.Event, req.Payload); err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true}

	case "lock_fee":
		if err := h.kernel.LockFee(req.Vault, req.Amount, req.Flags != 0); err != nil {
			return fail(err)
		}
		return syscallResponse{Ok: true}

	case "get_visible_node_ids":
		ids := h.kernel.GetVisibleNodeIds()
		payload, _ := json.Marshal(ids)
		return syscallResponse{Ok: true, Payload: payload}

	default:
		return fail(fmt.Errorf("guest: unknown syscall %q", req.Op))
	}
}

func fail(err error) syscallResponse { return syscallResponse{Ok: false, Error: err.Error()} }
