package core

// Modes as explicit state. The kernel tracks an execution mode so internal
// helpers are unreachable to guests: only Kernel may enter any other mode
// directly, and a guest-accessible operation is valid only in Application
// mode.

// ExecutionMode is one of the kernel's six execution modes.
type ExecutionMode int

const (
	ModeKernel ExecutionMode = iota
	ModeApplication
	ModeAuthModule
	ModeScryptoInterpreter
	ModeDeref
	ModeGlobalize
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeKernel:
		return "Kernel"
	case ModeApplication:
		return "Application"
	case ModeAuthModule:
		return "AuthModule"
	case ModeScryptoInterpreter:
		return "ScryptoInterpreter"
	case ModeDeref:
		return "Deref"
	case ModeGlobalize:
		return "Globalize"
	default:
		return "Unknown"
	}
}

// modeTransitions is the small matrix of legal mode transitions. Only
// ModeKernel may enter any other mode directly; every other mode may only
// return to ModeKernel.
var modeTransitions = map[ExecutionMode]map[ExecutionMode]bool{
	ModeKernel: {
		ModeKernel:             true,
		ModeApplication:        true,
		ModeAuthModule:         true,
		ModeScryptoInterpreter: true,
		ModeDeref:              true,
		ModeGlobalize:          true,
	},
	ModeApplication:        {ModeKernel: true},
	ModeAuthModule:         {ModeKernel: true},
	ModeScryptoInterpreter: {ModeKernel: true},
	ModeDeref:              {ModeKernel: true},
	ModeGlobalize:          {ModeKernel: true},
}

// ModeGuard tracks the kernel's current execution mode and enforces the
// transition matrix.
type ModeGuard struct {
	current ExecutionMode
}

func NewModeGuard() *ModeGuard { return &ModeGuard{current: ModeKernel} }

func (g *ModeGuard) Current() ExecutionMode { return g.current }

// Enter transitions into mode, or fails with InvalidModeTransition if the
// matrix disallows it.
func (g *ModeGuard) Enter(mode ExecutionMode) error {
	allowed, ok := modeTransitions[g.current]
	if !ok || !allowed[mode] {
		return NewKernelError(ErrInvalidModeTransition, g.current.String()+"->"+mode.String())
	}
	g.current = mode
	return nil
}

// RequireApplication fails unless the kernel is currently in Application
// mode -- the guard every guest-accessible kernel API call runs first.
func (g *ModeGuard) RequireApplication() error {
	if g.current != ModeApplication {
		return NewKernelError(ErrInvalidModeTransition, "operation requires Application mode, got "+g.current.String())
	}
	return nil
}
