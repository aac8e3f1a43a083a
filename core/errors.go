package core

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the flat error taxonomy the kernel raises. Every kind
// is terminal to the invocation that produced it: the kernel never retries,
// it unwinds to the transaction boundary and lets the transaction processor
// surface the first error as the outcome.
type ErrorKind int

const (
	// Kernel structural.
	ErrMaxCallDepthLimitReached ErrorKind = iota
	ErrInvalidReferencePass
	ErrInvalidSubstateLock
	ErrInvalidModeTransition
	ErrGlobalAddressNotFound
	ErrBlobNotFound
	ErrIdAllocationError
	ErrRENodeGlobalizeTypeNotAllowed
	ErrLockNotMutable
	ErrMethodIdentNotFound
	ErrNodeNotOwned
	ErrNodeNotFound

	// Track.
	ErrNotFound
	ErrReentrancy
	ErrRENodeAlreadyTouched

	// Resource.
	ErrCantMoveLockedBucket
	ErrCantMoveRestrictedProof
	ErrValueNotAllowed
	ErrResourceLeak

	// Authorization.
	ErrNotAuthorized

	// Costing.
	ErrCostingError

	// Guest.
	ErrInvokeError
	ErrInvalidFnInput
	ErrInvalidFnOutput

	// Decoding.
	ErrDecodeError
)

var errorKindNames = map[ErrorKind]string{
	ErrMaxCallDepthLimitReached:      "MaxCallDepthLimitReached",
	ErrInvalidReferencePass:          "InvalidReferencePass",
	ErrInvalidSubstateLock:           "InvalidSubstateLock",
	ErrInvalidModeTransition:         "InvalidModeTransition",
	ErrGlobalAddressNotFound:         "GlobalAddressNotFound",
	ErrBlobNotFound:                  "BlobNotFound",
	ErrIdAllocationError:             "IdAllocationError",
	ErrRENodeGlobalizeTypeNotAllowed: "RENodeGlobalizeTypeNotAllowed",
	ErrLockNotMutable:                "LockNotMutable",
	ErrMethodIdentNotFound:           "MethodIdentNotFound",
	ErrNodeNotOwned:                  "NodeNotOwned",
	ErrNodeNotFound:                  "NodeNotFound",
	ErrNotFound:                      "NotFound",
	ErrReentrancy:                    "Reentrancy",
	ErrRENodeAlreadyTouched:          "RENodeAlreadyTouched",
	ErrCantMoveLockedBucket:          "CantMoveLockedBucket",
	ErrCantMoveRestrictedProof:       "CantMoveRestrictedProof",
	ErrValueNotAllowed:               "ValueNotAllowed",
	ErrResourceLeak:                  "ResourceLeak",
	ErrNotAuthorized:                 "NotAuthorized",
	ErrCostingError:                  "CostingError",
	ErrInvokeError:                   "InvokeError",
	ErrInvalidFnInput:                "InvalidFnInput",
	ErrInvalidFnOutput:               "InvalidFnOutput",
	ErrDecodeError:                   "DecodeError",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KernelError is the single error type the kernel raises. It carries a Kind
// so callers can branch with errors.Is/errors.As without string matching,
// plus an optional Detail for diagnostics and an optional wrapped cause.
type KernelError struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func (e *KernelError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *KernelError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, NewKernelError(kind, "")) to match any
// KernelError of the same Kind regardless of Detail/Cause.
func (e *KernelError) Is(target error) bool {
	var ke *KernelError
	if !errors.As(target, &ke) {
		return false
	}
	return ke.Kind == e.Kind
}

// NewKernelError builds a KernelError with no wrapped cause.
func NewKernelError(kind ErrorKind, detail string) *KernelError {
	return &KernelError{Kind: kind, Detail: detail}
}

// WrapKernelError attaches kind/detail context to a lower-level cause while
// preserving it for errors.Unwrap, never discarding the original error.
func WrapKernelError(kind ErrorKind, detail string, cause error) *KernelError {
	return &KernelError{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *KernelError.
func KindOf(err error) (ErrorKind, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return 0, false
}

// ResourceLeakError is returned by drop_frame when owned nodes survive frame
// end that cannot be legally dropped (non-empty bucket, restricted proof,
// non-empty worktop). It names the offending node so the caller can report
// which resource leaked.
type ResourceLeakError struct {
	Node NodeId
}

func (e *ResourceLeakError) Error() string {
	return fmt.Sprintf("%s: %s cannot be dropped at frame end", ErrResourceLeak, e.Node)
}

func (e *ResourceLeakError) Is(target error) bool {
	var ke *KernelError
	if errors.As(target, &ke) {
		return ke.Kind == ErrResourceLeak
	}
	var rl *ResourceLeakError
	return errors.As(target, &rl)
}
