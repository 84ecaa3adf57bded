// Package rekierr defines the error taxonomy shared by every analysis stage.
//
// Errors are ordered by severity the way the spec they implement orders
// them: most are fatal (the analyzer is designed to abort loudly rather
// than silently miscompile), and exactly one kind, UnresolvedPointer, is
// recoverable — callers may continue and substitute a placeholder.
package rekierr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an analysis stage failed.
type Kind int

const (
	// MalformedHeader: the 256-byte kernel code header could not be read.
	MalformedHeader Kind = iota
	// MissingSection: an upstream collaborator did not provide .text or .note bytes.
	MissingSection
	// MetadataParse: the kernel-args metadata block is absent or missing required keys.
	MetadataParse
	// UnknownBranchOperand: a branch instruction's sole operand was not a Lit.
	UnknownBranchOperand
	// BackwardUnconditional: an s_branch target precedes its source instruction.
	BackwardUnconditional
	// UnsupportedMnemonic: an opcode the transfer-function table does not enumerate.
	UnsupportedMnemonic
	// HeuristicFailure: the 64-bit add-promotion precondition was violated.
	HeuristicFailure
	// UnresolvedPointer: a Deref's pointer binding is not PtrKernarg during lowering.
	// This is the one recoverable kind; see IsRecoverable.
	UnresolvedPointer
	// VariableSizeMismatch: a block-join register diff produced a dword-count
	// pair outside the approved (1,1)/(2,2)/(4,4)/(2,1)/(4,<4) set.
	VariableSizeMismatch
)

func (k Kind) String() string {
	switch k {
	case MalformedHeader:
		return "MalformedHeader"
	case MissingSection:
		return "MissingSection"
	case MetadataParse:
		return "MetadataParse"
	case UnknownBranchOperand:
		return "UnknownBranchOperand"
	case BackwardUnconditional:
		return "BackwardUnconditional"
	case UnsupportedMnemonic:
		return "UnsupportedMnemonic"
	case HeuristicFailure:
		return "HeuristicFailure"
	case UnresolvedPointer:
		return "UnresolvedPointer"
	case VariableSizeMismatch:
		return "VariableSizeMismatch"
	default:
		return "Unknown"
	}
}

// IsRecoverable reports whether analysis may continue after an error of
// this kind. Only UnresolvedPointer is; every other kind aborts the pipeline.
func (k Kind) IsRecoverable() bool {
	return k == UnresolvedPointer
}

// Error is the concrete error type every reki package returns. The
// underlying cause is preserved via github.com/pkg/errors so that fatal
// failures surface with a stack trace.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, msg: fmt.Sprintf(format, args...)})
}

// Wrap annotates cause with a Kind and message, preserving the original
// error as the chain's cause.
func Wrap(cause error, kind Kind, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause})
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports whether it found one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
