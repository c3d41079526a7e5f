package optree

import (
	"github.com/optree-lang/optree/internal/builder"
	"github.com/optree-lang/optree/internal/finally"
	"github.com/optree-lang/optree/internal/interpreter"
	"github.com/optree-lang/optree/internal/label"
	"github.com/optree-lang/optree/internal/serialize"
)

// Sentinel errors for every building-time error kind named in spec.md §7,
// checked with errors.Is the way wazero's internal/wasmruntime error set is.
// These alias the internal packages' own sentinels rather than redeclaring
// them, so errors.Is(err, optree.ErrUndefinedLabel) and
// errors.Is(err, label.ErrUndefinedLabel) agree on the same value.
var (
	// ErrUnbalancedStack is returned when EndRoot's operand stack height
	// doesn't match the root's declared value/void shape.
	ErrUnbalancedStack = builder.ErrUnbalancedRoot

	ErrUnbalancedBranch          = label.ErrUnbalancedBranch
	ErrBackwardBranchUnsupported = label.ErrBackwardBranchUnsupported
	ErrInvalidBranchTarget       = builder.ErrInvalidBranchTarget
	ErrUndefinedLabel            = label.ErrUndefinedLabel
	ErrLabelAlreadyEmitted       = label.ErrLabelAlreadyEmitted
	ErrLabelOutsideDeclaringOp   = label.ErrLabelOutsideDeclaringOp
	ErrCrossHandlerBranch        = finally.ErrCrossHandlerBranch
	ErrArityMismatch             = builder.ErrArityMismatch
	ErrValueExpected             = builder.ErrValueExpected
	ErrVoidExpected              = builder.ErrVoidExpected
	ErrUnexpectedOperationEnd    = builder.ErrUnexpectedOperationEnd
	ErrMissingBeginRoot          = builder.ErrMissingBeginRoot
	ErrTagNotProvided            = builder.ErrTagNotProvided

	// ErrUnsupportedConstant is returned when serializing a constant with no
	// wire representation and no entry in the caller's object table
	// (spec.md §7's IoError family, this generator's closest equivalent
	// since Serialize writes to an in-memory buffer rather than a streaming
	// sink, so no underlying I/O error can occur).
	ErrUnsupportedConstant = serialize.ErrUnsupportedConstant

	// ErrGuestException is raised when a Throw escapes every handler in the
	// executing root's table (spec.md §7 GuestException).
	ErrGuestException = interpreter.ErrUncaughtException
	// ErrInternalException covers host-side dispatch failures that are not
	// a guest exception (spec.md §7 InternalException).
	ErrInternalException = interpreter.ErrInternalException
	// ErrStackOverflow is raised if execution would push past the program's
	// recorded maximum operand stack height (spec.md §7 StackOverflow).
	ErrStackOverflow = interpreter.ErrStackOverflow
)
