package builder

import "errors"

var (
	// ErrArityMismatch is returned when end… is called with a child count
	// that doesn't match the operation's declared arity (spec.md §4.4).
	ErrArityMismatch = errors.New("builder: wrong number of children for this operation")
	// ErrValueExpected is returned when a child that must produce a value
	// left the operand stack unchanged.
	ErrValueExpected = errors.New("builder: child operation must produce a value")
	// ErrVoidExpected is returned when a child that must be void produced a
	// value (it would leave the operand stack unbalanced).
	ErrVoidExpected = errors.New("builder: child operation must not produce a value")
	// ErrInvalidBranchTarget is returned when emitBranch's label was not
	// declared by any frame currently on the operation stack.
	ErrInvalidBranchTarget = errors.New("builder: branch target is not declared by an enclosing operation")
	// ErrNoOpenOperation is returned when end… is called with nothing open,
	// or a kind-specific operation is called against the wrong frame.
	ErrNoOpenOperation = errors.New("builder: no matching open operation")
	ErrUnbalancedRoot  = errors.New("builder: root ended with operand stack not at the expected height")
	// ErrMissingBeginRoot is returned when EndRoot is called without a prior,
	// still-open BeginRoot (spec.md §7 MissingBeginRoot).
	ErrMissingBeginRoot = errors.New("builder: EndRoot called without a matching BeginRoot")
	// ErrUnexpectedOperationEnd is returned when any non-root end…/mid… call
	// targets a frame of the wrong kind, or no frame at all (spec.md §7
	// UnexpectedOperationEnd).
	ErrUnexpectedOperationEnd = errors.New("builder: end/mid call does not match the currently open operation")
	// ErrTagNotProvided is returned when EmitInstrumentTag is called with an
	// empty tag (spec.md §7 TagNotProvided).
	ErrTagNotProvided = errors.New("builder: instrument tag not provided")
)
