package optree

import (
	"context"

	"github.com/optree-lang/optree/internal/interpreter"
	"github.com/optree-lang/optree/internal/serialize"
)

// Result is the outcome of running a RootProgram to completion (spec.md §3
// RunResult): either a return value, a void return, or an uncaught
// exception surfaced as an error satisfying errors.Is(err, ErrGuestException).
type Result struct {
	// Returned is true if the root returned normally (with or without a
	// value) rather than unwinding via an uncaught Throw.
	Returned bool
	// HasValue is true if Returned is true and the Return that ended the
	// run carried a value (OpReturn rather than OpReturnVoid).
	HasValue bool
	// Value holds the returned value when HasValue is true. Interpretation
	// (int64/float64/etc.) is the caller's responsibility, the same way
	// wazero's api.Function.Call returns untyped uint64 lanes.
	Value uint64
}

// RootProgram is a built, runnable root (spec.md §3 RootProgram): frozen
// bytecode, its constant pool, and its exception-handler table, ready for
// repeated Execute calls across the Uncached/Cached/Instrumented tiers
// (spec.md §4.7).
type RootProgram struct {
	name string
	prog *interpreter.Program
}

// Name returns the program's diagnostic name, used in tier-transition log
// lines (internal/diag).
func (r *RootProgram) Name() string { return r.name }

// Tier reports the dispatch tier (Uncached/Cached/Instrumented) the most
// recent Execute call ran at; TierUncached before the first call.
func (r *RootProgram) Tier() Tier { return Tier(r.prog.Tier()) }

// Execute runs the root with the given arguments, the way wazero's
// api.Function.Call(ctx, ...) threads a context through a guest invocation.
// ctx is checked for cancellation at every backward branch (spec.md §4.7),
// so a caller can bound a runaway loop without the root itself cooperating.
func (r *RootProgram) Execute(ctx context.Context, args []uint64) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := r.prog.Run(ctx, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Returned: res.Returned, HasValue: res.HasValue, Value: res.Value}, nil
}

// Tier names a dispatch tier a RootProgram may run at (spec.md §4.7).
type Tier uint8

const (
	TierUncached Tier = iota
	TierCached
	TierInstrumented
)

func (t Tier) String() string {
	return interpreter.Tier(t).String()
}

// Disassemble renders the root's bytecode as human-readable mnemonics
// against table, for the CLI's -trace flag (spec.md §4.9).
func (r *RootProgram) Disassemble(table Table) string {
	return Disassemble(table, r.prog.Words)
}

// Serialize encodes the root into a portable byte stream (spec.md §4.9,
// §6, C11), resolving any non-primitive constant against objects by
// identity. Round-trips exactly through DeserializeRootProgram.
func (r *RootProgram) Serialize(objects []any) ([]byte, error) {
	return serialize.Serialize(serialize.Snapshot{
		Words:          r.prog.Words,
		Constants:      r.prog.Constants.Values(),
		Handlers:       r.prog.Handlers,
		MaxStackHeight: r.prog.MaxStackHeight,
		NumLocals:      r.prog.NumLocals,
	}, objects)
}

// DeserializeRootProgram reconstructs a RootProgram from bytes produced by
// RootProgram.Serialize, dispatching against table and resolving object
// constants from objects by dense index. name is used only for
// diagnostics.
func DeserializeRootProgram(name string, table Table, data []byte, objects []any, cfg *InterpreterConfig) (*RootProgram, error) {
	snap, err := serialize.Deserialize(data, objects)
	if err != nil {
		return nil, err
	}
	return buildFromSnapshot(name, table, snap, cfg), nil
}
