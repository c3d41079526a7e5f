package optree

import (
	"github.com/optree-lang/optree/internal/builder"
	"github.com/optree-lang/optree/internal/constpool"
	"github.com/optree-lang/optree/internal/instruction"
	"github.com/optree-lang/optree/internal/interpreter"
	"github.com/optree-lang/optree/internal/label"
	"github.com/optree-lang/optree/internal/quicken"
)

// Label marks a branch target within a root under construction (spec.md §4.3
// Label & Branch Resolver, C4). Create one with Builder.CreateLabel and bind
// it with Builder.EmitLabel before any branch to it resolves.
type Label = label.Label

// Descriptor describes one instruction in a Table: its opcode Kind, operand
// stack effect, and immediate operand shape (spec.md §4.1, C1).
type Descriptor = instruction.Descriptor

// Kind identifies what an instruction does at dispatch time (spec.md §3
// Instruction).
type Kind = instruction.Kind

// Signature overrides a Custom or CustomShortCircuit Descriptor's operand
// arity, since those instructions have no fixed StackEffect (spec.md §3).
type Signature = instruction.Signature

// KindCustom marks a domain-defined instruction dispatched through a
// registered NativeFunc (spec.md §1 Non-goal "defining the guest language's
// semantics").
const KindCustom = instruction.KindCustom

// KindCustomShortCircuit marks a domain-defined instruction whose operation-level
// wiring (spec.md §3 Operation, §4.4 "short-circuit parents") skips
// evaluating later operands once an earlier one already determines the
// result; dispatched the same way as KindCustom.
const KindCustomShortCircuit = instruction.KindCustomShortCircuit

// Shape is an opaque operand-type signature a QuickeningFamily's ShapeOf
// callback assigns to a Custom/CustomShortCircuit call site's observed
// operands (spec.md §4.6 Quickening Rewriter, C8), e.g. "int64,int64" for an
// Add seeing two ints.
type Shape = quicken.Shape

// QuickeningFamily describes one base instruction's quickening candidates
// (its generic opcode plus the specialized opcodes it may rewrite to) and
// the callback that classifies a call site's operands into the Shape that
// picks among them (spec.md §4.6). Register one per family via
// InterpreterConfig.WithQuickeningFamilies.
type QuickeningFamily = interpreter.QuickeningFamily

// BuildQuickeningFamily derives a QuickeningFamily for base from shapes
// (spec.md §4.6 "quickening family registration"). The ids in shapes are
// not checked against table; BuildTable is where Descriptor quickening
// references are validated.
func BuildQuickeningFamily(table Table, base uint16, shapes map[Shape]uint16, shapeOf func(args []uint64) Shape) QuickeningFamily {
	return QuickeningFamily{
		Family:  quicken.BuildFamily(table, base, shapes),
		ShapeOf: shapeOf,
	}
}

// Continuation is the constant-pool record a Yield immediate points at
// (spec.md §3 Yield): ResumeBci is where dispatch continues on resume,
// State is whatever opaque payload the domain associates with the
// suspension point. EmitYield constructs one automatically; a caller never
// builds one directly.
type Continuation = builder.Continuation

// Table is a frozen, validated set of instruction Descriptors an
// interpreter dispatches against (spec.md §4.1, C1). Build one with
// BuildTable, extending CoreTable with any domain-specific instructions.
type Table = instruction.Table

// NativeFunc implements one domain-defined Custom or CustomShortCircuit
// instruction (spec.md §1 Non-goal "defining the guest language's
// semantics" — this generator only wires arity and dispatch, never what a
// native function computes). args is in left-to-right push order; register
// one per Descriptor.NativeIndex via InterpreterConfig.WithNatives.
type NativeFunc = interpreter.NativeFunc

// Core opcode IDs, re-exported for callers that disassemble or inspect raw
// bytecode words (spec.md §3, §6).
const (
	OpBranch           = builder.OpBranch
	OpBranchBackward   = builder.OpBranchBackward
	OpBranchFalse      = builder.OpBranchFalse
	OpLoadConstant     = builder.OpLoadConstant
	OpLoadLocal        = builder.OpLoadLocal
	OpStoreLocal       = builder.OpStoreLocal
	OpLoadLocalMaterialized  = builder.OpLoadLocalMaterialized
	OpStoreLocalMaterialized = builder.OpStoreLocalMaterialized
	OpLoadArgument     = builder.OpLoadArgument
	OpPop              = builder.OpPop
	OpDup              = builder.OpDup
	OpReturn           = builder.OpReturn
	OpReturnVoid       = builder.OpReturnVoid
	OpThrow            = builder.OpThrow
	OpYield            = builder.OpYield
	OpMergeConditional = builder.OpMergeConditional
	OpInstrumentTag    = builder.OpInstrumentTag
)

// CoreTable returns the Descriptors every root needs regardless of domain:
// branches, locals, the operand stack primitives, and exception/yield
// control flow (spec.md §3, §6).
func CoreTable() []Descriptor {
	return builder.CoreTable()
}

// BuildTable validates descs (every QuickeningBase/QuickenedSet reference
// must resolve to a real instruction id in the same slice) and freezes them
// into a Table ready for both Builder and RootProgram use.
func BuildTable(descs []Descriptor) (Table, error) {
	return instruction.BuildTable(descs)
}

// Disassemble renders words as human-readable mnemonics against table, used
// by the CLI's -trace flag and by tests asserting exact bytecode shape.
func Disassemble(table Table, words []uint16) string {
	return instruction.Disassemble(table, words)
}

// Builder accumulates one root's bytecode (spec.md §4.4 Builder Facade, C7):
// begin…/mid…/end… calls open and close nested operations, emit… calls push
// values and control flow, and EndRoot freezes the result. Not safe for
// concurrent use; one Builder builds one root.
type Builder struct {
	name      string
	b         *builder.Builder
	pool      *constpool.Pool
	tbl       instruction.Table
	nextLocal int
}

// Local is a frame slot allocated by CreateLocal (spec.md §6 External
// Interface). Its Index is the flat slot number shared with arguments; Index
// and Name are exported for inspection, and callers thread the pointer
// through EmitLoadLocal/EmitStoreLocal rather than handling slot numbers
// directly.
type Local struct {
	Index int
	Name  string
}

// NewBuilder creates a Builder for a root named name (used only in
// diagnostics), dispatching against table and tracing basic-block
// boundaries when tracing is true (spec.md §4.1 "if tracing is enabled").
func NewBuilder(name string, table Table, tracing bool) *Builder {
	pool := constpool.New()
	return &Builder{
		name: name,
		b:    builder.New(table, pool, tracing),
		pool: pool,
		tbl:  table,
	}
}

// SetBoxingElimination enables or disables Conditional's optional entry Dup
// (spec.md §4.4 Conditional, §9 Open Question #1). Call before BeginRoot.
// A no-op when BoxingEliminationSupported is false.
func (bd *Builder) SetBoxingElimination(enabled bool) {
	bd.b.SetBoxingElimination(enabled && BoxingEliminationSupported)
}

func (bd *Builder) BeginRoot(numArguments, numLocals int) {
	bd.b.BeginRoot(numArguments, numLocals)
	bd.nextLocal = numArguments
}

// CreateLocal allocates a fresh frame slot past the root's declared
// arguments (spec.md §6 "CreateLocal"), returning a handle to pass to
// EmitLoadLocal/EmitStoreLocal. name is diagnostic only.
func (bd *Builder) CreateLocal(name string) *Local {
	idx := bd.nextLocal
	bd.nextLocal++
	return &Local{Index: idx, Name: name}
}

// NumLocals returns the flat frame size (arguments plus every local created
// so far) to pass as Build's numLocals argument.
func (bd *Builder) NumLocals() int { return bd.nextLocal }
func (bd *Builder) EndRoot(expectValue bool) error         { return bd.b.EndRoot(expectValue) }
func (bd *Builder) BeginBlock()                            { bd.b.BeginBlock() }
func (bd *Builder) EndBlock() error                        { return bd.b.EndBlock() }
func (bd *Builder) CreateLabel() *Label                     { return bd.b.CreateLabel() }
func (bd *Builder) EmitLabel(l *Label) error                { return bd.b.EmitLabel(l) }
func (bd *Builder) EmitBranch(l *Label) error                { return bd.b.EmitBranch(l) }
func (bd *Builder) BeginIfThen()                             { bd.b.BeginIfThen() }
func (bd *Builder) EndIfThen() error                         { return bd.b.EndIfThen() }
func (bd *Builder) BeginIfThenElse()                         { bd.b.BeginIfThenElse() }
func (bd *Builder) MidIfThenElse() error                     { return bd.b.MidIfThenElse() }
func (bd *Builder) EndIfThenElse() error                     { return bd.b.EndIfThenElse() }
func (bd *Builder) BeginConditional()                        { bd.b.BeginConditional() }
func (bd *Builder) MidConditional() error                    { return bd.b.MidConditional() }
func (bd *Builder) EndConditional() error                    { return bd.b.EndConditional() }
func (bd *Builder) BeginWhile()                              { bd.b.BeginWhile() }
func (bd *Builder) MidWhile() error                          { return bd.b.MidWhile() }
func (bd *Builder) EndWhile() error                          { return bd.b.EndWhile() }
func (bd *Builder) BeginTryCatch(excLocalIdx int)            { bd.b.BeginTryCatch(excLocalIdx) }
func (bd *Builder) MidTryCatch() error                       { return bd.b.MidTryCatch() }
func (bd *Builder) EndTryCatch() error                       { return bd.b.EndTryCatch() }
func (bd *Builder) BeginFinallyTry(excLocalIdx int)          { bd.b.BeginFinallyTry(excLocalIdx) }
func (bd *Builder) MidFinallyTry() error                     { return bd.b.MidFinallyTry() }
func (bd *Builder) EndFinallyTry() error                     { return bd.b.EndFinallyTry() }

// BeginFinallyTryNoExcept is BeginFinallyTry for a handler that never
// catches an exception into a local (spec.md §6 "beginFinallyTryNoExcept" —
// unlike beginFinallyTry, it takes no excLocal).
func (bd *Builder) BeginFinallyTryNoExcept()      { bd.b.BeginFinallyTryNoExcept() }
func (bd *Builder) MidFinallyTryNoExcept() error  { return bd.b.MidFinallyTryNoExcept() }
func (bd *Builder) EndFinallyTryNoExcept() error  { return bd.b.EndFinallyTryNoExcept() }

func (bd *Builder) EmitLoadConstant(v any) { bd.b.EmitLoadConstant(v) }
func (bd *Builder) EmitLoadLocal(local *Local)  { bd.b.EmitLoadLocal(local.Index) }
func (bd *Builder) EmitStoreLocal(local *Local) { bd.b.EmitStoreLocal(local.Index) }

// EmitLoadLocalMaterialized and EmitStoreLocalMaterialized are the
// frame-object forms of EmitLoadLocal/EmitStoreLocal (spec.md §6): they
// expect a frame reference already pushed on the operand stack (and, for
// store, the value above it), discard it, and otherwise behave exactly like
// the plain local accessors against the single active frame — this
// generator has no closures or multi-frame capture, so "materialized" here
// only means "accepts and discards an explicit frame operand".
func (bd *Builder) EmitLoadLocalMaterialized(local *Local)  { bd.b.EmitLoadLocalMaterialized(local.Index) }
func (bd *Builder) EmitStoreLocalMaterialized(local *Local) { bd.b.EmitStoreLocalMaterialized(local.Index) }

func (bd *Builder) EmitLoadArgument(index int) { bd.b.EmitLoadArgument(index) }

// EmitSource and EmitSourceSection attach source-position metadata to the
// instruction at the current bci (spec.md §6); EmitSourceSection reuses the
// most recently recorded source index.
func (bd *Builder) EmitSource(sourceIdx int)            { bd.b.EmitSource(sourceIdx) }
func (bd *Builder) EmitSourceSection(start, length int) { bd.b.EmitSourceSection(start, length) }

// BeginCustomShortCircuit opens a CustomShortCircuit chain (spec.md §4.4):
// each child but the last is followed by a MidCustomShortCircuit call
// naming the boolean-converter-and-branch opcode to emit after it.
func (bd *Builder) BeginCustomShortCircuit()                  { bd.b.BeginCustomShortCircuit() }
func (bd *Builder) MidCustomShortCircuit(opcode uint16) error { return bd.b.MidCustomShortCircuit(opcode) }
func (bd *Builder) EndCustomShortCircuit() error              { return bd.b.EndCustomShortCircuit() }
func (bd *Builder) EmitPop()                                 { bd.b.EmitPop() }
func (bd *Builder) EmitDup()                                 { bd.b.EmitDup() }
func (bd *Builder) EmitReturn(withValue bool)                { bd.b.EmitReturn(withValue) }
func (bd *Builder) EmitThrow()                               { bd.b.EmitThrow() }
func (bd *Builder) EmitYield(continuation any)               { bd.b.EmitYield(continuation) }
func (bd *Builder) EmitInstrumentTag(tag string) error       { return bd.b.EmitInstrumentTag(tag) }
func (bd *Builder) EmitCustom(opcode uint16)                 { bd.b.EmitCustom(opcode) }

// MaxStackHeight returns the high-water mark reached during building, used
// to size the interpreter's operand stack (spec.md §4.1).
func (bd *Builder) MaxStackHeight() int { return bd.b.MaxStackHeight() }

// Build freezes the accumulated constant pool and wraps the finished
// bytecode into a runnable RootProgram. Call only after EndRoot has
// returned successfully; the Builder must not be reused afterward.
func (bd *Builder) Build(numLocals int, cfg *InterpreterConfig) *RootProgram {
	bd.pool.Freeze()
	if cfg == nil {
		cfg = NewInterpreterConfig()
	}
	prog := interpreter.NewProgram(bd.tbl, bd.b.Buffer().Words(), bd.pool, bd.b.Buffer().Handlers(), bd.b.MaxStackHeight(), numLocals)
	prog.Name = bd.name
	prog.WithTierThresholds(cfg.uncachedThreshold, cfg.instrumentedThreshold)
	prog.OSRBackEdgeHook = cfg.osrBackEdgeHook
	prog.Natives = cfg.natives
	prog.Families = cfg.families
	prog.InstrumentProbe = cfg.instrumentProbe
	return &RootProgram{name: bd.name, prog: prog}
}
