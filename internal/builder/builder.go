// Package builder implements the Builder Facade's internals (spec.md §4.4,
// C7): begin…/end…/emit… operation handling, operand-stack-height
// accounting, and wiring the Label Resolver (C4) and Finally Context (C6)
// machines together during root construction.
package builder

import (
	"fmt"
	"sort"

	"github.com/optree-lang/optree/internal/bytecode"
	"github.com/optree-lang/optree/internal/constpool"
	"github.com/optree-lang/optree/internal/finally"
	"github.com/optree-lang/optree/internal/instruction"
	"github.com/optree-lang/optree/internal/label"
	"github.com/optree-lang/optree/internal/opstack"
)

// Opcode IDs. A real deployment registers its full instruction.Table (plus
// any custom/quickened instructions) once at startup; these are the fixed
// core opcodes every root needs regardless of domain (spec.md §3, §6).
const (
	OpBranch           uint16 = 1
	OpBranchBackward   uint16 = 2
	OpBranchFalse      uint16 = 3
	OpLoadConstant     uint16 = 4
	OpLoadLocal        uint16 = 5
	OpStoreLocal       uint16 = 6
	OpLoadArgument     uint16 = 7
	OpPop              uint16 = 8
	OpDup              uint16 = 9
	OpReturn           uint16 = 10
	OpReturnVoid       uint16 = 11
	OpThrow            uint16 = 12
	OpYield            uint16 = 13
	OpMergeConditional uint16 = 14
	OpInstrumentTag    uint16 = 15
	OpLoadLocalMaterialized  uint16 = 20
	OpStoreLocalMaterialized uint16 = 21
)

// CoreTable returns the Descriptors for the fixed core opcodes. Domain
// instructions (spec.md's Add example, quickened forms, etc.) are appended
// by the caller before calling instruction.BuildTable.
func CoreTable() []instruction.Descriptor {
	return []instruction.Descriptor{
		{ID: OpBranch, Name: "Branch", Kind: instruction.KindBranch, Immediates: []instruction.ImmediateKind{instruction.BytecodeIndex}, StackEffect: 0},
		{ID: OpBranchBackward, Name: "BranchBackward", Kind: instruction.KindBranchBackward, Immediates: []instruction.ImmediateKind{instruction.BytecodeIndex}, StackEffect: 0},
		{ID: OpBranchFalse, Name: "BranchFalse", Kind: instruction.KindBranchFalse, Immediates: []instruction.ImmediateKind{instruction.BytecodeIndex}, StackEffect: -1},
		{ID: OpLoadConstant, Name: "LoadConstant", Kind: instruction.KindLoadConstant, Immediates: []instruction.ImmediateKind{instruction.Constant}, StackEffect: 1},
		{ID: OpLoadLocal, Name: "LoadLocal", Kind: instruction.KindLoadLocal, Immediates: []instruction.ImmediateKind{instruction.LocalSetter}, StackEffect: 1},
		{ID: OpStoreLocal, Name: "StoreLocal", Kind: instruction.KindStoreLocal, Immediates: []instruction.ImmediateKind{instruction.LocalSetter}, StackEffect: -1},
		{ID: OpLoadArgument, Name: "LoadArgument", Kind: instruction.KindLoadArgument, Immediates: []instruction.ImmediateKind{instruction.Integer}, StackEffect: 1},
		{ID: OpPop, Name: "Pop", Kind: instruction.KindPop, StackEffect: -1},
		{ID: OpDup, Name: "Dup", Kind: instruction.KindDup, StackEffect: 1},
		{ID: OpReturn, Name: "Return", Kind: instruction.KindReturn, StackEffect: -1},
		{ID: OpReturnVoid, Name: "ReturnVoid", Kind: instruction.KindReturn, StackEffect: 0},
		{ID: OpThrow, Name: "Throw", Kind: instruction.KindThrow, StackEffect: -1},
		{ID: OpYield, Name: "Yield", Kind: instruction.KindYield, Immediates: []instruction.ImmediateKind{instruction.Constant}, StackEffect: 0},
		{ID: OpMergeConditional, Name: "MergeConditional", Kind: instruction.KindMergeConditional, StackEffect: -1},
		{ID: OpInstrumentTag, Name: "InstrumentTag", Kind: instruction.KindInstrumentationEnter, Immediates: []instruction.ImmediateKind{instruction.Constant}, StackEffect: 0},
		{ID: OpLoadLocalMaterialized, Name: "LoadLocalMaterialized", Kind: instruction.KindLoadLocalMaterialized, Immediates: []instruction.ImmediateKind{instruction.LocalSetter}, StackEffect: 0},
		{ID: OpStoreLocalMaterialized, Name: "StoreLocalMaterialized", Kind: instruction.KindStoreLocalMaterialized, Immediates: []instruction.ImmediateKind{instruction.LocalSetter}, StackEffect: -2},
	}
}

// Builder accumulates one root's bytecode. Not safe for concurrent use
// (spec.md §5: building is single-threaded per root).
type Builder struct {
	table    instruction.Table
	buf      *bytecode.Buffer
	pool     *constpool.Pool
	resolver *label.Resolver
	stack    *opstack.Stack
	finally  finally.Stack

	ctxByHandle map[int]*finally.Context
	nextCtxID   int
	nextNode    uint16

	numLocals          int
	currentStackHeight int
	maxStackHeight     int

	// boxingElimination toggles Conditional's optional entry Dup (spec.md
	// §4.4 Conditional, §9 Open Question #1). Set via SetBoxingElimination
	// before BeginRoot; both modes compute the same value (spec.md §6).
	boxingElimination bool
}

// SetBoxingElimination enables or disables the Conditional operation's
// entry-side Dup, orthogonal to every other operation (spec.md §9 Open
// Question #1: "treat boxing elimination as an orthogonal pass").
func (b *Builder) SetBoxingElimination(enabled bool) {
	b.boxingElimination = enabled
}

// New creates a Builder for one root, ready for BeginRoot.
func New(table instruction.Table, pool *constpool.Pool, tracing bool) *Builder {
	return &Builder{
		table:       table,
		buf:         bytecode.New(tracing),
		pool:        pool,
		resolver:    label.New(),
		stack:       opstack.New(),
		ctxByHandle: map[int]*finally.Context{},
	}
}

// Buffer exposes the underlying bytecode buffer, read-only use by the
// serializer and disassembler.
func (b *Builder) Buffer() *bytecode.Buffer { return b.buf }

// MaxStackHeight returns the high-water mark reached during building, used
// to size the interpreter's operand stack (spec.md §4.1).
func (b *Builder) MaxStackHeight() int { return b.maxStackHeight }

func (b *Builder) emit(opcode uint16, immediates ...uint16) int {
	bci := b.buf.EmitInstruction(opcode, immediates...)
	d := b.table.Get(opcode)
	b.currentStackHeight += d.StackDelta()
	if b.currentStackHeight < 0 {
		panic(fmt.Sprintf("builder: operand stack height went negative emitting %s at bci %d", d.Name, bci))
	}
	if b.currentStackHeight > b.maxStackHeight {
		b.maxStackHeight = b.currentStackHeight
	}
	return bci
}

// allocNode returns a fresh cached-data slot index for a duplicated Node
// immediate (spec.md §4.5, §4.6).
func (b *Builder) allocNode() uint16 {
	slot := b.nextNode
	b.nextNode++
	return slot
}

// --- Root ---

// BeginRoot opens the outermost frame. numArguments/numLocals size the
// argument-load range and local-slot table (spec.md §3 "RootProgram").
func (b *Builder) BeginRoot(numArguments, numLocals int) {
	b.numLocals = numLocals
	b.stack.Push(int(instruction.OperationRoot), nil)
}

// EndRoot closes the root. The operand stack must be empty (a void root) or
// hold exactly one value (spec.md §5 invariant: "== 0 after void endRoot,
// == 1 otherwise").
func (b *Builder) EndRoot(expectValue bool) error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationRoot {
		return ErrMissingBeginRoot
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	want := 0
	if expectValue {
		want = 1
	}
	if b.currentStackHeight != want {
		return fmt.Errorf("%w: height %d, want %d", ErrUnbalancedRoot, b.currentStackHeight, want)
	}
	// Innermost handler first: shortest covered range, ties broken by the
	// later StartBci, so the interpreter's first-match scan picks it.
	handlers := append([]bytecode.HandlerEntry(nil), b.buf.Handlers()...)
	sort.SliceStable(handlers, func(i, j int) bool {
		wi := handlers[i].EndBci - handlers[i].StartBci
		wj := handlers[j].EndBci - handlers[j].StartBci
		if wi != wj {
			return wi < wj
		}
		return handlers[i].StartBci > handlers[j].StartBci
	})
	b.buf.SetHandlers(handlers)
	return nil
}

// --- Block (transparent grouping, variadic children) ---

func (b *Builder) BeginBlock() {
	b.stack.Push(int(instruction.OperationBlock), nil)
}

func (b *Builder) EndBlock() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationBlock {
		return fmt.Errorf("%w: EndBlock called without a matching BeginBlock", ErrUnexpectedOperationEnd)
	}
	return label.CheckDefined(f.DeclaredLabels)
}

// --- Label & Branch ---

// CreateLabel declares a new, undefined label scoped to the operation frame
// currently on top of the stack (spec.md §4.3). If currently inside a
// finally handler body, the label is scoped to that handler
// (finally.CheckCrossHandlerBranch later enforces this).
func (b *Builder) CreateLabel() *label.Label {
	top := b.stack.Top()
	finallySeq := int64(finally.NotInHandler)
	if ctx := b.finally.Top(); ctx != nil {
		finallySeq = ctx.SequenceNumber
	}
	var declaringSeq int64 = -1
	if top != nil {
		declaringSeq = top.SequenceNumber
	}
	l := b.resolver.CreateLabel(declaringSeq, finallySeq)
	if top != nil {
		top.DeclaredLabels = append(top.DeclaredLabels, l)
	}
	return l
}

// EmitLabel defines l at the current bci. It must be emitted inside the
// operation frame that declared it (spec.md §4.3).
func (b *Builder) EmitLabel(l *label.Label) error {
	declaring := b.stack.FindDeclaring(l)
	if declaring == nil || declaring != b.stack.Top() {
		return fmt.Errorf("%w: label %d", label.ErrLabelOutsideDeclaringOp, l.ID)
	}
	return b.resolver.ResolveLabel(l, b.buf.Len(), b.currentStackHeight, b.buf.PatchImmediate)
}

// EmitBranch jumps to l, walking the operation stack to duplicate any
// intervening finally handlers (spec.md §4.4 Branch, §4.5 doEmitLeaves).
func (b *Builder) EmitBranch(l *label.Label) error {
	declaring := b.stack.FindDeclaring(l)
	if declaring == nil {
		return ErrInvalidBranchTarget
	}
	if ctx := b.finally.Top(); ctx != nil {
		if err := finally.CheckCrossHandlerBranch(l, ctx.SequenceNumber); err != nil {
			return err
		}
	}
	if err := label.CheckBackwardBranch(l, b.buf.Len()); err != nil {
		return err
	}

	b.doEmitLeaves(declaring)

	bci := b.emit(OpBranch, uint16(label.Undefined))
	immBci := bci + 1
	if l.IsDefined() {
		b.buf.PatchImmediate(immBci, uint16(l.Bci))
	} else {
		b.resolver.RegisterUnresolvedBranch(l, immBci, b.currentStackHeight)
	}
	return nil
}

// doEmitLeaves replays (duplicates) the handler body of every FinallyTry
// frame strictly between the top of the operation stack and target,
// exclusive of target (spec.md §4.5).
func (b *Builder) doEmitLeaves(target *opstack.Frame) {
	for _, f := range b.stack.Frames() {
		if f == target {
			return
		}
		data, ok := f.Data.(opstack.FinallyTryData)
		if !ok {
			continue
		}
		ctx := b.ctxByHandle[data.CtxHandle]
		if ctx == nil || !ctx.Frozen() {
			continue
		}
		parent := b.finally.Top()
		hooks := finally.Hooks{
			RegisterOuterBranch: func(labelID, immediateBci, stackHeight int) {
				b.resolver.RegisterUnresolvedBranchByID(labelID, immediateBci, stackHeight)
			},
			AllocNode: b.allocNode,
			MarkRelative: func(immediateBci int) {
				if parent != nil {
					if parent.RelativeBranches == nil {
						parent.RelativeBranches = map[int]bool{}
					}
					parent.RelativeBranches[immediateBci] = true
				}
			},
			ReinternYield: b.reinternYield,
		}
		finally.Replay(ctx, b.table, b.buf, b.currentStackHeight, hooks)
	}
}

// --- IfThen / IfThenElse ---

func (b *Builder) BeginIfThen() {
	b.currentStackHeight-- // consumes the condition already on the stack
	bci := b.emitPlaceholder(OpBranchFalse, true)
	b.stack.Push(int(instruction.OperationIfThen), opstack.IfThenData{FalseFixupBci: bci})
}

func (b *Builder) EndIfThen() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationIfThen {
		return fmt.Errorf("%w: EndIfThen called without a matching BeginIfThen", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.IfThenData)
	b.buf.PatchImmediate(data.FalseFixupBci, uint16(b.buf.Len()))
	return nil
}

func (b *Builder) BeginIfThenElse() {
	b.currentStackHeight--
	bci := b.emitPlaceholder(OpBranchFalse, true)
	b.stack.Push(int(instruction.OperationIfThenElse), opstack.IfThenElseData{FalseFixupBci: bci})
}

// MidIfThenElse marks the boundary between the then- and else-branches.
func (b *Builder) MidIfThenElse() error {
	f := b.stack.Top()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationIfThenElse {
		return fmt.Errorf("%w: MidIfThenElse outside an IfThenElse", ErrUnexpectedOperationEnd)
	}
	data := f.Data.(opstack.IfThenElseData)
	endBci := b.emitPlaceholder(OpBranch, false)
	b.buf.PatchImmediate(data.FalseFixupBci, uint16(b.buf.Len()))
	data.EndFixupBci = endBci
	f.Data = data
	return nil
}

func (b *Builder) EndIfThenElse() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationIfThenElse {
		return fmt.Errorf("%w: EndIfThenElse called without a matching BeginIfThenElse", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.IfThenElseData)
	b.buf.PatchImmediate(data.EndFixupBci, uint16(b.buf.Len()))
	return nil
}

// BeginConditional opens a value-producing ternary: like IfThenElse, but
// with an optional entry Dup when boxing elimination is enabled, and a
// closing MergeConditional that reconciles both arms' operand bcis (spec.md
// §4.4 Conditional).
func (b *Builder) BeginConditional() {
	if b.boxingElimination {
		b.emit(OpDup)
	}
	b.currentStackHeight-- // consumes the condition already on the stack
	bci := b.emitPlaceholder(OpBranchFalse, true)
	b.stack.Push(int(instruction.OperationConditional), opstack.ConditionalData{FalseFixupBci: bci})
}

// MidConditional marks the boundary between the then-value and else-value
// arms.
func (b *Builder) MidConditional() error {
	f := b.stack.Top()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationConditional {
		return fmt.Errorf("%w: MidConditional outside a Conditional", ErrUnexpectedOperationEnd)
	}
	data := f.Data.(opstack.ConditionalData)
	data.ThenValueBci = b.buf.Len()
	endBci := b.emitPlaceholder(OpBranch, false)
	b.buf.PatchImmediate(data.FalseFixupBci, uint16(b.buf.Len()))
	data.EndFixupBci = endBci
	f.Data = data
	return nil
}

// EndConditional closes the ternary, emitting the MergeConditional that
// reconciles both arms onto one stack slot (spec.md §4.4: "stack height
// decreases by 1 after the else arm because both arms contribute one
// value").
func (b *Builder) EndConditional() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationConditional {
		return fmt.Errorf("%w: EndConditional called without a matching BeginConditional", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.ConditionalData)
	data.ElseValueBci = b.buf.Len()
	b.buf.PatchImmediate(data.EndFixupBci, uint16(b.buf.Len()))
	b.emit(OpMergeConditional)
	return nil
}

// emitPlaceholder emits a branch opcode with an UNINIT target, optionally
// consuming the condition value already accounted for by the caller.
func (b *Builder) emitPlaceholder(opcode uint16, _ bool) int {
	bci := b.buf.EmitInstruction(opcode, uint16(label.Undefined))
	return bci + 1
}

// --- While ---

func (b *Builder) BeginWhile() {
	startBci := b.buf.Len()
	b.stack.Push(int(instruction.OperationWhile), opstack.WhileData{WhileStartBci: startBci})
}

// MidWhile marks the boundary between the condition and the body, emitting
// the conditional exit branch.
func (b *Builder) MidWhile() error {
	f := b.stack.Top()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationWhile {
		return fmt.Errorf("%w: MidWhile outside a While", ErrUnexpectedOperationEnd)
	}
	b.currentStackHeight--
	data := f.Data.(opstack.WhileData)
	data.EndFixupBci = b.emitPlaceholder(OpBranchFalse, true)
	f.Data = data
	return nil
}

func (b *Builder) EndWhile() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationWhile {
		return fmt.Errorf("%w: EndWhile called without a matching BeginWhile", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.WhileData)
	b.emit(OpBranchBackward, uint16(data.WhileStartBci))
	b.buf.PatchImmediate(data.EndFixupBci, uint16(b.buf.Len()))
	return nil
}

// --- TryCatch ---

func (b *Builder) BeginTryCatch(excLocalIdx int) {
	b.stack.Push(int(instruction.OperationTryCatch), opstack.TryCatchData{
		TryStartBci: b.buf.Len(),
		StartSp:     b.currentStackHeight,
		ExcLocalIdx: excLocalIdx,
	})
}

// MidTryCatch marks the boundary between the guarded region and the catch
// handler.
func (b *Builder) MidTryCatch() error {
	f := b.stack.Top()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationTryCatch {
		return fmt.Errorf("%w: MidTryCatch outside a TryCatch", ErrUnexpectedOperationEnd)
	}
	data := f.Data.(opstack.TryCatchData)
	data.TryEndBci = b.buf.Len()
	data.EndFixupBci = b.emitPlaceholder(OpBranch, false)
	data.CatchStartBci = b.buf.Len()
	f.Data = data
	return nil
}

func (b *Builder) EndTryCatch() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationTryCatch {
		return fmt.Errorf("%w: EndTryCatch called without a matching BeginTryCatch", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.TryCatchData)
	b.buf.AddExceptionHandler(data.TryStartBci, data.TryEndBci, data.CatchStartBci, data.StartSp, data.ExcLocalIdx)
	b.buf.PatchImmediate(data.EndFixupBci, uint16(b.buf.Len()))
	return nil
}

// --- FinallyTry ---

// BeginFinallyTry opens a FinallyTry frame and starts capturing the handler
// body: per DESIGN.md's Open Question #4, the handler is built first (the
// immediately following operations), then the guarded region (spec.md §4.5).
func (b *Builder) BeginFinallyTry(excLocalIdx int) {
	f := b.stack.Push(int(instruction.OperationFinallyTry), nil)
	ctx := b.finally.Begin(excLocalIdx, f.SequenceNumber, b.currentStackHeight, b.buf)
	handle := b.nextCtxID
	b.nextCtxID++
	b.ctxByHandle[handle] = ctx
	f.Data = opstack.FinallyTryData{ExcLocal: excLocalIdx, CtxHandle: handle}
}

// MidFinallyTry ends the handler body and begins the guarded region.
func (b *Builder) MidFinallyTry() error {
	f := b.stack.Top()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationFinallyTry {
		return fmt.Errorf("%w: MidFinallyTry outside a FinallyTry", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.FinallyTryData)
	ctx := b.ctxByHandle[data.CtxHandle]
	ctx.Freeze(b.buf, b.resolver, b.table)
	b.finally.Pop(b.buf)
	b.currentStackHeight = ctx.SavedStackHeight
	// guarded region's own labels are no longer "inside a handler".
	f.DeclaredLabels = nil
	return nil
}

// EndFinallyTry closes the guarded region: the handler replays once more
// for normal completion, per spec.md §4.5 ("on every exit path, including
// normal completion").
func (b *Builder) EndFinallyTry() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationFinallyTry {
		return fmt.Errorf("%w: EndFinallyTry called without a matching BeginFinallyTry", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.FinallyTryData)
	ctx := b.ctxByHandle[data.CtxHandle]
	// Normal completion of the guarded region only replays *this* handler,
	// not any enclosing one — no early exit is occurring here, so outer
	// finally handlers must not see a spurious leave (unlike EmitBranch/
	// EmitReturn, which call doEmitLeaves because they genuinely cross
	// every enclosing FinallyTry between the site and the target).
	hooks := finally.Hooks{
		RegisterOuterBranch: func(labelID, immediateBci, stackHeight int) {
			b.resolver.RegisterUnresolvedBranchByID(labelID, immediateBci, stackHeight)
		},
		AllocNode: b.allocNode,
		ReinternYield: b.reinternYield,
	}
	finally.Replay(ctx, b.table, b.buf, b.currentStackHeight, hooks)
	delete(b.ctxByHandle, data.CtxHandle)
	return nil
}

// noExceptLocal is the sentinel FinallyTryData.ExcLocal for a handler opened
// by BeginFinallyTryNoExcept, which carries no excLocal argument (spec.md §6
// "beginFinallyTryNoExcept()") because it never observes the guarded
// region's exception.
const noExceptLocal = -1

// BeginFinallyTryNoExcept is BeginFinallyTry for a handler that still runs
// on every normal/branch/return exit from its guarded region (spec.md §4.5),
// but has no exception-catching local to populate, since
// FinallyTryNoExcept's declared handler body never inspects the guarded
// region's exception.
func (b *Builder) BeginFinallyTryNoExcept() {
	b.BeginFinallyTry(noExceptLocal)
}

func (b *Builder) MidFinallyTryNoExcept() error { return b.MidFinallyTry() }

func (b *Builder) EndFinallyTryNoExcept() error { return b.EndFinallyTry() }

// --- Loads, stores, return, throw, yield ---

func (b *Builder) EmitLoadConstant(v any) {
	idx := b.pool.Add(v)
	b.emit(OpLoadConstant, uint16(idx))
}

func (b *Builder) EmitLoadLocal(slot int) {
	b.emit(OpLoadLocal, uint16(slot))
}

func (b *Builder) EmitStoreLocal(slot int) {
	b.emit(OpStoreLocal, uint16(slot))
}

// EmitLoadLocalMaterialized and EmitStoreLocalMaterialized are the
// frame-operand-taking variants of EmitLoadLocal/EmitStoreLocal (spec.md §6
// "materialized variants taking a frame operand"). This generator has no
// closure/captured-frame model (one frame per Run), so the frame operand the
// caller pushes ahead of the call is popped and discarded at dispatch time
// rather than used to address a different frame's locals.
func (b *Builder) EmitLoadLocalMaterialized(slot int) {
	b.emit(OpLoadLocalMaterialized, uint16(slot))
}

func (b *Builder) EmitStoreLocalMaterialized(slot int) {
	b.emit(OpStoreLocalMaterialized, uint16(slot))
}

func (b *Builder) EmitLoadArgument(index int) {
	b.emit(OpLoadArgument, uint16(index))
}

// EmitSource records sourceIdx (an index into a caller-maintained table of
// source-file identifiers) as the source attributed to every instruction
// from this bci onward, until the next EmitSource/EmitSourceSection
// (spec.md §6 emitSource).
func (b *Builder) EmitSource(sourceIdx int) {
	b.buf.AddSourceInfo(b.buf.Len(), sourceIdx, 0, 0)
}

// EmitSourceSection narrows the currently active source (the most recent
// EmitSource) to the byte range [start, start+length) at the current bci
// (spec.md §6 emitSourceSection).
func (b *Builder) EmitSourceSection(start, length int) {
	sourceIdx := 0
	if entries := b.buf.SourceInfo(); len(entries) > 0 {
		sourceIdx = entries[len(entries)-1].SourceIdx
	}
	b.buf.AddSourceInfo(b.buf.Len(), sourceIdx, start, length)
}

func (b *Builder) EmitPop() { b.emit(OpPop) }
func (b *Builder) EmitDup()  { b.emit(OpDup) }

// EmitReturn replays every enclosing finally handler, then returns,
// optionally consuming a return value.
func (b *Builder) EmitReturn(withValue bool) {
	b.doEmitLeaves(nil) // nil target: walk every frame, Return always leaves the whole root
	if withValue {
		b.emit(OpReturn)
		// OpReturn pops its operand at run time, but the returned value
		// stays counted as the root's result so a value root closes at
		// height 1 in EndRoot.
		b.currentStackHeight++
	} else {
		b.emit(OpReturnVoid)
	}
}

func (b *Builder) EmitThrow() {
	b.emit(OpThrow)
}

// Continuation is the constant-pool record a Yield immediate points at:
// ResumeBci is where dispatch continues on resume, State is whatever opaque
// payload the domain associates with the suspension point (spec.md §3
// Yield). Every duplicate a finally-handler replay makes of a Yield gets
// its own Continuation with a fresh ResumeBci and pool index (spec.md §4.5
// step 2), since two copies sharing one record would both resume at the
// first copy's bci.
type Continuation struct {
	ResumeBci int
	State     any
}

// EmitYield records a fresh Continuation for state, pointing at the bci
// immediately after the Yield instruction, and yields.
func (b *Builder) EmitYield(state any) {
	yieldBci := b.buf.Len()
	idx := b.pool.Add(Continuation{ResumeBci: yieldBci + 2, State: state})
	b.emit(OpYield, uint16(idx))
}

// reinternYield mints a fresh Continuation pointing at newResumeBci for a
// duplicated Yield whose original immediate pointed at origIdx, returning
// the new pool index (spec.md §4.5 step 2). Payloads that aren't a
// Continuation (a domain that called EmitYield before this type existed, or
// passed something else directly into the pool) are left untouched, since
// there is then nothing bci-shaped in them to re-target.
func (b *Builder) reinternYield(origIdx int, newResumeBci int) uint16 {
	orig := b.pool.Get(origIdx)
	cont, ok := orig.(Continuation)
	if !ok {
		return uint16(origIdx)
	}
	return uint16(b.pool.Add(Continuation{ResumeBci: newResumeBci, State: cont.State}))
}

// EmitCustom emits a domain-defined Custom or CustomShortCircuit instruction
// (spec.md §3 Instruction kinds; spec.md §1 Non-goal "defining the guest
// language's semantics" — this generator only wires the opcode's arity and
// dispatch, never what it computes). Operands must already be on the stack
// from preceding emits, the way a stack-machine call instruction consumes
// its arguments; opcode's Signature determines how many are popped and
// whether a result is pushed.
func (b *Builder) EmitCustom(opcode uint16) {
	b.emit(opcode)
}

// --- CustomShortCircuit ---

// BeginCustomShortCircuit opens a short-circuit chain (spec.md §4.4
// "short-circuit parents", §3 CustomOperationData): MidCustomShortCircuit
// closes each child but the last and emits its boolean-converter test,
// EndCustomShortCircuit closes the chain.
func (b *Builder) BeginCustomShortCircuit() {
	b.stack.Push(int(instruction.OperationCustomShortCircuit), opstack.CustomOperationData{})
}

// MidCustomShortCircuit closes the child just emitted and emits its
// short-circuit test: opcode (a KindCustomShortCircuit instruction) pops the
// child's value, decides whether to continue evaluating the remaining
// children (its NativeFunc result != 0) or to skip them all by branching
// straight to EndCustomShortCircuit, leaving that result as the chain's
// value (spec.md §4.4 "before any child is parsed, beforeChild is invoked
// ... the boolean converter is emitted and a conditional branch-to-end is
// patched").
func (b *Builder) MidCustomShortCircuit(opcode uint16) error {
	f := b.stack.Top()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationCustomShortCircuit {
		return fmt.Errorf("%w: MidCustomShortCircuit outside a CustomShortCircuit", ErrUnexpectedOperationEnd)
	}
	bci := b.emit(opcode, uint16(label.Undefined))
	data := f.Data.(opstack.CustomOperationData)
	data.ChildBcis = append(data.ChildBcis, bci+1)
	f.Data = data
	return nil
}

// EndCustomShortCircuit closes the chain, patching every short-circuit test
// emitted by MidCustomShortCircuit to branch here. The last child's own
// value (whether it ran to completion or some earlier test short-circuited
// past it) is the chain's value; arity (at least one child) is the caller's
// responsibility, same as spec.md §4.4's "≥ 1 for short-circuit".
func (b *Builder) EndCustomShortCircuit() error {
	f := b.stack.Pop()
	if f == nil || instruction.OperationKind(f.OpID) != instruction.OperationCustomShortCircuit {
		return fmt.Errorf("%w: EndCustomShortCircuit called without a matching BeginCustomShortCircuit", ErrUnexpectedOperationEnd)
	}
	if err := label.CheckDefined(f.DeclaredLabels); err != nil {
		return err
	}
	data := f.Data.(opstack.CustomOperationData)
	end := uint16(b.buf.Len())
	for _, immBci := range data.ChildBcis {
		b.buf.PatchImmediate(immBci, end)
	}
	return nil
}

// EmitInstrumentTag marks the current bci with a named instrumentation probe
// point (OperationInstrumentTag, spec.md §3). It emits no value and has no
// effect on dispatch outside the Instrumented tier, which surfaces tag to
// any registered probe callback.
func (b *Builder) EmitInstrumentTag(tag string) error {
	if tag == "" {
		return ErrTagNotProvided
	}
	idx := b.pool.Add(tag)
	b.emit(OpInstrumentTag, uint16(idx))
	return nil
}
