// Package interpreter implements the tiered Dispatch Loop and Exception
// Dispatch (spec.md §4.7-4.8, C9/C10), adapted from the teacher's
// callEngine/function dispatch structure (operand stack as []uint64,
// frame-per-call, handler-table linear scan on trap) and retargeted from
// WASM opcodes onto the operation bytecode built by internal/builder.
package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/optree-lang/optree/internal/bytecode"
	"github.com/optree-lang/optree/internal/constpool"
	"github.com/optree-lang/optree/internal/diag"
	"github.com/optree-lang/optree/internal/instruction"
	"github.com/optree-lang/optree/internal/quicken"
)

// Tier identifies which of the three dispatch strategies is currently
// executing a Program (spec.md §4.8). All three run the same switch loop:
// Cached and Instrumented also quicken Custom/CustomShortCircuit call sites,
// and Instrumented also invokes InstrumentProbe at InstrumentTag
// instructions. The invocation count that decides promotion is kept by Run
// at every tier.
type Tier uint8

const (
	TierUncached Tier = iota
	TierCached
	TierInstrumented
)

func (t Tier) String() string {
	switch t {
	case TierCached:
		return "cached"
	case TierInstrumented:
		return "instrumented"
	default:
		return "uncached"
	}
}

// ErrUncaughtException is wrapped around the user exception value when no
// handler in the program's table covers the throwing bci (spec.md §7
// GuestException: any guest-exception-hierarchy throw that no exHandlers
// entry routes).
var ErrUncaughtException = errors.New("interpreter: uncaught exception")

// ErrInternalException covers host-side dispatch failures that are not
// guest exceptions: a bytecode word the current Table doesn't recognize, or
// an exception-handler entry referencing a stack height the frame never
// reached (spec.md §7 InternalException; interceptInternalException is an
// external collaborator contract this generator doesn't implement, so these
// always propagate rather than being convertible to a GuestException).
var ErrInternalException = errors.New("interpreter: internal dispatch error")

// ErrStackOverflow guards against a Program whose recorded MaxStackHeight
// understates what its bytecode actually pushes, which can only happen if
// the bytecode was tampered with or deserialized from an untrusted source
// (spec.md §7 StackOverflow); a root built by internal/builder never
// triggers this, since currentStackHeight is tracked exactly at every emit.
var ErrStackOverflow = errors.New("interpreter: operand stack exceeded the program's recorded maximum height")

// Program is the interpreter-facing view of one built root: its frozen
// bytecode, constant pool, and exception-handler table (spec.md §4.9's
// RootProgram, minus the serializer-only fields).
type Program struct {
	// Name is used only for diagnostics (tier-transition logging); it has no
	// effect on execution and may be left empty.
	Name           string
	Table          instruction.Table
	Words          []uint16
	Constants      *constpool.Pool
	Handlers       []bytecode.HandlerEntry
	MaxStackHeight int
	NumLocals      int

	// cachedNodes has one entry per bci (spec.md §4.8). NewProgram allocates
	// it eagerly, and no tier reads or populates it.
	cachedNodes []any

	// quickenSlots mirrors Words one Slot per bci: dispatch reads the live
	// (possibly rewritten) opcode through here instead of Words directly, so
	// a quickening transition is visible to every goroutine executing this
	// Program without needing Words itself to change element type (spec.md
	// §4.6, C8). Words stays the frozen/original form for serialization and
	// disassembly.
	quickenSlots []*quicken.Slot

	// Families maps a quickening family's generic (base) opcode id to its
	// QuickeningFamily, consulted by maybeQuicken from the Custom/
	// CustomShortCircuit dispatch path once a Program reaches TierCached.
	// nil for a Program whose Table defines no quickening families.
	Families map[uint16]*QuickeningFamily

	// InstrumentProbe is invoked for every InstrumentationEnter/Exit/Leave
	// instruction dispatched while this Program is at TierInstrumented
	// (spec.md §4.7 InstrumentTag); a no-op at every other tier, and
	// ignored entirely when nil.
	InstrumentProbe func(kind instruction.Kind, tag string, bci int)

	// OSRBackEdgeHook is polled on every BranchBackward (spec.md §4.7 item
	// 3's on-stack-replacement collaborator contract), at every tier and
	// before the ctx check. Its return value is ignored: no tier change and
	// no OSR frame transfer follows from it. Defaults to nil (not called).
	OSRBackEdgeHook func(bci int, iterations int) (entry bool)

	// Natives backs every Custom/CustomShortCircuit instruction in Table:
	// a Descriptor's NativeIndex selects which entry dispatch calls with
	// that call site's popped operands. Left nil for a Program whose Table
	// defines no custom instructions.
	Natives []NativeFunc

	uncachedThreshold     uint64
	instrumentedThreshold uint64
	backEdgeIterations    map[int]int

	invocationCount uint64
	tier            Tier
}

// QuickeningFamily pairs a quicken.Family with the callback that classifies
// a call site's popped operands into the Shape the family dispatches on
// (spec.md §4.6 Quickening Rewriter, C8). Registered on a Program via
// InterpreterConfig.WithQuickeningFamilies, keyed by the family's Base
// opcode.
type QuickeningFamily struct {
	quicken.Family
	ShapeOf func(args []uint64) quicken.Shape
}

// NewProgram wraps a built root for execution, starting at TierUncached.
func NewProgram(table instruction.Table, words []uint16, constants *constpool.Pool, handlers []bytecode.HandlerEntry, maxStackHeight, numLocals int) *Program {
	slots := make([]*quicken.Slot, len(words))
	for i, w := range words {
		slots[i] = quicken.NewSlot(w)
	}
	return &Program{
		Table: table, Words: words, Constants: constants, Handlers: handlers,
		MaxStackHeight: maxStackHeight, NumLocals: numLocals,
		cachedNodes:           make([]any, len(words)),
		quickenSlots:          slots,
		uncachedThreshold:     PromoteAfter,
		instrumentedThreshold: 2 * PromoteAfter,
	}
}

// WithTierThresholds overrides the default invocation counts at which Run
// promotes TierUncached→TierCached and TierCached→TierInstrumented,
// generalizing the fixed PromoteAfter constant for InterpreterConfig
// callers that want a different tiering cadence.
func (p *Program) WithTierThresholds(uncachedAfter, instrumentedAfter uint64) *Program {
	p.uncachedThreshold = uncachedAfter
	p.instrumentedThreshold = instrumentedAfter
	return p
}

// PromoteAfter is the invocation count after which Run moves a program from
// TierUncached to TierCached, and from TierCached to TierInstrumented after
// the same count again — a simple monotonic counter rather than the
// teacher's OSR-triggering loop-back-edge counter, since this generator's
// tiering decision is made between whole-root invocations, not mid-loop
// (spec.md §4.8).
const PromoteAfter = 3

// NativeFunc implements one domain-defined Custom or CustomShortCircuit
// instruction's actual computation (spec.md §1 Non-goal "defining the guest
// language's semantics" keeps this generator itself ignorant of what a
// native function does; it only supplies the operand count and dispatch
// slot via Descriptor.Signature/NativeIndex). args is in left-to-right push
// order.
type NativeFunc func(args []uint64) uint64

// Tier reports the program's current dispatch tier.
func (p *Program) Tier() Tier { return p.tier }

// Result carries what one Run produced: either a return value (possibly
// void), an escaping exception, or a yielded continuation (spec.md §4.7
// Yield/Return). Yielded marks a suspended run; Continuation then names the
// constant holding its continuation record.
type Result struct {
	Returned     bool
	HasValue     bool
	Value        uint64
	Yielded      bool
	Continuation int // index into Constants where the continuation record lives
}

// frame is one call's execution state: the operand stack, locals, and
// program counter (spec.md §4.7; mirrors the teacher's callFrame but with a
// plain []uint64 operand stack instead of a shared callEngine-wide one,
// since finally-handler duplication already makes control flow
// structured/non-recursive within one root).
type frame struct {
	stack  []uint64
	locals []uint64
	pc     int
}

// Run executes p from the start with the given arguments, selecting a
// dispatch tier by invocation count (spec.md §4.8). ctx is threaded through
// to every backward branch (the only place a long-running root yields
// control back to the dispatch loop) so a host can bound runaway guest loops
// with a deadline, the way api.Function.Call does for a WASM call.
func (p *Program) Run(ctx context.Context, args []uint64) (Result, error) {
	p.invocationCount++
	switch {
	case p.invocationCount > p.instrumentedThreshold && p.tier < TierInstrumented:
		diag.TierTransition(p.Name, p.tier.String(), TierInstrumented.String(), p.invocationCount)
		p.tier = TierInstrumented
	case p.invocationCount > p.uncachedThreshold && p.tier < TierCached:
		diag.TierTransition(p.Name, p.tier.String(), TierCached.String(), p.invocationCount)
		p.tier = TierCached
	}

	f := &frame{
		stack:  make([]uint64, 0, p.MaxStackHeight),
		locals: make([]uint64, p.NumLocals),
	}
	copy(f.locals, args)
	return p.dispatch(ctx, f)
}

func (f *frame) push(v uint64, maxStackHeight int) error {
	if len(f.stack) >= maxStackHeight {
		return fmt.Errorf("%w: height %d", ErrStackOverflow, maxStackHeight)
	}
	f.stack = append(f.stack, v)
	return nil
}
func (f *frame) pop() uint64 {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack = f.stack[:n]
	return v
}

// dispatch runs the uncached/cached/instrumented switch loop. The three
// tiers share one implementation (branching on p.tier only where behavior
// actually differs: quickening and the InstrumentTag probe)
// rather than three separately duplicated loops, the way the teacher keeps
// one callNativeFunc switch for every wasm.FunctionInstance regardless of
// how it was compiled.
func (p *Program) dispatch(ctx context.Context, f *frame) (Result, error) {
	for f.pc < len(p.Words) {
		opcode := p.quickenSlots[f.pc].Load()
		d := p.Table.Get(opcode)
		bci := f.pc

		switch d.Kind {
		case instruction.KindBranch:
			target := p.Words[bci+1]
			f.pc = int(target)
			continue
		case instruction.KindBranchBackward:
			if p.OSRBackEdgeHook != nil {
				if p.backEdgeIterations == nil {
					p.backEdgeIterations = map[int]int{}
				}
				p.backEdgeIterations[bci]++
				p.OSRBackEdgeHook(bci, p.backEdgeIterations[bci])
			}
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			target := p.Words[bci+1]
			f.pc = int(target)
			continue
		case instruction.KindBranchFalse:
			target := p.Words[bci+1]
			cond := f.pop()
			if cond == 0 {
				f.pc = int(target)
				continue
			}
		case instruction.KindLoadConstant:
			idx := int(p.Words[bci+1])
			if err := f.push(p.encodeConstant(idx), p.MaxStackHeight); err != nil {
				return Result{}, err
			}
		case instruction.KindLoadLocal:
			slot := int(p.Words[bci+1])
			if err := f.push(f.locals[slot], p.MaxStackHeight); err != nil {
				return Result{}, err
			}
		case instruction.KindStoreLocal:
			slot := int(p.Words[bci+1])
			f.locals[slot] = f.pop()
		case instruction.KindLoadArgument:
			idx := int(p.Words[bci+1])
			if err := f.push(f.locals[idx], p.MaxStackHeight); err != nil {
				return Result{}, err
			}
		case instruction.KindPop:
			f.pop()
		case instruction.KindDup:
			top := f.stack[len(f.stack)-1]
			if err := f.push(top, p.MaxStackHeight); err != nil {
				return Result{}, err
			}
		case instruction.KindReturn:
			if d.StackDelta() < 0 {
				v := f.pop()
				return Result{Returned: true, HasValue: true, Value: v}, nil
			}
			return Result{Returned: true}, nil
		case instruction.KindThrow:
			excVal := f.pop()
			res, err := p.handleException(f, bci, excVal)
			if err != nil {
				return Result{}, err
			}
			if res != nil {
				return *res, nil
			}
			continue
		case instruction.KindYield:
			contIdx := int(p.Words[bci+1])
			return Result{Yielded: true, Continuation: contIdx}, nil
		case instruction.KindMergeConditional:
			// only the taken arm ran and pushed its value; nothing to merge in
			// the non-boxing-eliminated representation.
		case instruction.KindLoadLocalMaterialized:
			slot := int(p.Words[bci+1])
			f.pop() // frame operand: no closure/multi-frame model, discarded
			if err := f.push(f.locals[slot], p.MaxStackHeight); err != nil {
				return Result{}, err
			}
		case instruction.KindStoreLocalMaterialized:
			slot := int(p.Words[bci+1])
			v := f.pop()
			f.pop() // frame operand, discarded
			f.locals[slot] = v
		case instruction.KindCustom:
			n, producesValue := customArity(d)
			args := make([]uint64, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = f.pop()
			}
			p.maybeQuicken(bci, d, args)
			result := p.Natives[d.NativeIndex](args)
			if producesValue {
				if err := f.push(result, p.MaxStackHeight); err != nil {
					return Result{}, err
				}
			}
		case instruction.KindCustomShortCircuit:
			// A short-circuit chain's boolean-converter test (spec.md §4.4
			// "beforeChild"): pop the operand(s), call the native converter,
			// push its result if it produces one, then branch straight to
			// the chain's end (skipping every remaining child) unless the
			// result is non-zero.
			n, producesValue := customArity(d)
			args := make([]uint64, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = f.pop()
			}
			p.maybeQuicken(bci, d, args)
			result := p.Natives[d.NativeIndex](args)
			if producesValue {
				if err := f.push(result, p.MaxStackHeight); err != nil {
					return Result{}, err
				}
			}
			if result == 0 {
				target := p.Words[bci+1]
				f.pc = int(target)
				continue
			}
		case instruction.KindInstrumentationEnter, instruction.KindInstrumentationExit, instruction.KindInstrumentationLeave:
			if p.tier == TierInstrumented && p.InstrumentProbe != nil {
				idx := int(p.Words[bci+1])
				if tag, ok := p.Constants.Get(idx).(string); ok {
					p.InstrumentProbe(d.Kind, tag, bci)
				}
			}
		default:
			return Result{}, fmt.Errorf("%w: unhandled instruction kind %s at bci %d", ErrInternalException, d.Kind, bci)
		}

		length := d.Length()
		if length <= 0 {
			length = 1
		}
		f.pc = bci + length
	}
	return Result{Returned: true}, nil
}

// customArity reads a Custom/CustomShortCircuit Descriptor's operand count
// and value-producing flag from its Signature (spec.md §3: "stackEffect
// derived from signature for custom"), defaulting to a 0-operand, no-value
// instruction if Signature is nil.
func customArity(d instruction.Descriptor) (operandCount int, producesValue bool) {
	if d.Signature == nil {
		return 0, false
	}
	return d.Signature.OperandCount, d.Signature.ProducesValue
}

// maybeQuicken applies or re-applies quickening for a Custom/
// CustomShortCircuit dispatch at bci, once args's operand shape is known
// (spec.md §4.6, C8 — "first execution observes... rewrites... second
// execution dispatches directly to the specialized opcode"). This call's own
// NativeFunc dispatch always goes through d (the opcode already loaded for
// this iteration); only a later dispatch of the same bci observes the
// rewrite. A no-op below TierCached, or when bci's base opcode has no
// registered family.
func (p *Program) maybeQuicken(bci int, d instruction.Descriptor, args []uint64) {
	if p.tier < TierCached || p.Families == nil {
		return
	}
	baseID := d.ID
	if d.HasQuickeningBase {
		baseID = d.QuickeningBase
	}
	fam := p.Families[baseID]
	if fam == nil {
		return
	}
	slot := p.quickenSlots[bci]
	shape := fam.ShapeOf(args)
	if d.HasQuickeningBase {
		if specialized, ok := fam.Quickened[shape]; ok && specialized == d.ID {
			return // already quickened to the shape just observed
		}
		fam.UndoAt(bci, slot)
	}
	fam.ApplyAt(bci, slot, shape)
}

// handleException performs the linear scan of the handler table for the
// innermost entry covering bci (spec.md §4.9's "innermost first" sort
// applied at endRoot makes this scan's first match always correct), unwinds
// the operand stack to the handler's recorded height, stores the exception
// value, and redirects pc. If nothing covers bci, it returns a non-nil
// *Result signaling the exception escapes the root entirely.
func (p *Program) handleException(f *frame, bci int, excVal uint64) (*Result, error) {
	for _, h := range p.Handlers {
		if bci >= h.StartBci && bci < h.EndBci {
			if h.StartSp > len(f.stack) {
				return nil, fmt.Errorf("%w: handler start height %d exceeds stack depth %d", ErrInternalException, h.StartSp, len(f.stack))
			}
			f.stack = f.stack[:h.StartSp]
			f.locals[h.ExcLocalIdx] = excVal
			f.pc = h.HandlerBci
			diag.HandlerDispatch(bci, h.HandlerBci, true)
			return nil, nil
		}
	}
	diag.HandlerDispatch(bci, -1, false)
	return &Result{}, fmt.Errorf("%w: %v", ErrUncaughtException, p.decodeValue(excVal))
}

// encodeConstant boxes constant pool entry idx onto the uint64 operand
// stack. Values that are themselves uint64-shaped (the common case for a
// numeric-heavy root) are pushed directly; anything else is pushed as a
// tagged pool index, since the constant pool already outlives the whole
// program and needs no separate registry (spec.md §4.7's boxing-elimination
// story, in its unquickened/generic form — internal/quicken's families let
// a specific call site skip this box/unbox round trip once it has proven a
// stable concrete type).
func (p *Program) encodeConstant(idx int) uint64 {
	switch t := p.Constants.Get(idx).(type) {
	case int64:
		return uint64(t)
	case uint64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return uint64(idx)<<1 | 1
	}
}

// decodeValue reverses encodeConstant for display/exception purposes. It
// cannot distinguish a tagged pool index from a raw integer whose low bit
// happens to be set without also knowing which opcode produced the value;
// callers that need an exact unboxing (e.g. a domain instruction's operand
// handling) track that alongside the value instead of calling this.
func (p *Program) decodeValue(v uint64) any {
	if v&1 == 1 {
		if boxed := p.Constants.Get(int(v >> 1)); boxed != nil {
			return boxed
		}
	}
	return int64(v)
}
