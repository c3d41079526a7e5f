// Package finally implements the Finally-Handler Duplication machine
// (spec.md §4.5, C6) — the subsystem spec.md calls out as the hardest part
// of the whole generator: capturing a handler body once, then replaying
// (inline-duplicating) it at every exit path from its guarded region.
package finally

import (
	"errors"

	"github.com/optree-lang/optree/internal/bytecode"
	"github.com/optree-lang/optree/internal/instruction"
	"github.com/optree-lang/optree/internal/label"
)

// ErrCrossHandlerBranch is returned when a branch authored while building a
// handler body targets a label that lives in a *different* handler's scope
// (spec.md §4.5 invariant).
var ErrCrossHandlerBranch = errors.New("finally: branch inside a finally handler may only target a label declared in the same handler")

// CheckCrossHandlerBranch enforces spec.md §4.5's invariant: a branch
// authored while building handler H may target any label declared outside
// every handler (FinallyTryOpSeq == NotInHandler — resolved later via the
// reverse map built at Freeze) or a label declared inside H itself
// (FinallyTryOpSeq == currentCtxSeq). It may not target a label declared
// inside some *other* handler, since that handler's own duplication makes
// such a target ambiguous across copies.
func CheckCrossHandlerBranch(target *label.Label, currentCtxSeq int64) error {
	if target.FinallyTryOpSeq == NotInHandler || target.FinallyTryOpSeq == currentCtxSeq {
		return nil
	}
	return ErrCrossHandlerBranch
}

// NotInHandler is the Label.FinallyTryOpSeq value for labels declared
// outside any finally-handler body.
const NotInHandler = -1

// Context captures, on beginFinallyTry, the builder state that must be
// restored once the handler body finishes, and later (once frozen) the
// handler body itself as a self-contained, relocatable subprogram.
type Context struct {
	ExcLocal       int
	SequenceNumber int64
	Parent         *Context

	savedBuffer      bytecode.State
	SavedStackHeight int

	// Populated by Freeze once the handler body (first FinallyTry child)
	// has finished building.
	HandlerWords     []uint16
	HandlerSources   []bytecode.SourceInfoEntry
	HandlerHandlers  []bytecode.HandlerEntry
	ReverseMap       map[int]label.PendingRef // immediateBci -> outer label + stack height
	RelativeBranches map[int]bool             // immediateBci -> already-resolved, needs +offset on copy
	frozen           bool
}

// Stack is the parentContext chain (spec.md §3: "Also keeps parentContext
// forming a stack").
type Stack struct {
	top *Context
}

// Begin allocates a fresh Context, pushes it, and resets buf to empty so the
// handler body can be built in isolation (spec.md §4.5 step 1).
func (s *Stack) Begin(excLocal int, seq int64, currentStackHeight int, buf *bytecode.Buffer) *Context {
	ctx := &Context{
		ExcLocal:         excLocal,
		SequenceNumber:   seq,
		Parent:           s.top,
		SavedStackHeight: currentStackHeight,
		savedBuffer:      buf.Reset(),
	}
	s.top = ctx
	return ctx
}

// Top returns the innermost open Context, or nil if none.
func (s *Stack) Top() *Context {
	return s.top
}

// Pop removes the innermost Context (on midFinallyTry, after Freeze), and
// restores the buffer to what it was before Begin.
func (s *Stack) Pop(buf *bytecode.Buffer) *Context {
	ctx := s.top
	s.top = ctx.Parent
	buf.Restore(ctx.savedBuffer)
	return ctx
}

// Freeze finishes building the handler body: it extracts buf's contents as
// the self-contained handlerBc, pulls out any branches still unresolved
// (necessarily targeting a label outside this handler, since CheckDefined
// would otherwise have rejected ending the handler with an orphan label of
// its own) into ReverseMap, and classifies every other branch/backward-
// branch/branch-false immediate as "relative" (spec.md §4.5 step preceding
// "On every exit path").
func (ctx *Context) Freeze(buf *bytecode.Buffer, resolver *label.Resolver, table instruction.Table) {
	words, sources, handlers := buf.Freeze()
	reverseMap := resolver.ExtractInRange(0, len(words))
	relative := map[int]bool{}
	for bci := 0; bci < len(words); {
		d := table.Get(words[bci])
		if isRelocatableBranch(d.Kind) {
			immBci := bci + 1
			if _, isOuter := reverseMap[immBci]; !isOuter {
				relative[immBci] = true
			}
		}
		length := d.Length()
		if length <= 0 {
			length = 1
		}
		bci += length
	}
	ctx.HandlerWords, ctx.HandlerSources, ctx.HandlerHandlers = words, sources, handlers
	ctx.ReverseMap, ctx.RelativeBranches = reverseMap, relative
	ctx.frozen = true
}

// Frozen reports whether Freeze has run.
func (ctx *Context) Frozen() bool {
	return ctx.frozen
}

func isRelocatableBranch(k instruction.Kind) bool {
	switch k {
	case instruction.KindBranch, instruction.KindBranchBackward, instruction.KindBranchFalse, instruction.KindCustomShortCircuit:
		return true
	default:
		return false
	}
}

// Hooks are the per-replay collaborators Replay needs from the builder,
// kept out of this package to avoid an import cycle (the builder owns the
// live label.Resolver and any Node/continuation allocators).
type Hooks struct {
	// RegisterOuterBranch re-registers a branch (whose handler-relative
	// target was in ReverseMap) against the live resolver, now at its
	// absolute position in the real buffer.
	RegisterOuterBranch func(labelID int, immediateBci int, stackHeight int)
	// AllocNode returns a fresh cached-data slot index for a duplicated
	// Node immediate (spec.md §4.5 step 2: "node identity must not be
	// shared across replays").
	AllocNode func() uint16
	// MarkRelative is called, for a nested replay (Replay invoked while
	// another Context is itself being built), to propagate a newly-copied
	// relative-branch position into the *parent* context so a further
	// replay of that parent continues to relocate it (spec.md §4.5 step
	// 2's "also add this new immediate position to the parent context's
	// finallyRelativeBranches").
	MarkRelative func(immediateBci int)
	// ReinternYield is called for every duplicated Yield instruction,
	// passed the original Constant immediate's pool index and the copy's
	// own resume bci, and must return the pool index to patch the copy's
	// immediate to (spec.md §4.5 step 2: "a fresh continuation record
	// pointing at the new bci and install a new constant-pool index" —
	// two duplicated copies of a handler containing a yield must not share
	// one continuation record, or all but the first would resume at the
	// wrong bci). nil disables re-interning (the immediate is left as the
	// verbatim original index).
	ReinternYield func(origIdx int, newResumeBci int) uint16
}

// Replay inline-duplicates ctx's handler body into buf starting at buf's
// current bci, relocating every branch/backward-branch/branch-false
// immediate, allocating fresh Node slots, and merging source info and
// exception handlers at the copy's offset (spec.md §4.5, "doEmitFinallyHandler").
func Replay(ctx *Context, table instruction.Table, buf *bytecode.Buffer, currentStackHeight int, hooks Hooks) {
	offsetBci := buf.Len()
	for _, w := range ctx.HandlerWords {
		buf.Emit(w)
	}

	for bci := 0; bci < len(ctx.HandlerWords); {
		d := table.Get(ctx.HandlerWords[bci])

		if isRelocatableBranch(d.Kind) {
			immBci := bci + 1
			newImmBci := offsetBci + immBci
			if ref, ok := ctx.ReverseMap[immBci]; ok {
				hooks.RegisterOuterBranch(ref.LabelID, newImmBci, currentStackHeight+ref.StackHeight)
			} else if ctx.RelativeBranches[immBci] {
				newTarget := offsetBci + int(ctx.HandlerWords[immBci])
				buf.PatchImmediate(newImmBci, uint16(newTarget))
				if hooks.MarkRelative != nil {
					hooks.MarkRelative(newImmBci)
				}
			}
		}

		for i, imm := range d.Immediates {
			if imm == instruction.Node && hooks.AllocNode != nil {
				buf.PatchImmediate(offsetBci+bci+1+i, hooks.AllocNode())
			}
		}

		if d.Kind == instruction.KindYield && hooks.ReinternYield != nil {
			immBci := bci + 1
			origIdx := int(ctx.HandlerWords[immBci])
			newResumeBci := offsetBci + bci + d.Length()
			newIdx := hooks.ReinternYield(origIdx, newResumeBci)
			buf.PatchImmediate(offsetBci+immBci, newIdx)
		}

		length := d.Length()
		if length <= 0 {
			length = 1
		}
		bci += length
	}

	for _, si := range ctx.HandlerSources {
		buf.AddSourceInfo(si.Bci+offsetBci, si.SourceIdx, si.StartOffset, si.Length)
	}
	for _, h := range ctx.HandlerHandlers {
		buf.AddExceptionHandler(h.StartBci+offsetBci, h.EndBci+offsetBci, h.HandlerBci+offsetBci, h.StartSp+currentStackHeight, h.ExcLocalIdx)
	}
}
