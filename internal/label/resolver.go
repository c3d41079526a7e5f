// Package label implements the Label & Branch Resolver (spec.md §4.3, C4):
// tracking unresolved forward branches and fixing up targets when labels are
// emitted, while rejecting backward branches and unbalanced stack heights.
package label

import (
	"errors"
	"fmt"
)

// Undefined is the sentinel bci for a Label that hasn't been emitted yet
// (spec.md §3: "mutable bci ∈ {UNINIT} ∪ [0, len)"). It is a variable, not
// a constant, so uint16(Undefined) converts at run time to the 0xFFFF
// placeholder word that unresolved branch immediates carry.
var Undefined = -1

var (
	ErrUnbalancedBranch          = errors.New("label: branch site stack height does not match the label's")
	ErrBackwardBranchUnsupported = errors.New("label: branch to an already-defined label is unsupported")
	ErrUndefinedLabel            = errors.New("label: operation ended with a declared label still undefined")
	ErrLabelAlreadyEmitted       = errors.New("label: label emitted more than once")
	ErrLabelOutsideDeclaringOp   = errors.New("label: label emitted outside the operation that declared it")
)

// Label is a branch target declared by createLabel and defined exactly once
// by emitLabel, inside the operation frame that declared it (spec.md §3).
type Label struct {
	ID              int
	Bci             int
	DeclaringOpSeq  int64
	FinallyTryOpSeq int64 // -1 if not declared inside a finally handler
	hasStackHeight  bool
	stackHeight     int
}

// IsDefined reports whether the label has been emitted.
func (l *Label) IsDefined() bool {
	return l.Bci != Undefined
}

type pendingBranch struct {
	immediateBci int
	stackHeight  int
}

// Resolver tracks every Label declared within one root build and the
// pending forward branches targeting each.
type Resolver struct {
	labels  []*Label
	pending map[int][]pendingBranch
	nextID  int
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{pending: map[int][]pendingBranch{}}
}

// CreateLabel allocates a new, undefined Label (spec.md §4.3).
func (r *Resolver) CreateLabel(declaringOpSeq int64, finallyTryOpSeq int64) *Label {
	l := &Label{ID: r.nextID, Bci: Undefined, DeclaringOpSeq: declaringOpSeq, FinallyTryOpSeq: finallyTryOpSeq}
	r.nextID++
	r.labels = append(r.labels, l)
	return l
}

// RegisterUnresolvedBranch records a pending fixup for a branch whose
// target label isn't defined yet (spec.md §4.3).
func (r *Resolver) RegisterUnresolvedBranch(l *Label, immediateBci int, stackHeight int) {
	r.pending[l.ID] = append(r.pending[l.ID], pendingBranch{immediateBci: immediateBci, stackHeight: stackHeight})
}

// CheckBackwardBranch rejects a branch to an already-defined label whose bci
// is before the current position (spec.md §4.3, §9 Open Question #3: checked
// before any leaves are emitted).
func CheckBackwardBranch(l *Label, currentBci int) error {
	if l.IsDefined() && l.Bci < currentBci {
		return fmt.Errorf("%w: label %d defined at bci %d, branch at bci %d", ErrBackwardBranchUnsupported, l.ID, l.Bci, currentBci)
	}
	return nil
}

// PatchFunc writes a resolved bci into a bytecode immediate slot. Supplied
// by the caller (internal/bytecode.Buffer.PatchImmediate) to keep this
// package free of a bytecode-buffer dependency.
type PatchFunc func(immediateBci int, bci uint16)

// ResolveLabel defines l at bci, checks every pending branch site against
// it for stack-height balance, and patches them all (spec.md §4.3).
func (r *Resolver) ResolveLabel(l *Label, bci int, stackHeight int, patch PatchFunc) error {
	if l.IsDefined() {
		return fmt.Errorf("%w: label %d already defined at bci %d", ErrLabelAlreadyEmitted, l.ID, l.Bci)
	}
	l.Bci = bci
	l.hasStackHeight = true
	l.stackHeight = stackHeight

	for _, p := range r.pending[l.ID] {
		if p.stackHeight != stackHeight {
			return fmt.Errorf("%w: label %d has height %d, branch at bci %d had height %d",
				ErrUnbalancedBranch, l.ID, stackHeight, p.immediateBci, p.stackHeight)
		}
		patch(p.immediateBci, uint16(bci))
	}
	delete(r.pending, l.ID)
	return nil
}

// CheckDefined fails with ErrUndefinedLabel if any of declaredLabels is
// still undefined, enforcing the orphan-label policy on endX (spec.md §4.3).
func CheckDefined(declaredLabels []*Label) error {
	for _, l := range declaredLabels {
		if !l.IsDefined() {
			return fmt.Errorf("%w: label %d", ErrUndefinedLabel, l.ID)
		}
	}
	return nil
}

// PendingRef is a pending branch site handed back by ExtractInRange: the
// label it targets plus the stack height recorded at the branch site.
type PendingRef struct {
	LabelID     int
	StackHeight int
}

// ExtractInRange removes and returns every pending branch whose
// immediateBci falls in [lo, hi), keyed by immediateBci. Used when a
// finally handler body is frozen (internal/finally.Context.Freeze): any
// branch still unresolved inside the handler's own [0, len) range must
// refer to a label outside the handler (CheckDefined would otherwise have
// rejected ending the handler with one of its own labels left orphaned),
// and must be re-registered against the real buffer at each replay site
// rather than resolved against the about-to-be-discarded handler buffer.
func (r *Resolver) ExtractInRange(lo, hi int) map[int]PendingRef {
	out := map[int]PendingRef{}
	for labelID, sites := range r.pending {
		var kept []pendingBranch
		for _, s := range sites {
			if s.immediateBci >= lo && s.immediateBci < hi {
				out[s.immediateBci] = PendingRef{LabelID: labelID, StackHeight: s.stackHeight}
			} else {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(r.pending, labelID)
		} else {
			r.pending[labelID] = kept
		}
	}
	return out
}

// RegisterUnresolvedBranchByID is RegisterUnresolvedBranch keyed by label ID
// rather than a *Label, used by internal/finally.Replay to re-register a
// branch whose original *Label is no longer in scope (only its ID survived
// in the ReverseMap).
func (r *Resolver) RegisterUnresolvedBranchByID(labelID int, immediateBci int, stackHeight int) {
	r.pending[labelID] = append(r.pending[labelID], pendingBranch{immediateBci: immediateBci, stackHeight: stackHeight})
}
