// Package quicken implements the Quickening Rewriter (spec.md §4.6, C8):
// in-place opcode rewriting that specializes a generic instruction (e.g.
// "Add") to a type-specific quickened form (e.g. "AddInt64") the first few
// times it actually runs with a consistent operand shape, and un-quickens
// it back to the generic form if that shape assumption is later violated.
package quicken

import (
	"fmt"
	"sync/atomic"

	"github.com/optree-lang/optree/internal/diag"
	"github.com/optree-lang/optree/internal/instruction"
)

// Word is the width of the atomic cell a Slot packs its 16-bit opcode word
// into. Quickening
// rewrites a single 16-bit opcode word in place while the dispatch loop may
// concurrently be reading it from another tier's goroutine (spec.md §5:
// "quickening must use an aligned atomic store so a concurrently-running
// cached-tier goroutine never observes a torn opcode word").
type Word = uint32

// Slot is one quickenable bytecode position: the opcode word packed into
// the low 16 bits of an atomic uint32 so reads/writes are torn-free on
// every platform Go supports, the way the teacher's interpreter keeps
// per-bci state in lock-free arrays for its cached tier.
type Slot struct {
	word atomic.Uint32
}

// NewSlot creates a Slot holding the given initial (generic) opcode.
func NewSlot(opcode uint16) *Slot {
	s := &Slot{}
	s.word.Store(uint32(opcode))
	return s
}

// Load reads the current opcode, acquire-ordered so a reader that observes
// a quickened opcode also observes every write the quickening transition
// made beforehand (e.g. a specialized inline cache populated just before
// the opcode swap).
func (s *Slot) Load() uint16 {
	return uint16(s.word.Load())
}

// Family describes one base instruction's quickening candidates: its
// generic opcode plus the specialized opcodes it may rewrite to, keyed by a
// caller-supplied shape signature (spec.md §4.6's "per operand-type
// combination").
type Family struct {
	Base       uint16
	Quickened  map[Shape]uint16
	unquicken  map[uint16]uint16 // specialized opcode -> base, for undo
}

// Shape is an opaque operand-type signature a call site's quickening logic
// assigns (e.g. "int64,int64" for an Add seeing two ints); the meaning is
// entirely up to the domain instructions registered alongside Add.
type Shape string

// BuildFamily derives the undo table (specialized opcode -> base) from
// shapes (spec.md §4.6, "quickening family registration"). It does not
// check the ids in shapes against table.
func BuildFamily(table instruction.Table, base uint16, shapes map[Shape]uint16) Family {
	undo := make(map[uint16]uint16, len(shapes))
	for _, specialized := range shapes {
		undo[specialized] = base
	}
	return Family{Base: base, Quickened: shapes, unquicken: undo}
}

// Apply rewrites slot from its base opcode to the specialized opcode for
// shape, if slot currently holds the family's base opcode. It is a no-op
// (not an error) if slot was already rewritten — by this call site or a
// concurrent one — to any opcode other than Base, since quickening is an
// idempotent speculative optimization, not a correctness-critical
// transition (spec.md §4.6: "applying quickening is always safe to skip").
func (f Family) Apply(slot *Slot, shape Shape) (applied bool) {
	specialized, ok := f.Quickened[shape]
	if !ok {
		return false
	}
	return slot.word.CompareAndSwap(uint32(f.Base), uint32(specialized))
}

// Undo rewrites slot back to the family's generic base opcode, used when a
// quickened instruction's speculative shape assumption is violated at
// dispatch time (spec.md §4.6 "respecialize", §4.7's boxing-elimination
// interaction: undo must also invalidate any boxing-eliminated slot kind
// the caller tracks alongside this opcode).
func (f Family) Undo(slot *Slot) (undone bool) {
	current := slot.Load()
	base, ok := f.unquicken[current]
	if !ok {
		return false
	}
	return slot.word.CompareAndSwap(uint32(current), uint32(base))
}

// ApplyAt is Apply plus a diagnostics log entry naming the bci the slot
// backs, for call sites that track bci alongside their Slot (the cached-tier
// dispatch loop).
func (f Family) ApplyAt(bci int, slot *Slot, shape Shape) (applied bool) {
	applied = f.Apply(slot, shape)
	diag.Quickened(fmt.Sprintf("base=%d", f.Base), bci, string(shape), applied)
	return applied
}

// UndoAt is Undo plus a diagnostics log entry.
func (f Family) UndoAt(bci int, slot *Slot) (undone bool) {
	undone = f.Undo(slot)
	diag.Quickened(fmt.Sprintf("base=%d", f.Base), bci, "", undone)
	return undone
}

// IsQuickened reports whether opcode is one of f's specialized forms.
func (f Family) IsQuickened(opcode uint16) bool {
	_, ok := f.unquicken[opcode]
	return ok
}
