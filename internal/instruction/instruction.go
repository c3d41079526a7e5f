// Package instruction holds the immutable descriptor tables for opcodes
// (Instruction) and builder-facing operations (Operation). Nothing in this
// package depends on a live builder or interpreter: it is pure data plus
// validation, the way wazero's internal/wazeroir keeps its OperationKind
// table independent of the engine that consumes it.
package instruction

import "fmt"

// Kind identifies what an Instruction does at dispatch time. The zero value
// is intentionally not a valid kind so a zero-valued Descriptor is easy to
// spot as uninitialized.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBranch
	KindBranchBackward
	KindBranchFalse
	KindLoadConstant
	KindLoadLocal
	KindStoreLocal
	KindLoadLocalMaterialized
	KindStoreLocalMaterialized
	KindLoadArgument
	KindPop
	KindDup
	KindReturn
	KindThrow
	KindYield
	KindTrap
	KindMergeConditional
	KindStoreNull
	KindLoadVariadic
	KindMergeVariadic
	KindCustom
	KindCustomShortCircuit
	KindInstrumentationEnter
	KindInstrumentationExit
	KindInstrumentationLeave
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "Branch"
	case KindBranchBackward:
		return "BranchBackward"
	case KindBranchFalse:
		return "BranchFalse"
	case KindLoadConstant:
		return "LoadConstant"
	case KindLoadLocal:
		return "LoadLocal"
	case KindStoreLocal:
		return "StoreLocal"
	case KindLoadLocalMaterialized:
		return "LoadLocalMaterialized"
	case KindStoreLocalMaterialized:
		return "StoreLocalMaterialized"
	case KindLoadArgument:
		return "LoadArgument"
	case KindPop:
		return "Pop"
	case KindDup:
		return "Dup"
	case KindReturn:
		return "Return"
	case KindThrow:
		return "Throw"
	case KindYield:
		return "Yield"
	case KindTrap:
		return "Trap"
	case KindMergeConditional:
		return "MergeConditional"
	case KindStoreNull:
		return "StoreNull"
	case KindLoadVariadic:
		return "LoadVariadic"
	case KindMergeVariadic:
		return "MergeVariadic"
	case KindCustom:
		return "Custom"
	case KindCustomShortCircuit:
		return "CustomShortCircuit"
	case KindInstrumentationEnter:
		return "InstrumentationEnter"
	case KindInstrumentationExit:
		return "InstrumentationExit"
	case KindInstrumentationLeave:
		return "InstrumentationLeave"
	default:
		return "Invalid"
	}
}

// IsBranch reports whether this kind's immediate names a control-transfer
// target: a BytecodeIndex for the branch kinds and CustomShortCircuit, a
// continuation Constant for Yield.
func (k Kind) IsBranch() bool {
	switch k {
	case KindBranch, KindBranchBackward, KindBranchFalse, KindYield, KindCustomShortCircuit:
		return true
	default:
		return false
	}
}

// ImmediateKind identifies the meaning of one word following an opcode.
type ImmediateKind uint8

const (
	BytecodeIndex ImmediateKind = iota
	Integer
	Constant
	LocalSetter
	LocalSetterRangeStart
	LocalSetterRangeLength
	Node
	Profile
)

// Descriptor is the immutable metadata for one opcode. Every Instruction is
// looked up by ID; the zero ID is reserved (KindInvalid) so a stray zeroed
// bytecode word is never misread as a legitimate instruction.
type Descriptor struct {
	ID          uint16
	Name        string
	Kind        Kind
	Immediates  []ImmediateKind
	StackEffect int8 // one of -2, -1, 0, +1; ignored for Custom/CustomShortCircuit, see Signature
	// Signature, when non-nil, overrides StackEffect for Custom/CustomShortCircuit
	// instructions whose arity depends on the specialization's operand count.
	Signature *Signature

	// HasQuickeningBase is true when this Descriptor is itself a quickened
	// form of another instruction (its generic/base form).
	HasQuickeningBase bool
	QuickeningBase    uint16
	// QuickenedSet lists the IDs of instructions this one can be rewritten
	// to by applyQuickening_T, keyed externally by the quickening family
	// (see internal/quicken).
	QuickenedSet []uint16

	// NativeIndex selects which of the interpreter's registered native
	// functions a Custom or CustomShortCircuit instruction calls at
	// dispatch time. Ignored for every other Kind.
	NativeIndex int
}

// Signature describes the operand/result arity of a Custom or
// CustomShortCircuit instruction, whose stack effect is operandCount*-1 + 1
// (if it produces a value) rather than one of the fixed StackEffect values.
type Signature struct {
	OperandCount  int
	ProducesValue bool
}

// StackDelta returns the net operand-stack height change of executing this
// instruction once, per spec.md §3 ("stackEffect derived from signature for
// custom").
func (d Descriptor) StackDelta() int {
	if d.Signature != nil {
		delta := -d.Signature.OperandCount
		if d.Signature.ProducesValue {
			delta++
		}
		return delta
	}
	return int(d.StackEffect)
}

// Length is the instruction's footprint in the 16-bit bytecode array: one
// word for the opcode plus one word per immediate (spec.md §3, §6).
func (d Descriptor) Length() int {
	return 1 + len(d.Immediates)
}

// Table is the frozen set of Descriptors an interpreter dispatches against,
// indexed densely by ID for O(1) lookup.
type Table struct {
	byID []Descriptor
}

// ErrUnknownQuickeningTarget is returned by BuildTable when a Descriptor
// references a quickening base or member that doesn't resolve to a real ID.
var ErrUnknownQuickeningTarget = fmt.Errorf("instruction: quickening reference does not resolve to a known instruction")

// BuildTable validates and freezes a set of Descriptors. Every
// QuickeningBase and QuickenedSet entry must resolve to a Descriptor that is
// actually present (SPEC_FULL.md §4, "Quickening family registration").
func BuildTable(descs []Descriptor) (Table, error) {
	var maxID uint16
	for _, d := range descs {
		if d.ID > maxID {
			maxID = d.ID
		}
	}
	byID := make([]Descriptor, maxID+1)
	present := make([]bool, maxID+1)
	for _, d := range descs {
		byID[d.ID] = d
		present[d.ID] = true
	}
	for _, d := range descs {
		if d.HasQuickeningBase {
			if int(d.QuickeningBase) >= len(present) || !present[d.QuickeningBase] {
				return Table{}, fmt.Errorf("%w: instruction %s base id %d", ErrUnknownQuickeningTarget, d.Name, d.QuickeningBase)
			}
		}
		for _, q := range d.QuickenedSet {
			if int(q) >= len(present) || !present[q] {
				return Table{}, fmt.Errorf("%w: instruction %s quickened id %d", ErrUnknownQuickeningTarget, d.Name, q)
			}
		}
	}
	return Table{byID: byID}, nil
}

// Get looks up a Descriptor by opcode ID. Panics on an ID outside the table
// the way a corrupted bytecode stream ought to: this is a programming-error
// class bug, not a recoverable execution error.
func (t Table) Get(id uint16) Descriptor {
	return t.byID[id]
}

// Len returns the number of densely-addressable IDs in the table (including
// any unused holes), used to size companion arrays (e.g. profile slots).
func (t Table) Len() int {
	return len(t.byID)
}
