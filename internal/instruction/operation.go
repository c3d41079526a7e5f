package instruction

// OperationKind identifies a user-facing builder construct (spec.md §3).
// Operations are declarative: they describe what the Builder Facade (C7)
// accepts, not how it's encoded; a given OperationKind may emit zero or more
// Instructions.
type OperationKind uint8

const (
	OperationInvalid OperationKind = iota
	OperationRoot
	OperationBlock
	OperationIfThen
	OperationIfThenElse
	OperationConditional
	OperationWhile
	OperationTryCatch
	OperationFinallyTry
	OperationFinallyTryNoExcept
	OperationReturn
	OperationLabel
	OperationBranch
	OperationLoadLocal
	OperationStoreLocal
	OperationLoadLocalMaterialized
	OperationStoreLocalMaterialized
	OperationLoadArgument
	OperationLoadConstant
	OperationYield
	OperationSource
	OperationSourceSection
	OperationInstrumentTag
	OperationCustomSimple
	OperationCustomShortCircuit
)

func (k OperationKind) String() string {
	switch k {
	case OperationRoot:
		return "Root"
	case OperationBlock:
		return "Block"
	case OperationIfThen:
		return "IfThen"
	case OperationIfThenElse:
		return "IfThenElse"
	case OperationConditional:
		return "Conditional"
	case OperationWhile:
		return "While"
	case OperationTryCatch:
		return "TryCatch"
	case OperationFinallyTry:
		return "FinallyTry"
	case OperationFinallyTryNoExcept:
		return "FinallyTryNoExcept"
	case OperationReturn:
		return "Return"
	case OperationLabel:
		return "Label"
	case OperationBranch:
		return "Branch"
	case OperationLoadLocal:
		return "LoadLocal"
	case OperationStoreLocal:
		return "StoreLocal"
	case OperationLoadLocalMaterialized:
		return "LoadLocalMaterialized"
	case OperationStoreLocalMaterialized:
		return "StoreLocalMaterialized"
	case OperationLoadArgument:
		return "LoadArgument"
	case OperationLoadConstant:
		return "LoadConstant"
	case OperationYield:
		return "Yield"
	case OperationSource:
		return "Source"
	case OperationSourceSection:
		return "SourceSection"
	case OperationInstrumentTag:
		return "InstrumentTag"
	case OperationCustomSimple:
		return "CustomSimple"
	case OperationCustomShortCircuit:
		return "CustomShortCircuit"
	default:
		return "Invalid"
	}
}

// VariadicChildren marks OperationDescriptor.NumChildren as "one or more",
// per spec.md §4.4's "≥ numChildren − 1 for variadic" arity rule.
const VariadicChildren = -1

// OperationDescriptor is the immutable metadata the Builder Facade (C7)
// consults to validate a begin…/end…/emit… call sequence for one operation.
type OperationDescriptor struct {
	Kind OperationKind
	Name string

	// NumChildren is the exact required child count, or VariadicChildren.
	NumChildren int
	// ChildrenMustBeValue[i] is consulted per child index (clamped to the
	// last entry for variadic operations) to enforce ValueExpected/
	// VoidExpected (spec.md §4.4).
	ChildrenMustBeValue []bool

	// IsTransparent operations forward whichever value (or void) their last
	// relevant child produced instead of synthesizing their own.
	IsTransparent bool
	// IsVoid operations never leave a value on the stack themselves.
	IsVoid bool
	// IsShortCircuit marks boolean-converter-driven parents (spec.md §4.4).
	IsShortCircuit bool
}

// ChildMustBeValue reports whether the i'th child (0-based) of an operation
// with this descriptor must produce a value.
func (d OperationDescriptor) ChildMustBeValue(i int) bool {
	if len(d.ChildrenMustBeValue) == 0 {
		return false
	}
	if i >= len(d.ChildrenMustBeValue) {
		return d.ChildrenMustBeValue[len(d.ChildrenMustBeValue)-1]
	}
	return d.ChildrenMustBeValue[i]
}
