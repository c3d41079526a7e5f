package instruction

import (
	"fmt"
	"strings"
)

// Disassemble renders a bytecode array as one line per instruction,
// `bci: Name imm0 imm1 ...`. Grounded on go-interpreter-wagon's disasm
// package, simplified for a flat 16-bit word stream instead of a
// byte-oriented reader since every immediate here is exactly one word wide.
func Disassemble(t Table, bc []uint16) string {
	var b strings.Builder
	for bci := 0; bci < len(bc); {
		d := t.Get(bc[bci])
		fmt.Fprintf(&b, "%4d: %s", bci, d.Name)
		for i, kind := range d.Immediates {
			fmt.Fprintf(&b, " %s=%d", immediateKindName(kind), bc[bci+1+i])
		}
		b.WriteByte('\n')
		length := d.Length()
		if length <= 0 {
			length = 1 // defensive: never loop forever on a corrupt descriptor
		}
		bci += length
	}
	return b.String()
}

func immediateKindName(k ImmediateKind) string {
	switch k {
	case BytecodeIndex:
		return "bci"
	case Integer:
		return "int"
	case Constant:
		return "const"
	case LocalSetter:
		return "local"
	case LocalSetterRangeStart:
		return "localRangeStart"
	case LocalSetterRangeLength:
		return "localRangeLength"
	case Node:
		return "node"
	case Profile:
		return "profile"
	default:
		return "imm"
	}
}
