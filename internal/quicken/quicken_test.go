package quicken

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optree-lang/optree/internal/instruction"
)

const (
	opAddGeneric uint16 = 100
	opAddInt64   uint16 = 101
	opAddFloat64 uint16 = 102
)

func TestApplyRewritesBaseToSpecialized(t *testing.T) {
	family := Family{Base: opAddGeneric, Quickened: map[Shape]uint16{
		"int64":   opAddInt64,
		"float64": opAddFloat64,
	}, unquicken: map[uint16]uint16{opAddInt64: opAddGeneric, opAddFloat64: opAddGeneric}}

	slot := NewSlot(opAddGeneric)
	require.True(t, family.Apply(slot, "int64"))
	require.Equal(t, opAddInt64, slot.Load())
}

func TestApplyIsNoOpOnceAlreadyQuickened(t *testing.T) {
	family := Family{Base: opAddGeneric, Quickened: map[Shape]uint16{
		"int64": opAddInt64,
	}, unquicken: map[uint16]uint16{opAddInt64: opAddGeneric}}

	slot := NewSlot(opAddInt64)
	require.False(t, family.Apply(slot, "int64"))
	require.Equal(t, opAddInt64, slot.Load())
}

func TestUndoRestoresGenericOpcode(t *testing.T) {
	family := Family{Base: opAddGeneric, Quickened: map[Shape]uint16{
		"int64": opAddInt64,
	}, unquicken: map[uint16]uint16{opAddInt64: opAddGeneric}}

	slot := NewSlot(opAddInt64)
	require.True(t, family.Undo(slot))
	require.Equal(t, opAddGeneric, slot.Load())
	require.False(t, family.Undo(slot), "already generic, nothing to undo")
}

func TestIsQuickened(t *testing.T) {
	family := BuildFamily(instruction.Table{}, opAddGeneric, map[Shape]uint16{"int64": opAddInt64})
	require.True(t, family.IsQuickened(opAddInt64))
	require.False(t, family.IsQuickened(opAddGeneric))
}

func TestApplyAtAndUndoAtLogButBehaveLikeApplyAndUndo(t *testing.T) {
	family := BuildFamily(instruction.Table{}, opAddGeneric, map[Shape]uint16{"int64": opAddInt64})
	slot := NewSlot(opAddGeneric)

	require.True(t, family.ApplyAt(7, slot, "int64"))
	require.Equal(t, opAddInt64, slot.Load())

	require.True(t, family.UndoAt(7, slot))
	require.Equal(t, opAddGeneric, slot.Load())
}
