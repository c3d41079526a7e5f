package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optree-lang/optree/internal/builder"
	"github.com/optree-lang/optree/internal/constpool"
	"github.com/optree-lang/optree/internal/instruction"
	"github.com/optree-lang/optree/internal/quicken"
)

func testTable(t *testing.T) instruction.Table {
	t.Helper()
	tbl, err := instruction.BuildTable(builder.CoreTable())
	require.NoError(t, err)
	return tbl
}

func TestRunSimpleReturn(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 0)
	b.EmitLoadConstant(int64(42))
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 0)
	res, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.Returned)
	require.True(t, res.HasValue)
	require.Equal(t, uint64(42), res.Value)
}

func TestRunTryCatchHandlesThrow(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 1)
	b.BeginTryCatch(0)
	b.EmitLoadConstant(int64(7))
	b.EmitThrow()
	require.NoError(t, b.MidTryCatch())
	b.EmitLoadLocal(0)
	b.EmitStoreLocal(0)
	require.NoError(t, b.EndTryCatch())
	b.EmitLoadConstant(int64(1))
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 1)
	res, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.Returned)
	require.Equal(t, uint64(1), res.Value)
}

func TestRunTierPromotesAfterRepeatedInvocations(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 0)
	b.EmitLoadConstant(int64(1))
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 0)
	require.Equal(t, TierUncached, p.Tier())
	for i := 0; i < PromoteAfter+1; i++ {
		_, err := p.Run(context.Background(), nil)
		require.NoError(t, err)
	}
	require.Equal(t, TierCached, p.Tier())
}

func TestRunWithTierThresholdsPromotesSooner(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 0)
	b.EmitLoadConstant(int64(1))
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 0)
	p.WithTierThresholds(1, 2)
	for i := 0; i < 2; i++ {
		_, err := p.Run(context.Background(), nil)
		require.NoError(t, err)
	}
	require.Equal(t, TierCached, p.Tier())
}

func TestRunReturnsStackOverflowWhenMaxHeightUnderstated(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 0)
	b.EmitLoadConstant(int64(1))
	b.EmitLoadConstant(int64(2))
	b.EmitPop()
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	// A tampered/hand-built Program that understates the true max height:
	// the bytecode above needs height 2, this claims only 1.
	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), 1, 0)
	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrStackOverflow)
}

func TestRunReturnsInternalExceptionOnUnknownOpcode(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	// Opcode ID 0 is reserved (instruction.KindInvalid's zero Descriptor),
	// never assigned by CoreTable.
	words := []uint16{0}
	p := NewProgram(tbl, words, pool, nil, 0, 0)
	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrInternalException)
}

func TestRunHonorsContextCancellationOnBackwardBranch(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	// A self-looping backward branch: bci 0 unconditionally jumps to bci 0.
	words := []uint16{builder.OpBranchBackward, 0}
	p := NewProgram(tbl, words, pool, nil, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

const (
	opAddBase uint16 = 200
	opAddII   uint16 = 201
)

func quickenTestTable(t *testing.T) instruction.Table {
	t.Helper()
	descs := append(builder.CoreTable(),
		instruction.Descriptor{
			ID: opAddBase, Name: "Add", Kind: instruction.KindCustom,
			Signature:    &instruction.Signature{OperandCount: 2, ProducesValue: true},
			NativeIndex:  0,
			QuickenedSet: []uint16{opAddII},
		},
		instruction.Descriptor{
			ID: opAddII, Name: "AddII", Kind: instruction.KindCustom,
			Signature:         &instruction.Signature{OperandCount: 2, ProducesValue: true},
			NativeIndex:       1,
			HasQuickeningBase: true,
			QuickeningBase:    opAddBase,
		},
	)
	tbl, err := instruction.BuildTable(descs)
	require.NoError(t, err)
	return tbl
}

func addNative(args []uint64) uint64 { return args[0] + args[1] }

func TestMaybeQuickenRewritesOpcodeOnFirstCachedDispatch(t *testing.T) {
	tbl := quickenTestTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 0)
	b.EmitLoadConstant(uint64(2))
	b.EmitLoadConstant(uint64(3))
	customBci := len(b.Buffer().Words())
	b.EmitCustom(opAddBase)
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 0)
	p.WithTierThresholds(0, 100) // promotes to TierCached on the very first Run
	p.Natives = []NativeFunc{addNative, addNative}
	fam := QuickeningFamily{
		Family:  quicken.BuildFamily(tbl, opAddBase, map[quicken.Shape]uint16{"ii": opAddII}),
		ShapeOf: func(args []uint64) quicken.Shape { return "ii" },
	}
	p.Families = map[uint16]*QuickeningFamily{opAddBase: &fam}

	require.Equal(t, opAddBase, p.quickenSlots[customBci].Load(), "starts at the generic opcode")

	res, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(5), res.Value, "first execution still dispatches via the opcode loaded that iteration")
	require.Equal(t, opAddII, p.quickenSlots[customBci].Load(), "rewritten in place for the next execution (spec.md §8 scenario 6)")

	res, err = p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(5), res.Value, "second execution dispatches directly through the quickened opcode")
}

func TestInstrumentationProbeFiresOnlyAtInstrumentedTier(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 0)
	require.NoError(t, b.EmitInstrumentTag("checkpoint"))
	b.EmitLoadConstant(int64(1))
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 0)
	var tags []string
	p.InstrumentProbe = func(kind instruction.Kind, tag string, bci int) {
		tags = append(tags, tag)
	}

	// TierUncached: probe registered but must not fire, and dispatch must not
	// crash with ErrInternalException (the bug under review).
	_, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, tags)

	p.WithTierThresholds(0, 0) // force TierInstrumented on the next Run
	_, err = p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"checkpoint"}, tags)
}

func TestCustomShortCircuitSkipsRemainingChildrenWhenFalsy(t *testing.T) {
	const (
		opTest    uint16 = 202
		opCombine uint16 = 203
	)
	descs := append(builder.CoreTable(),
		instruction.Descriptor{
			ID: opTest, Name: "Test", Kind: instruction.KindCustomShortCircuit,
			Immediates: []instruction.ImmediateKind{instruction.BytecodeIndex},
			Signature:  &instruction.Signature{OperandCount: 1, ProducesValue: true},
			NativeIndex: 0,
		},
		instruction.Descriptor{
			ID: opCombine, Name: "Combine", Kind: instruction.KindCustom,
			Signature:   &instruction.Signature{OperandCount: 2, ProducesValue: true},
			NativeIndex: 1,
		},
	)
	tbl, err := instruction.BuildTable(descs)
	require.NoError(t, err)

	build := func(child1 int64) *Program {
		pool := constpool.New()
		b := builder.New(tbl, pool, false)
		b.BeginRoot(0, 0)
		b.BeginCustomShortCircuit()
		b.EmitLoadConstant(child1)
		require.NoError(t, b.MidCustomShortCircuit(opTest))
		b.EmitLoadConstant(int64(99))
		b.EmitCustom(opCombine)
		require.NoError(t, b.EndCustomShortCircuit())
		b.EmitReturn(true)
		require.NoError(t, b.EndRoot(true))

		p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 0)
		p.Natives = []NativeFunc{
			func(args []uint64) uint64 { return args[0] }, // identity test/converter
			func(args []uint64) uint64 { return args[1] }, // combine: keep the second child
		}
		return p
	}

	falsy := build(0)
	res, err := falsy.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.Value, "falsy test branches past the remaining children, preserving its own value")

	truthy := build(5)
	res, err = truthy.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(99), res.Value, "truthy test falls through and the remaining chain runs normally")
}

func TestLoadStoreLocalMaterializedDiscardsFrameOperand(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	b := builder.New(tbl, pool, false)
	b.BeginRoot(0, 1)
	b.EmitLoadConstant(uint64(1)) // stand-in frame operand
	b.EmitLoadConstant(uint64(42))
	b.EmitStoreLocalMaterialized(0)
	b.EmitLoadConstant(uint64(1)) // stand-in frame operand
	b.EmitLoadLocalMaterialized(0)
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	p := NewProgram(tbl, b.Buffer().Words(), pool, b.Buffer().Handlers(), b.MaxStackHeight(), 1)
	res, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), res.Value)
}

func TestRunCallsOSRBackEdgeHookOnBackwardBranch(t *testing.T) {
	tbl := testTable(t)
	pool := constpool.New()
	words := []uint16{builder.OpBranchBackward, 0}
	p := NewProgram(tbl, words, pool, nil, 0, 0)

	var calls []int
	p.OSRBackEdgeHook = func(bci int, iterations int) bool {
		calls = append(calls, iterations)
		return false
	}

	// Cancelled up front: the hook still observes one back edge before the
	// ctx.Err() check right after it stops the loop.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, nil)
	require.Error(t, err)
	require.NotEmpty(t, calls)
}
