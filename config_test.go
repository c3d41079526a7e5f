package optree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpreterConfigDefaultsMatchBuiltinThresholds(t *testing.T) {
	cfg := NewInterpreterConfig()
	require.Equal(t, uint64(3), cfg.uncachedThreshold)
	require.Equal(t, uint64(6), cfg.instrumentedThreshold)
}

func TestInterpreterConfigWithUncachedThresholdPromotesSooner(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("loopless", tbl, false)
	bd.BeginRoot(0, 0)
	bd.EmitLoadConstant(int64(1))
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	cfg := NewInterpreterConfig().
		WithUncachedInterpreterThreshold(1).
		WithInstrumentedInterpreterThreshold(2)
	root := bd.Build(0, cfg)

	for i := 0; i < 2; i++ {
		_, err := root.Execute(context.Background(), nil)
		require.NoError(t, err)
	}
	require.Equal(t, TierCached, root.Tier())
}

func TestInterpreterConfigWithOSRBackEdgeHookIsCalled(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("loop", tbl, false)
	bd.BeginRoot(0, 0)
	bd.BeginWhile()
	bd.EmitLoadConstant(int64(1)) // stand-in condition, always true
	require.NoError(t, bd.MidWhile())
	require.NoError(t, bd.EndWhile())
	bd.EmitReturn(false)
	require.NoError(t, bd.EndRoot(false))

	var iterations []int
	cfg := NewInterpreterConfig().WithOSRBackEdgeHook(func(bci, iteration int) bool {
		iterations = append(iterations, iteration)
		return false
	})
	root := bd.Build(0, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := root.Execute(ctx, nil)
	require.Error(t, err)
	require.NotEmpty(t, iterations)
}

func TestBuilderConfigWithBoxingEliminationWiresDup(t *testing.T) {
	tbl := testTable(t)
	cfg := NewBuilderConfig().WithBoxingElimination(true)
	bd := cfg.NewBuilder("ternary", tbl)
	bd.BeginRoot(1, 0)
	bd.EmitLoadArgument(0)
	bd.BeginConditional()
	bd.EmitLoadConstant(int64(1))
	require.NoError(t, bd.MidConditional())
	bd.EmitLoadConstant(int64(2))
	require.NoError(t, bd.EndConditional())
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	if BoxingEliminationSupported {
		require.Contains(t, bd.b.Buffer().Words(), OpDup)
	}
}
