package optree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateLocalRoundTripsThroughFrame(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("scratch", tbl, false)
	bd.BeginRoot(1, 0)
	scratch := bd.CreateLocal("scratch")
	bd.EmitLoadArgument(0)
	bd.EmitStoreLocal(scratch)
	bd.EmitLoadLocal(scratch)
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	require.Equal(t, 2, bd.NumLocals(), "one argument plus one declared local")

	root := bd.Build(bd.NumLocals(), nil)
	res, err := root.Execute(context.Background(), []uint64{7})
	require.NoError(t, err)
	require.Equal(t, uint64(7), res.Value)
}

func TestFinallyTryNoExceptRunsHandlerOnNormalExit(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("finally-no-except", tbl, false)
	bd.BeginRoot(0, 1)
	marker := bd.CreateLocal("ran")
	bd.BeginFinallyTryNoExcept()
	// handler body: mark that it ran.
	bd.EmitLoadConstant(int64(1))
	bd.EmitStoreLocal(marker)
	require.NoError(t, bd.MidFinallyTryNoExcept())
	// guarded region: nothing to guard, falls straight through.
	require.NoError(t, bd.EndFinallyTryNoExcept())
	bd.EmitLoadLocal(marker)
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	root := bd.Build(bd.NumLocals(), nil)
	res, err := root.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Value, "handler body ran on the normal exit path")
}

func TestEmitSourceSectionReusesMostRecentSourceIndex(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("sourced", tbl, false)
	bd.BeginRoot(0, 0)
	bd.EmitSource(3)
	bd.EmitLoadConstant(int64(1))
	bd.EmitSourceSection(10, 5)
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	entries := bd.b.Buffer().SourceInfo()
	require.Len(t, entries, 2)
	require.Equal(t, 3, entries[0].SourceIdx)
	require.Equal(t, 3, entries[1].SourceIdx, "EmitSourceSection reused the most recently recorded source index")
	require.Equal(t, 10, entries[1].StartOffset)
	require.Equal(t, 5, entries[1].Length)
}

func TestWithInstrumentationProbeFiresAtInstrumentedTier(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("probed", tbl, false)
	bd.BeginRoot(0, 0)
	require.NoError(t, bd.EmitInstrumentTag("tick"))
	bd.EmitLoadConstant(int64(0))
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	var tags []string
	cfg := NewInterpreterConfig().
		WithUncachedInterpreterThreshold(0).
		WithInstrumentedInterpreterThreshold(0).
		WithInstrumentationProbe(func(kind Kind, tag string, bci int) {
			tags = append(tags, tag)
		})
	root := bd.Build(0, cfg)

	_, err := root.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"tick"}, tags)
}
