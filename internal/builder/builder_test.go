package builder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optree-lang/optree/internal/constpool"
	"github.com/optree-lang/optree/internal/instruction"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	tbl, err := instruction.BuildTable(CoreTable())
	require.NoError(t, err)
	return New(tbl, constpool.New(), false)
}

func TestSimpleReturnScenario(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	b.EmitLoadConstant(int64(42))
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))
	require.Equal(t, 1, b.MaxStackHeight())
}

func TestIfThenElseScenario(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(1, 0)
	b.EmitLoadArgument(0)
	b.BeginIfThenElse()
	b.EmitLoadConstant(int64(1))
	require.NoError(t, b.MidIfThenElse())
	b.EmitLoadConstant(int64(2))
	require.NoError(t, b.EndIfThenElse())
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))
}

func TestWhileLoopScenario(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 1)
	b.EmitLoadConstant(int64(0))
	b.EmitStoreLocal(0)
	b.BeginWhile()
	b.EmitLoadConstant(int64(1)) // stand-in condition
	require.NoError(t, b.MidWhile())
	b.EmitLoadLocal(0)
	b.EmitStoreLocal(0)
	require.NoError(t, b.EndWhile())
	b.EmitReturn(false)
	require.NoError(t, b.EndRoot(false))
}

func TestFinallyRunsOnNormalCompletionAndBranchExit(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 1)

	exitLabel := b.CreateLabel()

	b.BeginFinallyTry(0)
	// handler body: store 10 into local 0
	b.EmitLoadConstant(int64(10))
	b.EmitStoreLocal(0)
	require.NoError(t, b.MidFinallyTry())

	// guarded region: store 0, conditionally branch out past the finally,
	// then store 1.
	b.EmitLoadConstant(int64(0))
	b.EmitStoreLocal(0)
	b.EmitLoadConstant(int64(1)) // condition
	b.BeginIfThen()
	require.NoError(t, b.EmitBranch(exitLabel))
	require.NoError(t, b.EndIfThen())
	b.EmitLoadConstant(int64(1))
	b.EmitStoreLocal(0)

	require.NoError(t, b.EndFinallyTry())
	require.NoError(t, b.EmitLabel(exitLabel))
	b.EmitReturn(false)
	require.NoError(t, b.EndRoot(false))

	// The handler body (StoreLocal 10) must have been duplicated twice:
	// once for the branch exit (inlined before the jump to exitLabel),
	// once for normal completion in EndFinallyTry.
	words := b.Buffer().Words()
	storeCount := 0
	for i, w := range words {
		if w == OpStoreLocal {
			storeCount++
			_ = i
		}
	}
	require.GreaterOrEqual(t, storeCount, 4, "store(10) duplicated at both exits plus store(0) and store(1) from the guarded region")
}

func TestEmitBranchToUndeclaredLabelFails(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	other := New(instruction.Table{}, nil, false) // separate builder, label not declared here
	foreignLabel := other.CreateLabel()
	err := b.EmitBranch(foreignLabel)
	require.ErrorIs(t, err, ErrInvalidBranchTarget)
}

func TestEndRootWithoutBeginRootFails(t *testing.T) {
	b := newTestBuilder(t)
	err := b.EndRoot(false)
	require.ErrorIs(t, err, ErrMissingBeginRoot)
}

func TestEndBlockWithoutBeginBlockFails(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	err := b.EndBlock()
	require.ErrorIs(t, err, ErrUnexpectedOperationEnd)
}

func TestEndIfThenMismatchedFrameFails(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	b.BeginBlock()
	err := b.EndIfThen()
	require.ErrorIs(t, err, ErrUnexpectedOperationEnd)
}

func TestEmitInstrumentTagRejectsEmptyTag(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	err := b.EmitInstrumentTag("")
	require.ErrorIs(t, err, ErrTagNotProvided)
}

func TestEmitInstrumentTagEmitsMarkerInstruction(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	require.NoError(t, b.EmitInstrumentTag("probe.enter"))
	b.EmitReturn(false)
	require.NoError(t, b.EndRoot(false))

	words := b.Buffer().Words()
	require.Contains(t, words, OpInstrumentTag)
}

func TestConditionalScenario(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(1, 0)
	b.EmitLoadArgument(0)
	b.BeginConditional()
	b.EmitLoadConstant(int64(1))
	require.NoError(t, b.MidConditional())
	b.EmitLoadConstant(int64(2))
	require.NoError(t, b.EndConditional())
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	words := b.Buffer().Words()
	require.Contains(t, words, OpMergeConditional)
	require.NotContains(t, words, OpDup)
}

func TestConditionalScenarioWithBoxingElimination(t *testing.T) {
	b := newTestBuilder(t)
	b.SetBoxingElimination(true)
	b.BeginRoot(1, 0)
	b.EmitLoadArgument(0)
	b.BeginConditional()
	b.EmitLoadConstant(int64(1))
	require.NoError(t, b.MidConditional())
	b.EmitLoadConstant(int64(2))
	require.NoError(t, b.EndConditional())
	b.EmitReturn(true)
	require.NoError(t, b.EndRoot(true))

	words := b.Buffer().Words()
	require.Contains(t, words, OpDup)
	require.Contains(t, words, OpMergeConditional)
}

func TestEndConditionalWithoutBeginFails(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginRoot(0, 0)
	err := b.EndConditional()
	require.ErrorIs(t, err, ErrUnexpectedOperationEnd)
}
