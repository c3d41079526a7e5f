package optree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildAnswerRoot(t *testing.T, tbl Table) *Builder {
	t.Helper()
	bd := NewBuilder("answer", tbl, false)
	bd.BeginRoot(0, 0)
	bd.EmitLoadConstant(int64(42))
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))
	return bd
}

func TestRootProgramSerializeDeserializeRoundTrips(t *testing.T) {
	tbl := testTable(t)
	bd := buildAnswerRoot(t, tbl)
	root := bd.Build(0, nil)

	data, err := root.Serialize(nil)
	require.NoError(t, err)

	restored, err := DeserializeRootProgram("answer", tbl, data, nil, nil)
	require.NoError(t, err)
	res, err := restored.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), res.Value)
}

func TestRootProgramDisassembleContainsLoadConstant(t *testing.T) {
	tbl := testTable(t)
	bd := buildAnswerRoot(t, tbl)
	root := bd.Build(0, nil)
	require.Contains(t, root.Disassemble(tbl), "LoadConstant")
}
