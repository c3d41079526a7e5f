package optree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheStoreAndLoadRoundTrips(t *testing.T) {
	tbl := testTable(t)
	bd := NewBuilder("answer", tbl, false)
	bd.BeginRoot(0, 0)
	bd.EmitLoadConstant(int64(42))
	bd.EmitReturn(true)
	require.NoError(t, bd.EndRoot(true))

	c := NewCache()
	key, err := c.Store(bd, 0, nil)
	require.NoError(t, err)

	root, err := c.Load("answer", tbl, key, nil)
	require.NoError(t, err)
	res, err := root.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), res.Value)
}

func TestCacheLoadMissingKeyFails(t *testing.T) {
	tbl := testTable(t)
	c := NewCache()
	_, err := c.Load("missing", tbl, [32]byte{}, nil)
	require.Error(t, err)
}
