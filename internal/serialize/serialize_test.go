package serialize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optree-lang/optree/internal/bytecode"
)

func TestRoundTripPrimitiveConstants(t *testing.T) {
	s := Snapshot{
		Words:          []uint16{1, 2, 3, 0xffff},
		Constants:      []any{int64(-7), uint64(42), 3.5, true, false, "hello"},
		Handlers:       []bytecode.HandlerEntry{{StartBci: 1, EndBci: 5, HandlerBci: 6, StartSp: 0, ExcLocalIdx: 2}},
		MaxStackHeight: 4,
		NumLocals:      2,
	}

	data, err := Serialize(s, nil)
	require.NoError(t, err)

	got, err := Deserialize(data, nil)
	require.NoError(t, err)

	require.Equal(t, s.Words, got.Words)
	require.Equal(t, s.Constants, got.Constants)
	require.Equal(t, s.Handlers, got.Handlers)
	require.Equal(t, s.MaxStackHeight, got.MaxStackHeight)
	require.Equal(t, s.NumLocals, got.NumLocals)
}

type customObject struct{ name string }

func TestRoundTripObjectConstants(t *testing.T) {
	objects := []any{customObject{name: "a"}, customObject{name: "b"}}
	s := Snapshot{
		Words:     []uint16{9},
		Constants: []any{objects[1], int64(1), objects[0]},
	}

	data, err := Serialize(s, objects)
	require.NoError(t, err)

	got, err := Deserialize(data, objects)
	require.NoError(t, err)
	require.Equal(t, s.Constants, got.Constants)
}

func TestSerializeUnsupportedConstantFails(t *testing.T) {
	s := Snapshot{Constants: []any{struct{ X int }{X: 1}}}
	_, err := Serialize(s, nil)
	require.ErrorIs(t, err, ErrUnsupportedConstant)
}

func TestDeserializeTruncatedBufferFails(t *testing.T) {
	s := Snapshot{Words: []uint16{1, 2, 3}}
	data, err := Serialize(s, nil)
	require.NoError(t, err)

	_, err = Deserialize(data[:len(data)-1], nil)
	require.Error(t, err)
}

func TestEmptySnapshotRoundTrips(t *testing.T) {
	data, err := Serialize(Snapshot{}, nil)
	require.NoError(t, err)

	got, err := Deserialize(data, nil)
	require.NoError(t, err)
	require.Empty(t, got.Words)
	require.Empty(t, got.Constants)
	require.Empty(t, got.Handlers)
	require.Zero(t, got.MaxStackHeight)
	require.Zero(t, got.NumLocals)
}
