package constpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddIsIdempotentForComparableValues(t *testing.T) {
	p := New()
	a := p.Add(42)
	b := p.Add(42)
	require.Equal(t, a, b)
	require.Equal(t, 1, p.Len())

	c := p.Add("hello")
	d := p.Add("hello")
	require.Equal(t, c, d)
	require.NotEqual(t, a, c)
}

func TestAddIsIdempotentForSliceValues(t *testing.T) {
	p := New()
	a := p.Add([]byte{1, 2, 3})
	b := p.Add([]byte{1, 2, 3})
	require.Equal(t, a, b)

	c := p.Add([]byte{1, 2, 4})
	require.NotEqual(t, a, c)
}

func TestInsertionOrderDefinesIndex(t *testing.T) {
	p := New()
	require.Equal(t, 0, p.Add("first"))
	require.Equal(t, 1, p.Add("second"))
	require.Equal(t, 0, p.Add("first"))
	require.Equal(t, []any{"first", "second"}, p.Values())
}

func TestFreezePreventsFurtherAdds(t *testing.T) {
	p := New()
	p.Add(1)
	p.Freeze()
	require.Panics(t, func() { p.Add(2) })
}
