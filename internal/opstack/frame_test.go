package opstack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optree-lang/optree/internal/label"
)

func TestPushAssignsIncreasingSequenceNumbers(t *testing.T) {
	s := New()
	a := s.Push(1, nil)
	b := s.Push(2, nil)
	require.Equal(t, int64(0), a.SequenceNumber)
	require.Equal(t, int64(1), b.SequenceNumber)
	require.Equal(t, 2, s.Len())
}

func TestPopReturnsTopFrame(t *testing.T) {
	s := New()
	s.Push(1, nil)
	b := s.Push(2, nil)
	popped := s.Pop()
	require.Same(t, b, popped)
	require.Equal(t, 1, s.Len())
}

func TestFindDeclaringSearchesTopDown(t *testing.T) {
	s := New()
	outer := s.Push(1, nil)
	l := &label.Label{ID: 1}
	outer.DeclaredLabels = append(outer.DeclaredLabels, l)
	s.Push(2, nil)

	found := s.FindDeclaring(l)
	require.Same(t, outer, found)
}

func TestFramesReturnsTopToBottom(t *testing.T) {
	s := New()
	a := s.Push(1, nil)
	b := s.Push(2, nil)
	frames := s.Frames()
	require.Equal(t, []*Frame{b, a}, frames)
}
