package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPushPopOrder(t *testing.T) {
	s := NewStack(4)
	require.True(t, s.Push(Int(1)))
	require.True(t, s.Push(Int(2)))
	require.True(t, s.Push(Int(3)))
	assert.Equal(t, 3, s.Len())

	v, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, int32(3), v.AsInt())
	assert.Equal(t, 2, s.Len())
}

func TestStackOverflow(t *testing.T) {
	s := NewStack(2)
	require.True(t, s.Push(Int(1)))
	require.True(t, s.Push(Int(2)))
	assert.False(t, s.Push(Int(3)))
	assert.Equal(t, 2, s.Len())
}

func TestStackUnderflow(t *testing.T) {
	s := NewStack(2)
	_, ok := s.Pop()
	assert.False(t, ok)
}

func TestStackPeekDoesNotConsume(t *testing.T) {
	s := NewStack(4)
	s.Push(Int(1))
	s.Push(Int(2))

	top, ok := s.Peek(0)
	require.True(t, ok)
	assert.Equal(t, int32(2), top.AsInt())

	below, ok := s.Peek(1)
	require.True(t, ok)
	assert.Equal(t, int32(1), below.AsInt())

	assert.Equal(t, 2, s.Len())

	_, ok = s.Peek(5)
	assert.False(t, ok)
}

func TestStackReset(t *testing.T) {
	s := NewStack(4)
	s.Push(Int(1))
	s.Push(Int(2))
	s.Reset()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Pop()
	assert.False(t, ok)
}
