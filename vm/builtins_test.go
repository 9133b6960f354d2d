package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	id := r.Register("abs", 1, func(args []Value) (Value, error) {
		n := args[0].AsInt()
		if n < 0 {
			n = -n
		}
		return Int(n), nil
	})

	h, name, arity, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "abs", name)
	assert.Equal(t, 1, arity)

	result, err := h([]Value{Int(-5)})
	require.NoError(t, err)
	assert.Equal(t, int32(5), result.AsInt())
}

func TestRegistryLookupUnknownID(t *testing.T) {
	r := NewRegistry()
	_, _, _, ok := r.Lookup(99)
	assert.False(t, ok)
}

func TestExecNativeCallPushesResultAndRecordsStats(t *testing.T) {
	m := New(DefaultConfig())
	id := m.Builtin.Register("double", 1, func(args []Value) (Value, error) {
		return Int(args[0].AsInt() * 2), nil
	})

	require.True(t, m.stack.Push(Int(21)))
	m.execNativeCall(m.Builtin, id)

	top, ok := m.stack.Pop()
	require.True(t, ok)
	assert.Equal(t, int32(42), top.AsInt())
	assert.Equal(t, uint64(1), m.Stats.BuiltinCalls)
}

func TestExecNativeCallHandlerFailureSetsFault(t *testing.T) {
	m := New(DefaultConfig())
	id := m.Builtin.Register("explode", 0, func(args []Value) (Value, error) {
		return Undefined(), errors.New("boom")
	})

	m.execNativeCall(m.Builtin, id)
	require.NotNil(t, m.Fault())
	assert.Equal(t, FaultHandlerFailed, m.Fault().Category)
}
