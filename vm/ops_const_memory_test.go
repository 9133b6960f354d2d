package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbcvm/stbcvm/bytecode"
)

func TestPushOpcodeIsFatal(t *testing.T) {
	b := bytecode.NewBuilder()
	pushAddr := b.Emit(bytecode.PUSH, 0)
	b.Emit(bytecode.HALT, 0)
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateError, m.State())
	fault := m.Fault()
	require.NotNil(t, fault)
	assert.Equal(t, FaultUnknownOpcode, fault.Category)
	assert.Equal(t, pushAddr, fault.PC)
	assert.Equal(t, 0, m.StackDepth())
}

// A function declaring one parameter must not be able to read a second,
// never-populated slot: the slot holds Undefined and the read is fatal.
func TestLoadParamUnwrittenSlotIsFatal(t *testing.T) {
	b := bytecode.NewBuilder()
	c5 := b.AddConstInt(5)

	b.Emit(bytecode.LOAD_CONST_INT, int64(c5))
	callInstr := b.Emit(bytecode.CALL, 0)
	b.Emit(bytecode.HALT, 0)

	b.Label("f")
	loadAddr := b.Emit(bytecode.LOAD_PARAM, 1) // only param 0 was passed
	b.Emit(bytecode.RET_VALUE, 0)

	fnAddr, ok := b.ResolveLabel("f")
	require.True(t, ok)
	require.NoError(t, b.PatchJump(callInstr, "f"))
	b.AddFunc(bytecode.FuncDescriptor{Name: "f", Address: fnAddr, ParamCount: 1, LocalSize: 0, ReturnType: 1})
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateError, m.State())
	fault := m.Fault()
	require.NotNil(t, fault)
	assert.Equal(t, FaultUndefinedRead, fault.Category)
	assert.Equal(t, loadAddr, fault.PC)
}

func TestLoadParamReadsPopulatedSlot(t *testing.T) {
	b := bytecode.NewBuilder()
	c9 := b.AddConstInt(9)

	b.Emit(bytecode.LOAD_CONST_INT, int64(c9))
	callInstr := b.Emit(bytecode.CALL, 0)
	b.Emit(bytecode.STORE_GLOBAL, 0)
	b.Emit(bytecode.HALT, 0)

	b.Label("f")
	b.Emit(bytecode.LOAD_PARAM, 0)
	b.Emit(bytecode.RET_VALUE, 0)

	fnAddr, ok := b.ResolveLabel("f")
	require.True(t, ok)
	require.NoError(t, b.PatchJump(callInstr, "f"))
	b.AddFunc(bytecode.FuncDescriptor{Name: "f", Address: fnAddr, ParamCount: 1, LocalSize: 0, ReturnType: 1})
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateStopped, m.State())
	x, ok := m.Global(0)
	require.True(t, ok)
	assert.Equal(t, int32(9), x.AsInt())
}
