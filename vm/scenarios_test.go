package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbcvm/stbcvm/bytecode"
)

// runToCompletion executes f to Stopped or Error and returns the VM.
func runToCompletion(t *testing.T, f *bytecode.File) *VM {
	t.Helper()
	require.NoError(t, bytecode.Validate(f))
	m := New(DefaultConfig())
	m.Load(f)
	err := m.Execute(nil)
	if m.State() == StateError {
		require.Error(t, err)
	} else {
		require.NoError(t, err)
	}
	return m
}

// x := (3+4)*2; HALT -> global 0 holds Int(14).
func TestScenarioArithmetic(t *testing.T) {
	b := bytecode.NewBuilder()
	c3 := b.AddConstInt(3)
	c4 := b.AddConstInt(4)
	c2 := b.AddConstInt(2)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c3))
	b.Emit(bytecode.LOAD_CONST_INT, int64(c4))
	b.Emit(bytecode.ADD_INT, 0)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c2))
	b.Emit(bytecode.MUL_INT, 0)
	b.Emit(bytecode.STORE_GLOBAL, 0)
	b.Emit(bytecode.HALT, 0)
	b.AddVar(bytecode.VarDescriptor{Name: "x", IsGlobal: true})
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateStopped, m.State())
	x, ok := m.Global(0)
	require.True(t, ok)
	assert.Equal(t, int32(14), x.AsInt())
}

// i := 0; while i < 3 do i := i + 1 -> global 0 holds Int(3).
func TestScenarioControlFlowLoop(t *testing.T) {
	b := bytecode.NewBuilder()
	c0 := b.AddConstInt(0)
	c3 := b.AddConstInt(3)
	c1 := b.AddConstInt(1)

	b.Emit(bytecode.LOAD_CONST_INT, int64(c0))
	b.Emit(bytecode.STORE_GLOBAL, 0)

	b.Label("loop")
	b.Emit(bytecode.LOAD_GLOBAL, 0)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c3))
	b.Emit(bytecode.LT_INT, 0)
	exitJump := b.Emit(bytecode.JMP_FALSE, 0)
	b.Emit(bytecode.LOAD_GLOBAL, 0)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c1))
	b.Emit(bytecode.ADD_INT, 0)
	b.Emit(bytecode.STORE_GLOBAL, 0)
	loopJump := b.Emit(bytecode.JMP, 0)
	b.Label("end")
	b.Emit(bytecode.HALT, 0)

	require.NoError(t, b.PatchJump(loopJump, "loop"))
	require.NoError(t, b.PatchJump(exitJump, "end"))
	b.AddVar(bytecode.VarDescriptor{Name: "i", IsGlobal: true})
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateStopped, m.State())
	i, ok := m.Global(0)
	require.True(t, ok)
	assert.Equal(t, int32(3), i.AsInt())
}

// 10 / 0 is a fatal division-by-zero fault, pc left at the faulting DIV_INT.
func TestScenarioDivisionByZeroFault(t *testing.T) {
	b := bytecode.NewBuilder()
	c10 := b.AddConstInt(10)
	c0 := b.AddConstInt(0)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c10))
	b.Emit(bytecode.LOAD_CONST_INT, int64(c0))
	divAddr := b.Emit(bytecode.DIV_INT, 0)
	b.Emit(bytecode.HALT, 0)
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateError, m.State())
	fault := m.Fault()
	require.NotNil(t, fault)
	assert.Equal(t, FaultDivisionByZero, fault.Category)
	assert.Equal(t, divAddr, fault.PC)
}

// f(a, b) = a + b; main calls f(5, 7) and stores the result in global 0.
func TestScenarioCallReturn(t *testing.T) {
	b := bytecode.NewBuilder()
	c5 := b.AddConstInt(5)
	c7 := b.AddConstInt(7)

	b.Emit(bytecode.LOAD_CONST_INT, int64(c5)) // param 0 (a)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c7)) // param 1 (b)
	callInstr := b.Emit(bytecode.CALL, 0)      // patched to "f" below
	b.Emit(bytecode.STORE_GLOBAL, 0)
	b.Emit(bytecode.HALT, 0)

	b.Label("f")
	b.Emit(bytecode.LOAD_PARAM, 0)
	b.Emit(bytecode.LOAD_PARAM, 1)
	b.Emit(bytecode.ADD_INT, 0)
	b.Emit(bytecode.RET_VALUE, 0)

	fnAddr, ok := b.ResolveLabel("f")
	require.True(t, ok)
	require.NoError(t, b.PatchJump(callInstr, "f"))
	b.AddFunc(bytecode.FuncDescriptor{Name: "f", Address: fnAddr, ParamCount: 2, LocalSize: 0, ReturnType: 1})
	b.AddVar(bytecode.VarDescriptor{Name: "x", IsGlobal: true})
	f := b.Build(0)

	m := runToCompletion(t, f)
	assert.Equal(t, StateStopped, m.State())
	x, ok := m.Global(0)
	require.True(t, ok)
	assert.Equal(t, int32(12), x.AsInt())
	assert.Equal(t, 0, m.CallDepth())
}
