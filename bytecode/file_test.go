package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleFile() *File {
	b := NewBuilder()
	ci := b.AddConstInt(14)
	b.Emit(LOAD_CONST_INT, int64(ci))
	b.Emit(STORE_GLOBAL, 0)
	b.Emit(HALT, 0)
	b.AddVar(VarDescriptor{Name: "x", TypeID: 1, Offset: 0, Size: 4, IsGlobal: true})
	return b.Build(0)
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := buildSimpleFile()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))

	got, err := Read(&buf)
	require.NoError(t, err)

	require.Equal(t, len(f.Instrs), len(got.Instrs))
	for i := range f.Instrs {
		assert.Equal(t, f.Instrs[i].Op, got.Instrs[i].Op)
		assert.Equal(t, f.Instrs[i].Operand, got.Instrs[i].Operand)
	}
	require.Len(t, got.Consts, 1)
	assert.Equal(t, ConstInt, got.Consts[0].Kind)
	assert.Equal(t, int32(14), got.Consts[0].Int)
	require.Len(t, got.Vars, 1)
	assert.Equal(t, "x", got.Vars[0].Name)
	assert.True(t, got.Vars[0].IsGlobal)
}

func TestReadRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX")
	_, err := Read(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")
}

func TestReadTruncatedHeaderIsFormatError(t *testing.T) {
	buf := bytes.NewBufferString(MagicString)
	_, err := Read(buf)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestFuncDescriptorRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Emit(LOAD_PARAM, 0)
	b.Emit(LOAD_PARAM, 1)
	b.Emit(ADD_INT, 0)
	b.Emit(RET_VALUE, 0)
	b.AddFunc(FuncDescriptor{Name: "add", Address: 0, ParamCount: 2, LocalSize: 0, ReturnType: 1})
	f := b.Build(0)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))
	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got.Funcs, 1)
	assert.Equal(t, "add", got.Funcs[0].Name)
	assert.Equal(t, uint32(2), got.Funcs[0].ParamCount)
}

func TestSyncEnabledFlagRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.SetSyncEnabled(true)
	b.Emit(HALT, 0)
	f := b.Build(0)
	assert.True(t, f.SyncEnabled())

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.True(t, got.SyncEnabled())
}

func TestLongNameTruncatesAtFixedWidth(t *testing.T) {
	b := NewBuilder()
	b.Emit(HALT, 0)
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	b.AddVar(VarDescriptor{Name: long, IsGlobal: true})
	f := b.Build(0)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got.Vars[0].Name), 64)
}
