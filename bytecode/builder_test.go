package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantPoolDeduplicatesByValue(t *testing.T) {
	b := NewBuilder()
	i1 := b.AddConstInt(42)
	i2 := b.AddConstInt(42)
	i3 := b.AddConstInt(43)
	assert.Equal(t, i1, i2)
	assert.NotEqual(t, i1, i3)

	s1 := b.AddConstString("hello")
	s2 := b.AddConstString("hello")
	s3 := b.AddConstString("Hello")
	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, s3)

	f := b.Build(0)
	assert.Len(t, f.Consts, 4)
}

func TestConstantPoolDoesNotConflateKinds(t *testing.T) {
	b := NewBuilder()
	i := b.AddConstInt(1)
	// a Bool(true) must get its own entry, not collide with Int(1).
	bi := b.AddConstBool(true)
	assert.NotEqual(t, i, bi)
}

func TestBuilderLabelAndPatchJump(t *testing.T) {
	b := NewBuilder()
	jmp := b.Emit(JMP, 0)
	b.Emit(NOP, 0)
	b.Label("target")
	b.Emit(HALT, 0)
	require.NoError(t, b.PatchJump(jmp, "target"))

	f := b.Build(0)
	assert.Equal(t, int64(2), f.Instrs[jmp].Operand)
	require.NoError(t, Validate(f))
}

func TestBuilderPatchJumpUnresolvedLabelErrors(t *testing.T) {
	b := NewBuilder()
	jmp := b.Emit(JMP, 0)
	err := b.PatchJump(jmp, "nowhere")
	require.Error(t, err)
}
