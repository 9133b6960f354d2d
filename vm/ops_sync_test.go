package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbcvm/stbcvm/bytecode"
)

type fakeSyncHook struct {
	writes      map[uint32]Value
	registered  []uint32
	checkpoints int
}

func newFakeSyncHook() *fakeSyncHook {
	return &fakeSyncHook{writes: make(map[uint32]Value)}
}

func (f *fakeSyncHook) OnGlobalWrite(idx uint32, v Value) { f.writes[idx] = v }
func (f *fakeSyncHook) RegisterSyncVar(idx uint32)        { f.registered = append(f.registered, idx) }
func (f *fakeSyncHook) RequestCheckpoint()                { f.checkpoints++ }

func TestStoreGlobalInvokesSyncHook(t *testing.T) {
	b := bytecode.NewBuilder()
	c := b.AddConstInt(7)
	b.Emit(bytecode.LOAD_CONST_INT, int64(c))
	b.Emit(bytecode.STORE_GLOBAL, 3)
	b.Emit(bytecode.HALT, 0)
	f := b.Build(0)
	require.NoError(t, bytecode.Validate(f))

	hook := newFakeSyncHook()
	m := New(DefaultConfig())
	m.SetSyncHook(hook)
	m.Load(f)
	require.NoError(t, m.Execute(nil))

	v, ok := hook.writes[3]
	require.True(t, ok)
	assert.Equal(t, int32(7), v.AsInt())
}

func TestSyncVarAndCheckpointOpcodesReachHook(t *testing.T) {
	b := bytecode.NewBuilder()
	b.Emit(bytecode.SYNC_VAR, 5)
	b.Emit(bytecode.SYNC_CHECKPOINT, 0)
	b.Emit(bytecode.HALT, 0)
	f := b.Build(0)
	require.NoError(t, bytecode.Validate(f))

	hook := newFakeSyncHook()
	m := New(DefaultConfig())
	m.SetSyncHook(hook)
	m.Load(f)
	require.NoError(t, m.Execute(nil))

	require.Len(t, hook.registered, 1)
	assert.Equal(t, uint32(5), hook.registered[0])
	assert.Equal(t, 1, hook.checkpoints)
	assert.Equal(t, uint64(2), m.Stats.SyncOperations)
}
