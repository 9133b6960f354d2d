package vm

import "github.com/stbcvm/stbcvm/bytecode"

// SyncRegistrar is an optional extension a SyncHook may implement to
// receive SYNC_VAR registrations emitted by the dispatch loop.
type SyncRegistrar interface {
	RegisterSyncVar(globalIdx uint32)
}

// Checkpointer is an optional extension a SyncHook may implement to
// receive explicit SYNC_CHECKPOINT requests from the dispatch loop.
type Checkpointer interface {
	RequestCheckpoint()
}

// execSync implements SYNC_VAR and SYNC_CHECKPOINT, the two opcodes that
// bridge the dispatch loop to the replication engine.
// Registration is additive-only and expected during the initialization
// phase; SYNC_CHECKPOINT is a cooperative request, not a blocking call —
// the engine services it on its own cadence.
func (v *VM) execSync(in bytecode.Instruction) *uint32 {
	switch in.Op {
	case bytecode.SYNC_VAR:
		idx := uint32(in.Operand)
		if registrar, ok := v.syncHook.(SyncRegistrar); ok {
			registrar.RegisterSyncVar(idx)
		}
		v.Stats.RecordSyncOp()
	case bytecode.SYNC_CHECKPOINT:
		if cp, ok := v.syncHook.(Checkpointer); ok {
			cp.RequestCheckpoint()
		}
		v.Stats.RecordSyncOp()
	}
	return nil
}
