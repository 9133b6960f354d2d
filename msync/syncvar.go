package msync

import "github.com/stbcvm/stbcvm/vm"

// SyncVar is one entry in the sync-variable registration table: a mapping
// from VM global index to replication metadata. Capacity is fixed and
// registration is additive-only during initialization.
type SyncVar struct {
	GlobalIndex uint32
	Name        string
	TypeID      uint32
	Size        uint32
	Dirty       bool
	LastSyncMS  uint64
	Value       vm.Value
}
