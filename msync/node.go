package msync

// Role is a node's replication role. Primary authors state, Secondary
// mirrors it, Standalone disables sync entirely.
type Role uint32

const (
	RolePrimary Role = iota
	RoleSecondary
	RoleStandalone
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "Primary"
	case RoleSecondary:
		return "Secondary"
	case RoleStandalone:
		return "Standalone"
	default:
		return "Unknown"
	}
}

// NodeState is the MS-SYNC node state machine, distinct from vm.State: it
// tracks replication role lifecycle, not dispatch-loop execution state.
type NodeState uint32

const (
	NodeInit NodeState = iota
	NodeActive
	NodeStandby
	NodeTakeover
	NodeFailed
	NodeShutdown
)

func (s NodeState) String() string {
	switch s {
	case NodeInit:
		return "Init"
	case NodeActive:
		return "Active"
	case NodeStandby:
		return "Standby"
	case NodeTakeover:
		return "Takeover"
	case NodeFailed:
		return "Failed"
	case NodeShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
