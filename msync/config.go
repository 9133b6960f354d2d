package msync

import "time"

// DefaultPort is the sync transport's default UDP port.
const DefaultPort = 8888

// Config bounds one Engine's transport and timing behavior.
// HeartbeatInterval is the emission cadence, HeartbeatTimeout is the gap
// that increments the timeout counter, and three consecutive increments
// (a count, not a duration) mark the peer dead.
type Config struct {
	Role Role

	LocalAddr string // IPv4 address to bind, e.g. "0.0.0.0" or a specific host IP
	PeerAddr  string // IPv4 address of the peer node
	Port      int

	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	TakeoverMultiplier int // consecutive timeout windows before a secondary may take over
	CheckpointInterval time.Duration
	MaxSyncVariables   int
}

// DefaultConfig returns the protocol defaults for a Standalone node;
// callers set Role/LocalAddr/PeerAddr for Primary/Secondary operation.
func DefaultConfig() Config {
	return Config{
		Role:               RoleStandalone,
		Port:               DefaultPort,
		HeartbeatInterval:  100 * time.Millisecond,
		HeartbeatTimeout:   500 * time.Millisecond,
		TakeoverMultiplier: 3,
		CheckpointInterval: time.Second,
		MaxSyncVariables:   256,
	}
}
