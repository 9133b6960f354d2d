package config

import (
	"fmt"
	"time"

	"github.com/stbcvm/stbcvm/msync"
	"github.com/stbcvm/stbcvm/vm"
)

// VMConfig translates the [vm] section into a vm.Config.
func (c *Config) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if c.VM.StackCapacity > 0 {
		cfg.StackCapacity = c.VM.StackCapacity
	}
	if c.VM.CallStackCapacity > 0 {
		cfg.CallStackCapacity = c.VM.CallStackCapacity
	}
	if c.VM.GlobalCapacity > 0 {
		cfg.GlobalCapacity = c.VM.GlobalCapacity
	}
	if c.VM.LocalCapacity > 0 {
		cfg.LocalCapacity = c.VM.LocalCapacity
	}
	if c.VM.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(c.VM.TimeoutSeconds) * time.Second
	}
	return cfg
}

// SyncConfig translates the [sync] section into a msync.Config. role, if
// non-empty, overrides the configured Sync.Role (the CLI's -P/-S flags
// take precedence over the config file).
func (c *Config) SyncConfig(role string) (msync.Config, error) {
	cfg := msync.DefaultConfig()

	if role == "" {
		role = c.Sync.Role
	}
	switch role {
	case "primary":
		cfg.Role = msync.RolePrimary
	case "secondary":
		cfg.Role = msync.RoleSecondary
	case "", "standalone":
		cfg.Role = msync.RoleStandalone
	default:
		return cfg, fmt.Errorf("config: unknown sync role %q", role)
	}

	cfg.LocalAddr = c.Sync.LocalAddr
	cfg.PeerAddr = c.Sync.PeerAddr
	if c.Sync.Port > 0 {
		cfg.Port = c.Sync.Port
	}
	if c.Sync.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(c.Sync.HeartbeatIntervalMS) * time.Millisecond
	}
	if c.Sync.HeartbeatTimeoutMS > 0 {
		cfg.HeartbeatTimeout = time.Duration(c.Sync.HeartbeatTimeoutMS) * time.Millisecond
	}
	if c.Sync.TakeoverMultiplier > 0 {
		cfg.TakeoverMultiplier = c.Sync.TakeoverMultiplier
	}
	if c.Sync.CheckpointIntervalMS > 0 {
		cfg.CheckpointInterval = time.Duration(c.Sync.CheckpointIntervalMS) * time.Millisecond
	}
	if c.Sync.MaxSyncVariables > 0 {
		cfg.MaxSyncVariables = c.Sync.MaxSyncVariables
	}
	return cfg, nil
}
