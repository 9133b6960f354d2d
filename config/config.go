// Package config holds the TOML-backed runtime configuration for the VM,
// debugger, sync engine, and monitor, one [section] per subsystem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration shape: one [section] per subsystem.
type Config struct {
	VM struct {
		StackCapacity     int    `toml:"stack_capacity"`
		CallStackCapacity int    `toml:"call_stack_capacity"`
		GlobalCapacity    int    `toml:"global_capacity"`
		LocalCapacity     int    `toml:"local_capacity"`
		TimeoutSeconds    uint64 `toml:"timeout_seconds"`
		EnableStats       bool   `toml:"enable_stats"`
	} `toml:"vm"`

	Debug struct {
		StartPaused     bool   `toml:"start_paused"`
		HistorySize     int    `toml:"history_size"`
		UseTUI          bool   `toml:"use_tui"`
		ShowSourceLines bool   `toml:"show_source_lines"`
		NumberFormat    string `toml:"number_format"` // hex, dec
	} `toml:"debug"`

	Sync struct {
		Role                  string `toml:"role"` // primary, secondary, standalone
		LocalAddr             string `toml:"local_addr"`
		PeerAddr              string `toml:"peer_addr"`
		Port                  int    `toml:"port"`
		HeartbeatIntervalMS   int    `toml:"heartbeat_interval_ms"`
		HeartbeatTimeoutMS    int    `toml:"heartbeat_timeout_ms"`
		TakeoverMultiplier    int    `toml:"takeover_multiplier"`
		CheckpointIntervalMS  int    `toml:"checkpoint_interval_ms"`
		MaxSyncVariables      int    `toml:"max_sync_variables"`
	} `toml:"sync"`

	Monitor struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"monitor"`
}

// DefaultConfig returns a configuration populated with the VM's and sync
// engine's standard defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.VM.StackCapacity = 1000
	cfg.VM.CallStackCapacity = 100
	cfg.VM.GlobalCapacity = 500
	cfg.VM.LocalCapacity = 100 * 100
	cfg.VM.TimeoutSeconds = 0 // 0 disables the watchdog timeout
	cfg.VM.EnableStats = false

	cfg.Debug.StartPaused = false
	cfg.Debug.HistorySize = 1000
	cfg.Debug.UseTUI = false
	cfg.Debug.ShowSourceLines = true
	cfg.Debug.NumberFormat = "hex"

	cfg.Sync.Role = "standalone"
	cfg.Sync.LocalAddr = "0.0.0.0"
	cfg.Sync.Port = 8888
	cfg.Sync.HeartbeatIntervalMS = 100
	cfg.Sync.HeartbeatTimeoutMS = 500
	cfg.Sync.TakeoverMultiplier = 3
	cfg.Sync.CheckpointIntervalMS = 1000
	cfg.Sync.MaxSyncVariables = 256

	cfg.Monitor.Enabled = false
	cfg.Monitor.Addr = "127.0.0.1:9090"

	return cfg
}

// GetConfigPath returns the platform-specific config file path, creating
// the containing directory if needed.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "stbcvm")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "stbcvm.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "stbcvm")

	default:
		return "stbcvm.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "stbcvm.toml"
	}

	return filepath.Join(configDir, "stbcvm.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, falling back to defaults when
// the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
