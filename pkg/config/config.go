package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable pointing at an optional
// YAML config file.
const ConfigPathEnvVar = "SLAVED_CONFIG"

// Tunables are the startup parameters the supervisor reads once.
type Tunables struct {
	SlaveTTL                time.Duration `koanf:"slave_ttl"`
	SlaveActivateTime       time.Duration `koanf:"slave_activate_time"`
	SlaveRelaunchTime       time.Duration `koanf:"slave_relaunch_time"`
	SlaveRelaunchCount      int           `koanf:"slave_relaunch_count"`
	SlaveMaxLoad            int           `koanf:"slave_max_load"`
	MinimumReactivationTime time.Duration `koanf:"minimum_reactivation_time"`
	DefaultABI              string        `koanf:"default_abi"`
	DebugMode               bool          `koanf:"debug_mode"`

	// SlaveLogPath is the directory holding crash-log breadcrumbs
	// (SLAVE_LOG_PATH), read once at startup alongside everything else.
	SlaveLogPath string `koanf:"slave_log_path"`
}

func defaults() Tunables {
	return Tunables{
		SlaveTTL:                10 * time.Minute,
		SlaveActivateTime:       15 * time.Second,
		SlaveRelaunchTime:       2 * time.Second,
		SlaveRelaunchCount:      3,
		SlaveMaxLoad:            8,
		MinimumReactivationTime: 30 * time.Second,
		DefaultABI:              "c",
		DebugMode:               false,
		SlaveLogPath:            "/var/run/slaved/logs",
	}
}

// Load reads tunables from defaults, then path (if non-empty and it
// exists), then environment variables prefixed SLAVED_. path overrides
// ConfigPathEnvVar when non-empty.
func Load(path string) (Tunables, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}

	k := koanf.New(".")
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Tunables{}, fmt.Errorf("config: load file %s: %w", path, err)
			}
		}
	}

	envProvider := env.Provider("SLAVED_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "SLAVED_")
		return strings.ToLower(s)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Tunables{}, fmt.Errorf("config: load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Tunables{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Tunables{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (t Tunables) validate() error {
	if t.SlaveRelaunchCount < 0 {
		return fmt.Errorf("slave_relaunch_count must be >= 0")
	}
	if t.SlaveMaxLoad <= 0 {
		return fmt.Errorf("slave_max_load must be > 0")
	}
	if t.DefaultABI == "" {
		return fmt.Errorf("default_abi must be set")
	}
	if t.SlaveLogPath == "" {
		return fmt.Errorf("slave_log_path must be set")
	}
	return nil
}
