// Package config defines process configuration, layered as
// defaults -> optional YAML file (PULSE_CONFIG) -> env (PULSE_ prefix).
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the sqlite database file; empty selects the in-memory
	// store (single process, dev/test only).
	DBPath string `koanf:"db_path"`

	// DataDir holds runtime artifacts (audit logs).
	DataDir string `koanf:"data_dir"`

	// DropsPath points at the drop tuning yaml; empty uses built-in
	// defaults.
	DropsPath string `koanf:"drops_path"`

	// DropIntervalSec is the drop duty cadence.
	DropIntervalSec int `koanf:"drop_interval_sec"`

	// SweepIntervalSec is the expiry sweep cadence.
	SweepIntervalSec int `koanf:"sweep_interval_sec"`

	// ProximityRadiusM bounds nearby-event/user matching.
	ProximityRadiusM float64 `koanf:"proximity_radius_m"`

	// MaxNearby caps proximity result counts.
	MaxNearby int `koanf:"max_nearby"`
}

func Defaults() *Config {
	return &Config{
		Addr:             ":8080",
		DBPath:           "./data/citypulse.db",
		DataDir:          "./data",
		DropIntervalSec:  300,
		SweepIntervalSec: 60,
		ProximityRadiusM: 5000,
		MaxNearby:        20,
	}
}

// Load builds a Config by layering defaults, optional file, and env.
func Load() (*Config, error) {
	cfg := *Defaults()

	k := koanf.New(".")

	if path := os.Getenv("PULSE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// PULSE_DROP_INTERVAL_SEC -> drop_interval_sec, etc.
	envProvider := env.Provider("PULSE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "pulse_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.DropIntervalSec <= 0 || cfg.SweepIntervalSec <= 0 {
		return nil, errors.New("duty intervals must be positive")
	}
	if cfg.ProximityRadiusM <= 0 {
		return nil, errors.New("proximity_radius_m must be positive")
	}
	return &cfg, nil
}
