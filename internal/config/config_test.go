package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if *cfg != *want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_ADDR", ":9090")
	t.Setenv("PULSE_DB_PATH", "")
	t.Setenv("PULSE_DROP_INTERVAL_SEC", "30")
	t.Setenv("PULSE_PROXIMITY_RADIUS_M", "1500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.DBPath != "" || cfg.DropIntervalSec != 30 || cfg.ProximityRadiusM != 1500 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.SweepIntervalSec != Defaults().SweepIntervalSec {
		t.Fatalf("sweep interval = %d", cfg.SweepIntervalSec)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	body := []byte("addr: \":7070\"\nmax_nearby: 5\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PULSE_CONFIG", path)
	t.Setenv("PULSE_ADDR", ":6060") // env wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":6060" || cfg.MaxNearby != 5 {
		t.Fatalf("layering wrong: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PULSE_DROP_INTERVAL_SEC", "0")
	if _, err := Load(); err == nil {
		t.Fatal("zero drop interval accepted")
	}
}
