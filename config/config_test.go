package config_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/vebjomy/greenhouse-server/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.ListenAddr != ":5555" {
		t.Errorf("ListenAddr: got %q, want :5555", cfg.ListenAddr)
	}
	if cfg.DashboardAddr != ":8080" {
		t.Errorf("DashboardAddr: got %q, want :8080", cfg.DashboardAddr)
	}
	if cfg.SensorWorkerCount <= 0 {
		t.Errorf("SensorWorkerCount should be > 0, got %d", cfg.SensorWorkerCount)
	}
	if cfg.MinSamplingMs != 200 {
		t.Errorf("MinSamplingMs: got %d, want 200", cfg.MinSamplingMs)
	}
}

func TestDefaultConfig_ReturnsIndependentCopies(t *testing.T) {
	a := config.DefaultConfig()
	b := config.DefaultConfig()
	a.ListenAddr = ":9999"
	if b.ListenAddr == ":9999" {
		t.Fatal("DefaultConfig() results alias each other")
	}
}

func TestLoadFile_ValidFile(t *testing.T) {
	raw := map[string]interface{}{
		"listen_addr":         ":6000",
		"dashboard_addr":      ":9000",
		"users_file":          "custom-users.json",
		"log_level":           "debug",
		"sensor_worker_count": 4,
		"default_sampling_ms": 2000,
		"min_sampling_ms":     500,
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadFile(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":6000" {
		t.Errorf("got ListenAddr=%q, want :6000", cfg.ListenAddr)
	}
	if cfg.SensorWorkerCount != 4 {
		t.Errorf("got SensorWorkerCount=%d, want 4", cfg.SensorWorkerCount)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := config.LoadFile("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json}")
	f.Close()

	_, err = config.LoadFile(f.Name())
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestLoadFile_UnknownFieldRejected(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "unknown*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"listen_addr":":7000","bogus_field":true}`)
	f.Close()

	_, err = config.LoadFile(f.Name())
	if err == nil {
		t.Error("expected error for unknown field, got nil")
	}
}
