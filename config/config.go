// Package config holds the tunable parameters for the greenhouse server.
// The struct is populated once at startup — either from command-line flags
// bound into viper, or layered from an optional JSON file — and then shared
// across goroutines as a read-only value.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all tunable parameters for the greenhouse server.
type Config struct {
	// ListenAddr is the TCP address the protocol listener binds.
	ListenAddr string `json:"listen_addr"`

	// DashboardAddr is the HTTP address the read-only operator dashboard
	// binds.
	DashboardAddr string `json:"dashboard_addr"`

	// UsersFile is the path to the JSON-backed user store.
	UsersFile string `json:"users_file"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"log_level"`

	// SensorWorkerCount sizes the pool the Sensor Engine submits tick jobs
	// to. Two workers are plenty at this scale.
	SensorWorkerCount int `json:"sensor_worker_count"`

	// DefaultSamplingMs is the sampling interval newly created nodes start
	// with.
	DefaultSamplingMs int `json:"default_sampling_ms"`

	// MinSamplingMs is the floor every sampling interval is clamped to.
	MinSamplingMs int `json:"min_sampling_ms"`
}

// DefaultConfig returns a *Config pre-filled with the built-in defaults.
// Callers are free to mutate the returned struct; each call returns a fresh
// independent copy.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":5555",
		DashboardAddr:     ":8080",
		UsersFile:         "users.json",
		LogLevel:          "info",
		SensorWorkerCount: 2,
		DefaultSamplingMs: 1000,
		MinSamplingMs:     200,
	}
}

// LoadFile reads a JSON file at filename and deserialises it into a Config.
// Unknown fields are rejected to catch typos in operator-maintained config
// files early — unlike the wire protocol codec, which must tolerate them.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is an operator-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// FromViper builds a Config from an already-populated viper instance. Callers
// bind cobra flags (and GREENHOUSE_* environment variables) into v before
// calling this, so flags win over environment, which wins over the defaults
// registered on v.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		ListenAddr:        v.GetString("listen_addr"),
		DashboardAddr:     v.GetString("dashboard_addr"),
		UsersFile:         v.GetString("users_file"),
		LogLevel:          v.GetString("log_level"),
		SensorWorkerCount: v.GetInt("sensor_worker_count"),
		DefaultSamplingMs: v.GetInt("default_sampling_ms"),
		MinSamplingMs:     v.GetInt("min_sampling_ms"),
	}
}
