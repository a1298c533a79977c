package node

import (
	"sync"

	"github.com/vebjomy/greenhouse-server/environment"
)

// MinSamplingMs is the floor every sampling interval is clamped to. It is a
// package-level constant rather than a per-Manager field because the
// invariant is protocol-wide, not a deployment tunable; Manager's own floor
// still allows an operator to raise it further.
const MinSamplingMs = 200

// Runtime is one node's exclusively-owned mutable state: its environment
// simulation, actuator positions, and sampling interval. Every field is
// guarded by mu so a command dispatched from a session goroutine and a tick
// dispatched from the Sensor Engine never interleave inconsistently.
//
// No method here suspends: every operation is pure in-memory work and
// returns immediately.
type Runtime struct {
	mu         sync.Mutex
	env        environment.State
	fanOn      bool
	pumpOn     bool
	co2On      bool
	window     environment.Window
	intervalMs int
}

// NewRuntime returns a Runtime at its documented defaults: all actuators
// off, window closed, sampling every defaultIntervalMs (raised to
// MinSamplingMs if lower).
func NewRuntime(defaultIntervalMs int) *Runtime {
	if defaultIntervalMs < MinSamplingMs {
		defaultIntervalMs = MinSamplingMs
	}
	return &Runtime{
		env:        environment.NewState(),
		window:     environment.WindowClosed,
		intervalMs: defaultIntervalMs,
	}
}

// Tick advances the environment by dt seconds under the current actuator
// state and returns a fresh Snapshot. Called by the Sensor Engine.
func (r *Runtime) Tick(dt float64, noise environment.NoiseFunc) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env.Step(dt, r.fanOn, r.pumpOn, r.co2On, r.window, noise)
	return snapshotFrom(r.env, r.fanOn, r.pumpOn, r.co2On, r.window)
}

// Snapshot returns the current reading without advancing the simulation.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotFrom(r.env, r.fanOn, r.pumpOn, r.co2On, r.window)
}

// SetBoolActuator sets the fan, water pump or CO2 injector. target must
// already have been validated by the caller.
func (r *Runtime) SetBoolActuator(target string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch target {
	case "fan":
		r.fanOn = on
	case "water_pump":
		r.pumpOn = on
	case "co2":
		r.co2On = on
	}
}

// SetWindow sets the window level.
func (r *Runtime) SetWindow(w environment.Window) {
	r.mu.Lock()
	r.window = w
	r.mu.Unlock()
}

// SamplingMs returns the current clamped sampling interval.
func (r *Runtime) SamplingMs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intervalMs
}

// SetSamplingMs clamps intervalMs to MinSamplingMs and stores it.
func (r *Runtime) SetSamplingMs(intervalMs int) int {
	if intervalMs < MinSamplingMs {
		intervalMs = MinSamplingMs
	}
	r.mu.Lock()
	r.intervalMs = intervalMs
	r.mu.Unlock()
	return intervalMs
}
