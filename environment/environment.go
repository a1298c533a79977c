// Package environment implements the per-node physical-ish simulation: a
// continuous state (temperature, humidity, light, pH, time-of-day) advanced
// by a time delta under actuator influence, with bounded additive noise.
package environment

import (
	"math"
	"math/rand"
)

// Window represents the three-position greenhouse window actuator.
type Window string

const (
	WindowClosed Window = "CLOSED"
	WindowHalf   Window = "HALF"
	WindowOpen   Window = "OPEN"
)

// ParseWindow reports whether s is one of the three valid window levels and,
// if so, returns it as a Window. Matching is exact and case-sensitive.
func ParseWindow(s string) (Window, bool) {
	switch Window(s) {
	case WindowClosed, WindowHalf, WindowOpen:
		return Window(s), true
	default:
		return "", false
	}
}

// daytimeLightLux is the virtual outside-light amplitude used by the light
// model; it also doubles as the clamp ceiling real light readings converge
// toward on a fully open window at noon.
const daytimeLightLux = 50000.0

// State is one node's continuous environment, advanced in place by Step.
type State struct {
	TemperatureC   float64
	HumidityPct    float64
	LightLux       float64
	PH             float64
	TimeOfDayHours float64
}

// NewState returns a fresh State at its documented initial values.
func NewState() State {
	return State{
		TemperatureC:   22.0,
		HumidityPct:    55.0,
		LightLux:       420.0,
		PH:             6.4,
		TimeOfDayHours: 12.0,
	}
}

// NoiseFunc returns a perturbation in [-amplitude, amplitude]. The default is
// a uniform pseudo-random draw; tests substitute a zero-returning function to
// make trends deterministic.
type NoiseFunc func(amplitude float64) float64

// UniformNoise is the production NoiseFunc: a uniform draw within the
// amplitude.
func UniformNoise(amplitude float64) float64 {
	if amplitude == 0 {
		return 0
	}
	return (rand.Float64()*2 - 1) * amplitude
}

// ZeroNoise disables noise entirely — useful for assertions on exact trends.
func ZeroNoise(float64) float64 { return 0 }

// outsideTemperature is the virtual outside reference temperature: a
// sinusoid between 8°C and 16°C peaking at 14:00.
func outsideTemperature(hours float64) float64 {
	return 12.0 + 4.0*math.Cos(2*math.Pi*(hours-14.0)/24.0)
}

// outsideLight is the virtual outside reference illuminance: a daytime
// sinusoid between 06:00 and 18:00, else a night floor.
func outsideLight(hours float64) float64 {
	if hours < 6 || hours > 18 {
		return 50.0
	}
	v := daytimeLightLux * math.Sin(math.Pi*(hours-6)/12)
	if v < 0 {
		return 50.0
	}
	return v
}

func windowTempFactor(w Window) float64 {
	switch w {
	case WindowOpen:
		return 0.12
	case WindowHalf:
		return 0.05
	default:
		return 0
	}
}

func windowHumidityFactor(w Window) float64 {
	switch w {
	case WindowOpen:
		return -0.30
	case WindowHalf:
		return -0.15
	default:
		return 0
	}
}

func windowLightFactor(w Window) float64 {
	switch w {
	case WindowOpen:
		return 0.05
	case WindowHalf:
		return 0.03
	default:
		return 0.01
	}
}

// Step advances the state by dt seconds under the given actuator states.
// Step never fails; out-of-range results are clamped silently.
func (s *State) Step(dt float64, fanOn, pumpOn, co2On bool, window Window, noise NoiseFunc) {
	if noise == nil {
		noise = UniformNoise
	}

	s.TimeOfDayHours = math.Mod(s.TimeOfDayHours+dt/3600.0, 24.0)
	if s.TimeOfDayHours < 0 {
		s.TimeOfDayHours += 24.0
	}

	outTemp := outsideTemperature(s.TimeOfDayHours)
	outLight := outsideLight(s.TimeOfDayHours)

	k := 0.03 + windowTempFactor(window)
	if fanOn {
		k += 0.07
	}
	var co2Term float64
	if co2On && s.TemperatureC < outTemp+5 {
		co2Term = 0.25
	}
	lightTerm := (s.LightLux / 45000.0) * 0.005
	dT := ((outTemp-s.TemperatureC)*k + co2Term + lightTerm) * dt
	s.TemperatureC += dT + noise(0.02)

	var pumpHumidityTerm float64
	if pumpOn {
		pumpHumidityTerm = 0.35
	} else {
		pumpHumidityTerm = -0.08
	}
	var fanHumidityTerm float64
	if fanOn {
		fanHumidityTerm = -0.20
	}
	dH := (pumpHumidityTerm + fanHumidityTerm + windowHumidityFactor(window) + (s.TemperatureC-20)*0.02) * dt
	s.HumidityPct += dH + noise(0.15)
	s.HumidityPct = clamp(s.HumidityPct, 0, 100)

	var target float64
	if window == WindowClosed {
		target = 50
	} else {
		target = outLight
	}
	dL := (target - s.LightLux) * windowLightFactor(window) * dt
	s.LightLux += dL + noise(5)
	s.LightLux = clamp(s.LightLux, 50, 50000)

	var pumpPHTerm, co2PHTerm float64
	if pumpOn {
		pumpPHTerm = (7 - s.PH) * 0.05
	}
	if co2On {
		co2PHTerm = (6 - s.PH) * 0.04
	}
	dPH := (pumpPHTerm + co2PHTerm) * dt
	s.PH += dPH + noise(0.01)
	s.PH = clamp(s.PH, 0, 14)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
