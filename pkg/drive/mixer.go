// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package drive turns joystick axes into per-side duty cycles for a
// two-motor, skid-steered vehicle.
package drive

import "math"

// MixerConfig shapes the stick response.
type MixerConfig struct {
	// Deadzone is the axis magnitude below which the stick reads zero.
	Deadzone float64
	// TurnScale weights the steering axis against the throttle axis.
	TurnScale float64
	// MaxDuty caps the duty cycle sent to either motor.
	MaxDuty float64
}

// DefaultMixerConfig returns a conservative street setup.
func DefaultMixerConfig() MixerConfig {
	return MixerConfig{
		Deadzone:  0.05,
		TurnScale: 0.5,
		MaxDuty:   0.95,
	}
}

// Mix converts stick axes (x right, y forward, both -1 to 1) into left and
// right duty cycles. Axes inside the deadzone read zero and the rest of the
// travel is rescaled so output starts from zero at the deadzone edge.
func Mix(x, y float64, cfg MixerConfig) (left, right float64) {
	x = applyDeadzone(clampUnit(x), cfg.Deadzone)
	y = applyDeadzone(clampUnit(y), cfg.Deadzone)

	maxDuty := cfg.MaxDuty
	if maxDuty <= 0 || maxDuty > 1 {
		maxDuty = 1
	}

	left = clampUnit(y+x*cfg.TurnScale) * maxDuty
	right = clampUnit(y-x*cfg.TurnScale) * maxDuty
	return left, right
}

func applyDeadzone(v, dz float64) float64 {
	if dz <= 0 {
		return v
	}
	if dz >= 1 || math.Abs(v) < dz {
		return 0
	}
	return math.Copysign((math.Abs(v)-dz)/(1-dz), v)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
