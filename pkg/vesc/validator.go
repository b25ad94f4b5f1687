// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of implausible telemetry
type AnomalyType int

const (
	AnomalyFault AnomalyType = iota
	AnomalyTemperature
	AnomalyVoltage
	AnomalyDuty
	AnomalyLength
)

func (t AnomalyType) String() string {
	switch t {
	case AnomalyFault:
		return "FAULT"
	case AnomalyTemperature:
		return "TEMPERATURE"
	case AnomalyVoltage:
		return "VOLTAGE"
	case AnomalyDuty:
		return "DUTY"
	case AnomalyLength:
		return "LENGTH"
	default:
		return "UNKNOWN"
	}
}

// Anomaly is one implausible value found in a frame
type Anomaly struct {
	Type    AnomalyType
	Message string
}

// Error implements the error interface
func (a Anomaly) Error() string {
	return a.Message
}

// Limits bounds the telemetry values considered plausible.
type Limits struct {
	MinTemp      float64
	MaxTempMOS   float64
	MaxTempMotor float64
	MinVIn       float64
	MaxVIn       float64
}

// DefaultLimits suits a 10S to 20S pack with stock thermal limits.
func DefaultLimits() Limits {
	return Limits{
		MinTemp:      -40,
		MaxTempMOS:   85,
		MaxTempMotor: 120,
		MinVIn:       30,
		MaxVIn:       90,
	}
}

// CheckValues returns the anomalies in a telemetry record. Fields missing
// from v.Present are not checked.
func CheckValues(v Values, lim Limits) []Anomaly {
	var out []Anomaly
	p := v.Present

	if p.Has(ValueFaultCode) && v.FaultCode != FaultNone {
		out = append(out, Anomaly{AnomalyFault, fmt.Sprintf("Fault reported: %s", v.FaultCode)})
	}
	if p.Has(ValueTempMOS) {
		out = appendTemp(out, "MOSFET", v.TempMOS, lim.MinTemp, lim.MaxTempMOS)
	}
	if p.Has(ValueTempMotor) {
		out = appendTemp(out, "Motor", v.TempMotor, lim.MinTemp, lim.MaxTempMotor)
	}
	if p.Has(ValueVIn) && (v.VIn < lim.MinVIn || v.VIn > lim.MaxVIn) {
		out = append(out, Anomaly{AnomalyVoltage,
			fmt.Sprintf("Input voltage out of range (%.1fV, valid: %.1f to %.1fV)", v.VIn, lim.MinVIn, lim.MaxVIn)})
	}
	if p.Has(ValueDutyNow) && math.Abs(v.DutyNow) > 1 {
		out = append(out, Anomaly{AnomalyDuty, fmt.Sprintf("Duty cycle above 100%% (%.1f%%)", v.DutyNow*100)})
	}

	return out
}

func appendTemp(out []Anomaly, name string, temp, lo, hi float64) []Anomaly {
	if temp < lo || temp > hi {
		out = append(out, Anomaly{AnomalyTemperature,
			fmt.Sprintf("%s temperature out of range (%.1fC, valid: %.0f to %.0fC)", name, temp, lo, hi)})
	}
	return out
}

// CheckFrame decodes a received payload and returns its anomalies. Only
// telemetry responses carry checked values.
func CheckFrame(payload []byte, lim Limits) []Anomaly {
	if len(payload) == 0 {
		return []Anomaly{{AnomalyLength, "Empty payload"}}
	}

	body := NewBufferFrom(payload)
	switch Opcode(body.Uint8()) {
	case CommGetValues:
		return CheckValues(DecodeValues(body, ValueAll), lim)
	case CommGetValuesSelective:
		if body.Len() < 4 {
			return []Anomaly{{AnomalyLength, fmt.Sprintf("Selective response too short (%d bytes)", len(payload))}}
		}
		mask := ValueMask(body.Uint32())
		return CheckValues(DecodeValues(body, mask), lim)
	}
	return nil
}
