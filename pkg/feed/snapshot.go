// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package feed publishes periodic telemetry snapshots of the vehicle to
// WebSocket clients and an MQTT broker. Snapshots are CBOR maps with
// integer keys.
package feed

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/tandem/pkg/link"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

// Motor is the telemetry of one controller.
type Motor struct {
	VescID       uint8   `cbor:"0,keyasint"`
	TempMOS      float64 `cbor:"1,keyasint"`
	TempMotor    float64 `cbor:"2,keyasint"`
	CurrentMotor float64 `cbor:"3,keyasint"`
	CurrentIn    float64 `cbor:"4,keyasint"`
	DutyNow      float64 `cbor:"5,keyasint"`
	RPM          float64 `cbor:"6,keyasint"`
	VIn          float64 `cbor:"7,keyasint"`
	AmpHours     float64 `cbor:"8,keyasint"`
	WattHours    float64 `cbor:"9,keyasint"`
	Tachometer   int32   `cbor:"10,keyasint"`
	Fault        string  `cbor:"11,keyasint"`
	// Updated is unix milliseconds of the last record, zero if none.
	Updated int64 `cbor:"12,keyasint"`
}

// Snapshot is the vehicle state at one instant.
type Snapshot struct {
	// Time is unix milliseconds.
	Time      int64   `cbor:"0,keyasint"`
	State     string  `cbor:"1,keyasint"`
	Peer      string  `cbor:"2,keyasint,omitempty"`
	Firmware  string  `cbor:"3,keyasint,omitempty"`
	Hardware  string  `cbor:"4,keyasint,omitempty"`
	Primary   Motor   `cbor:"5,keyasint"`
	Secondary Motor   `cbor:"6,keyasint"`
	Left      float64 `cbor:"7,keyasint"`
	Right     float64 `cbor:"8,keyasint"`
	Frames    uint64  `cbor:"9,keyasint"`
	Errors    uint64  `cbor:"10,keyasint"`
}

// MotorFrom converts a telemetry record.
func MotorFrom(v vesc.Values) Motor {
	m := Motor{
		VescID:       v.VescID,
		TempMOS:      v.TempMOS,
		TempMotor:    v.TempMotor,
		CurrentMotor: v.CurrentMotor,
		CurrentIn:    v.CurrentIn,
		DutyNow:      v.DutyNow,
		RPM:          v.RPM,
		VIn:          v.VIn,
		AmpHours:     v.AmpHours,
		WattHours:    v.WattHours,
		Tachometer:   v.Tachometer,
		Fault:        v.FaultCode.String(),
	}
	if !v.Updated.IsZero() {
		m.Updated = v.Updated.UnixMilli()
	}
	return m
}

// Source produces the current snapshot.
type Source func() Snapshot

// MachineSource samples a link machine and its controller.
func MachineSource(m *link.Machine) Source {
	return func() Snapshot {
		ctrl := m.Controller()
		stats := ctrl.Stats()
		left, right := m.Duties()

		s := Snapshot{
			Time:      time.Now().UnixMilli(),
			State:     m.State().String(),
			Primary:   MotorFrom(ctrl.Values()),
			Secondary: MotorFrom(ctrl.SecondaryValues()),
			Left:      left,
			Right:     right,
			Frames:    stats.ValidFrames,
			Errors:    stats.Errors(),
		}
		if p := m.Peer(); p != nil {
			s.Peer = p.Address()
		}
		if fw := ctrl.Firmware(); !fw.Received.IsZero() {
			s.Firmware = fw.Version()
			s.Hardware = fw.Hardware
		}
		return s
	}
}

// Encode returns the CBOR form of s.
func Encode(s Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a CBOR snapshot.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
