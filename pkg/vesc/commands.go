// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import "math"

// Command builder functions return command payloads ready for EncodeFrame.
// A target greater than zero wraps the command in COMM_FORWARD_CAN so the
// connected controller relays it to that id on its CAN bus. Target 0 addresses
// the connected controller itself.

// NewFirmwareRequest creates a FW_VERSION request.
func NewFirmwareRequest(target uint8) []byte {
	buf := newCommand(target, CommFWVersion)
	return buf.Bytes()
}

// NewGetValuesCommand creates a telemetry request. ValueAll is sent as
// GET_VALUES, any other mask as GET_VALUES_SELECTIVE followed by the mask.
func NewGetValuesCommand(mask ValueMask, target uint8) []byte {
	if mask == ValueAll {
		return newCommand(target, CommGetValues).Bytes()
	}
	buf := newCommand(target, CommGetValuesSelective)
	buf.AppendUint32(uint32(mask))
	return buf.Bytes()
}

// NewSetCurrentCommand creates a SET_CURRENT command. Amps are sent in mA.
func NewSetCurrentCommand(amps float64, target uint8) []byte {
	return newScaledCommand(target, CommSetCurrent, amps, scaleCurrent)
}

// NewSetRPMCommand creates a SET_RPM command in electrical RPM.
func NewSetRPMCommand(rpm float64, target uint8) []byte {
	return newScaledCommand(target, CommSetRPM, rpm, scaleRPM)
}

// NewSetDutyCommand creates a SET_DUTY command. Duty is -1 to 1 and is sent
// scaled by 100000.
func NewSetDutyCommand(duty float64, target uint8) []byte {
	return newScaledCommand(target, CommSetDuty, duty, scaleDuty)
}

func newCommand(target uint8, op Opcode) *Buffer {
	buf := NewBuffer(commandPayloadCap)
	if target > 0 {
		buf.AppendUint8(uint8(CommForwardCAN))
		buf.AppendUint8(target)
	}
	buf.AppendUint8(uint8(op))
	return buf
}

func newScaledCommand(target uint8, op Opcode, v, scale float64) []byte {
	buf := newCommand(target, op)
	buf.AppendInt32(scaleInt32(v, scale))
	return buf.Bytes()
}

// scaleInt32 truncates v*scale toward zero, saturating at the int32 range.
func scaleInt32(v, scale float64) int32 {
	x := v * scale
	switch {
	case math.IsNaN(x):
		return 0
	case x >= math.MaxInt32:
		return math.MaxInt32
	case x <= math.MinInt32:
		return math.MinInt32
	}
	return int32(x)
}
