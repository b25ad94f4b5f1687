// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"fmt"
	"strings"
	"time"
)

func (o Opcode) String() string {
	return FormatOpcode(o)
}

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op Opcode) string {
	switch op {
	case CommFWVersion:
		return "FW_VERSION"
	case CommGetValues:
		return "GET_VALUES"
	case CommSetDuty:
		return "SET_DUTY"
	case CommSetCurrent:
		return "SET_CURRENT"
	case CommSetRPM:
		return "SET_RPM"
	case CommForwardCAN:
		return "FORWARD_CAN"
	case CommGetValuesSelective:
		return "GET_VALUES_SELECTIVE"
	default:
		return fmt.Sprintf("UNKNOWN_%d", uint8(op))
	}
}

// FormatFrame formats a frame payload into a human-readable string. Payloads
// are decoded as controller responses; commands sent by the remote are shown
// with their scaled argument.
func FormatFrame(payload []byte, t time.Time) string {
	timestamp := t.Format("15:04:05.000")
	if len(payload) == 0 {
		return fmt.Sprintf("[%s] EMPTY\n", timestamp)
	}

	body := NewBufferFrom(payload)
	op := Opcode(body.Uint8())
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, FormatOpcode(op), uint8(op), len(payload))

	switch op {
	case CommFWVersion:
		if body.Len() > 0 {
			result += FormatFirmware(DecodeFirmware(body))
		}
	case CommGetValues:
		result += FormatValues(DecodeValues(body, ValueAll))
	case CommGetValuesSelective:
		if body.Len() >= 4 {
			mask := ValueMask(body.Uint32())
			result += fmt.Sprintf("  mask=0x%08X\n", uint32(mask))
			if body.Len() > 0 {
				result += FormatValues(DecodeValues(body, mask))
			}
		}
	case CommSetDuty:
		result += fmt.Sprintf("  duty=%.5f\n", float64(body.Int32())/scaleDuty)
	case CommSetCurrent:
		result += fmt.Sprintf("  current=%.3fA\n", float64(body.Int32())/scaleCurrent)
	case CommSetRPM:
		result += fmt.Sprintf("  rpm=%d\n", body.Int32())
	case CommForwardCAN:
		target := body.Uint8()
		inner := FormatFrame(body.Bytes(), t)
		result += fmt.Sprintf("  target=%d -> %s", target, strings.TrimPrefix(inner, "["+timestamp+"] "))
	}

	return result
}

// FormatFirmware formats firmware info one field per line
func FormatFirmware(fw FirmwareInfo) string {
	var s strings.Builder
	fmt.Fprintf(&s, "  version=%s hw=%q\n", fw.Version(), fw.Hardware)
	if len(fw.UUID) > 0 {
		fmt.Fprintf(&s, "  uuid=%X\n", fw.UUID)
	}
	fmt.Fprintf(&s, "  paired=%t test_fw=%d hw_type=%d config=%d\n",
		fw.Paired, fw.TestFirmware, fw.HardwareType, fw.CustomConfigNum)
	return s.String()
}

// FormatValues formats the fields present in a telemetry record
func FormatValues(v Values) string {
	var s strings.Builder
	p := v.Present

	if p.Has(ValueVescID) {
		fmt.Fprintf(&s, "  vesc_id=%d\n", v.VescID)
	}
	if p.Has(ValueVIn) {
		fmt.Fprintf(&s, "  v_in=%.1fV\n", v.VIn)
	}
	if p&(ValueTempMOS|ValueTempMotor) != 0 {
		fmt.Fprintf(&s, "  temp_mos=%.1fC temp_motor=%.1fC\n", v.TempMOS, v.TempMotor)
	}
	if p.Has(ValueTempMOSX) {
		fmt.Fprintf(&s, "  temp_mos1=%.1fC temp_mos2=%.1fC temp_mos3=%.1fC\n", v.TempMOS1, v.TempMOS2, v.TempMOS3)
	}
	if p&(ValueCurrentMotor|ValueCurrentIn) != 0 {
		fmt.Fprintf(&s, "  current_motor=%.2fA current_in=%.2fA\n", v.CurrentMotor, v.CurrentIn)
	}
	if p&(ValueID|ValueIQ) != 0 {
		fmt.Fprintf(&s, "  id=%.2fA iq=%.2fA\n", v.ID, v.IQ)
	}
	if p&(ValueVD|ValueVQ) != 0 {
		fmt.Fprintf(&s, "  vd=%.3fV vq=%.3fV\n", v.VD, v.VQ)
	}
	if p&(ValueDutyNow|ValueRPM) != 0 {
		fmt.Fprintf(&s, "  duty=%.1f%% rpm=%.0f\n", v.DutyNow*100, v.RPM)
	}
	if p&(ValueAmpHours|ValueAmpHoursCharged) != 0 {
		fmt.Fprintf(&s, "  ah=%.4f ah_charged=%.4f\n", v.AmpHours, v.AmpHoursCharged)
	}
	if p&(ValueWattHours|ValueWattHoursCharged) != 0 {
		fmt.Fprintf(&s, "  wh=%.4f wh_charged=%.4f\n", v.WattHours, v.WattHoursCharged)
	}
	if p&(ValueTachometer|ValueTachometerAbs) != 0 {
		fmt.Fprintf(&s, "  tacho=%d tacho_abs=%d\n", v.Tachometer, v.TachometerAbs)
	}
	if p.Has(ValuePosition) {
		fmt.Fprintf(&s, "  position=%.2f\n", v.Position)
	}
	if p.Has(ValueFaultCode) {
		fmt.Fprintf(&s, "  fault=%s\n", v.FaultCode)
	}

	return s.String()
}
