// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import "time"

// Values is one telemetry record. Only the fields whose bit is set in
// Present were carried by the response.
type Values struct {
	TempMOS          float64
	TempMotor        float64
	CurrentMotor     float64
	CurrentIn        float64
	ID               float64
	IQ               float64
	DutyNow          float64
	RPM              float64
	VIn              float64
	AmpHours         float64
	AmpHoursCharged  float64
	WattHours        float64
	WattHoursCharged float64
	Tachometer       int32
	TachometerAbs    int32
	FaultCode        FaultCode
	Position         float64
	VescID           uint8
	TempMOS1         float64
	TempMOS2         float64
	TempMOS3         float64
	VD               float64
	VQ               float64

	Present ValueMask
	Updated time.Time
}

type fixedField struct {
	bit   ValueMask
	width int
	scale float64
	dst   func(v *Values) *float64
}

// Fields with no length guard, in wire order up to and including duty.
var valueFieldsLow = []fixedField{
	{ValueTempMOS, 2, 10, func(v *Values) *float64 { return &v.TempMOS }},
	{ValueTempMotor, 2, 10, func(v *Values) *float64 { return &v.TempMotor }},
	{ValueCurrentMotor, 4, 100, func(v *Values) *float64 { return &v.CurrentMotor }},
	{ValueCurrentIn, 4, 100, func(v *Values) *float64 { return &v.CurrentIn }},
	{ValueID, 4, 100, func(v *Values) *float64 { return &v.ID }},
	{ValueIQ, 4, 100, func(v *Values) *float64 { return &v.IQ }},
	{ValueDutyNow, 2, 1000, func(v *Values) *float64 { return &v.DutyNow }},
	{ValueRPM, 4, 1, func(v *Values) *float64 { return &v.RPM }},
	{ValueVIn, 2, 10, func(v *Values) *float64 { return &v.VIn }},
	{ValueAmpHours, 4, 10000, func(v *Values) *float64 { return &v.AmpHours }},
	{ValueAmpHoursCharged, 4, 10000, func(v *Values) *float64 { return &v.AmpHoursCharged }},
	{ValueWattHours, 4, 10000, func(v *Values) *float64 { return &v.WattHours }},
	{ValueWattHoursCharged, 4, 10000, func(v *Values) *float64 { return &v.WattHoursCharged }},
}

// DecodeValues decodes a GET_VALUES(_SELECTIVE) body positioned after the
// opcode (and echoed mask). It is a pure function of the bytes and the mask.
//
// Fields outside the mask keep their zero value. The trailing fields are only
// sent by newer firmware: when one is requested but the body is too short it
// is set to its sentinel (Position -1, VescID 255, zero otherwise) and its
// Present bit stays clear.
func DecodeValues(buf *Buffer, mask ValueMask) Values {
	var v Values

	for _, f := range valueFieldsLow {
		if mask.Has(f.bit) {
			*f.dst(&v) = buf.FixedPoint(f.width, f.scale)
			v.Present |= f.bit
		}
	}

	if mask.Has(ValueTachometer) {
		v.Tachometer = buf.Int32()
		v.Present |= ValueTachometer
	}
	if mask.Has(ValueTachometerAbs) {
		v.TachometerAbs = buf.Int32()
		v.Present |= ValueTachometerAbs
	}
	if mask.Has(ValueFaultCode) {
		v.FaultCode = FaultCode(buf.Uint8())
		v.Present |= ValueFaultCode
	}

	if mask.Has(ValuePosition) {
		if buf.Len() >= 4 {
			v.Position = buf.FixedPoint(4, 1000000)
			v.Present |= ValuePosition
		} else {
			v.Position = PositionUnknown
		}
	}
	if mask.Has(ValueVescID) {
		if buf.Len() >= 1 {
			v.VescID = buf.Uint8()
			v.Present |= ValueVescID
		} else {
			v.VescID = VescIDUnknown
		}
	}
	if mask.Has(ValueTempMOSX) && buf.Len() >= 6 {
		v.TempMOS1 = buf.FixedPoint(2, 10)
		v.TempMOS2 = buf.FixedPoint(2, 10)
		v.TempMOS3 = buf.FixedPoint(2, 10)
		v.Present |= ValueTempMOSX
	}
	if mask&(ValueVD|ValueVQ) != 0 && buf.Len() >= 8 {
		if mask.Has(ValueVD) {
			v.VD = buf.FixedPoint(4, 1000)
			v.Present |= ValueVD
		}
		if mask.Has(ValueVQ) {
			v.VQ = buf.FixedPoint(4, 1000)
			v.Present |= ValueVQ
		}
	}

	return v
}

// Merge copies the fields present in src into v. Fields src did not carry
// keep their previous value.
func (v *Values) Merge(src Values) {
	for _, f := range valueFieldsLow {
		if src.Present.Has(f.bit) {
			*f.dst(v) = *f.dst(&src)
		}
	}
	if src.Present.Has(ValueTachometer) {
		v.Tachometer = src.Tachometer
	}
	if src.Present.Has(ValueTachometerAbs) {
		v.TachometerAbs = src.TachometerAbs
	}
	if src.Present.Has(ValueFaultCode) {
		v.FaultCode = src.FaultCode
	}
	if src.Present.Has(ValuePosition) {
		v.Position = src.Position
	}
	if src.Present.Has(ValueVescID) {
		v.VescID = src.VescID
	}
	if src.Present.Has(ValueTempMOSX) {
		v.TempMOS1 = src.TempMOS1
		v.TempMOS2 = src.TempMOS2
		v.TempMOS3 = src.TempMOS3
	}
	if src.Present.Has(ValueVD) {
		v.VD = src.VD
	}
	if src.Present.Has(ValueVQ) {
		v.VQ = src.VQ
	}
	v.Present |= src.Present
	if !src.Updated.IsZero() {
		v.Updated = src.Updated
	}
}
