// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"fmt"
	"time"
)

// FirmwareInfo is the body of a FW_VERSION response.
type FirmwareInfo struct {
	Major           uint8
	Minor           uint8
	Hardware        string
	UUID            []byte
	Paired          bool
	TestFirmware    uint8
	HardwareType    uint8
	CustomConfigNum uint8

	Received time.Time
}

// Version returns "major.minor".
func (f FirmwareInfo) Version() string {
	return fmt.Sprintf("%d.%d", f.Major, f.Minor)
}

// DecodeFirmware decodes a FW_VERSION body positioned after the opcode.
// Older firmware sends fewer fields; each one is read only when enough bytes
// remain, so a short body yields a partially filled record. Decoding stops
// at a hardware name without a terminator.
func DecodeFirmware(buf *Buffer) FirmwareInfo {
	var fw FirmwareInfo

	if buf.Len() >= 2 {
		fw.Major = buf.Uint8()
		fw.Minor = buf.Uint8()
		remaining := buf.Len()
		fw.Hardware = buf.NullTerminatedString()
		if buf.Len() == remaining {
			// Unterminated name: the later fields cannot be located.
			return fw
		}
	}
	if buf.Len() >= firmwareUUIDLen {
		fw.UUID = buf.Take(firmwareUUIDLen)
	}
	if buf.Len() >= 1 {
		fw.Paired = buf.Uint8() != 0
	}
	if buf.Len() >= 1 {
		fw.TestFirmware = buf.Uint8()
	}
	if buf.Len() >= 1 {
		fw.HardwareType = buf.Uint8()
	}
	if buf.Len() >= 1 {
		fw.CustomConfigNum = buf.Uint8()
	}

	return fw
}
