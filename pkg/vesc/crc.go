// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import "github.com/sigurn/crc16"

// CRC-16/XMODEM: polynomial 0x1021, initial value 0, no reflection.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CalculateCRC computes the frame checksum for the given payload
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
