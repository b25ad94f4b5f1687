// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a payload exceeds PacketMaxPayloadLen.
var ErrPayloadTooLarge = errors.New("payload too large")

// EncodeFrame wraps payload in start, length, CRC and end bytes.
func EncodeFrame(payload []byte) ([]byte, error) {
	n := len(payload)
	if n > PacketMaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, n, PacketMaxPayloadLen)
	}

	buf := NewBuffer(n + PacketExtraBytes)
	if n <= shortLengthMax {
		buf.AppendUint8(StartShort)
		buf.AppendUint8(uint8(n))
	} else {
		buf.AppendUint8(StartLong)
		buf.AppendUint16(uint16(n))
	}
	buf.Append(payload)
	buf.AppendUint16(CalculateCRC(payload))
	buf.AppendUint8(EndByte)

	return buf.Bytes(), nil
}

// FrameLen returns the encoded size of a payload of n bytes.
func FrameLen(n int) int {
	if n <= shortLengthMax {
		return 2 + n + trailerLen
	}
	return 3 + n + trailerLen
}

// Validate checks the unread bytes of buf for one complete frame starting at
// the read position.
//
// On Valid the read position is left at the first payload byte and the write
// position at the last, so the unread region is exactly the payload. On
// Incomplete the buffer is unchanged and the call can be retried once more
// bytes are appended. BadStart, InvalidCRC and BadEnd mean the run is
// misaligned and should be discarded.
func Validate(buf *Buffer) ValidateResult {
	start := buf.rd
	if buf.Len() < 1 {
		return Incomplete
	}

	marker := buf.Uint8()
	var n int
	switch marker {
	case StartShort:
		if buf.Len() < 1 {
			buf.rd = start
			return Incomplete
		}
		n = int(buf.Uint8())
	case StartLong:
		if buf.Len() < 2 {
			buf.rd = start
			return Incomplete
		}
		n = int(buf.Uint16())
	default:
		buf.rd = start
		return BadStart
	}

	// A longer frame can never fit the receive buffer.
	if n > PacketMaxPayloadLen {
		buf.rd = start
		return BadStart
	}

	if marker == StartShort && n == 0 {
		return checkWrapped(buf, start)
	}
	return checkPayload(buf, start, n)
}

// checkWrapped resolves a short length byte of zero. A 256 byte payload is
// sent with the short marker, so its length wraps to zero; that reading wins
// whenever it checks out. An empty frame is accepted when the 256 byte
// reading fails, or when it is all that has been received so far.
func checkWrapped(buf *Buffer, start int) ValidateResult {
	headerEnd, end := buf.rd, buf.wr

	if buf.Len() >= shortLengthMax+trailerLen {
		if res := checkPayload(buf, start, shortLengthMax); res == Valid {
			return res
		}
		buf.rd = headerEnd
		return checkPayload(buf, start, 0)
	}

	res := checkPayload(buf, start, 0)
	switch {
	case res.Fatal():
		buf.rd = headerEnd
		return checkPayload(buf, start, shortLengthMax)
	case res == Valid && end > headerEnd+trailerLen:
		// The bytes after it may be the rest of a 256 byte payload.
		buf.rd, buf.wr = start, end
		return Incomplete
	}
	return res
}

// checkPayload verifies n payload bytes plus trailer at the read position.
func checkPayload(buf *Buffer, start, n int) ValidateResult {
	if buf.Len() < n+trailerLen {
		buf.rd = start
		return Incomplete
	}

	payloadStart := buf.rd
	expected := CalculateCRC(buf.data[payloadStart : payloadStart+n])
	buf.Advance(n)
	if buf.Uint16() != expected {
		return InvalidCRC
	}
	if buf.Uint8() != EndByte {
		return BadEnd
	}

	buf.rd = payloadStart
	buf.wr = payloadStart + n
	return Valid
}

// NextFrame extracts one frame from a receive buffer.
//
// On Valid it returns a copy of the payload and consumes exactly the frame's
// bytes, keeping anything received after it. On Incomplete rx is untouched.
// On a fatal result rx is reset.
func NextFrame(rx *Buffer) ([]byte, ValidateResult) {
	view := rx.View()
	res := Validate(view)
	switch {
	case res == Valid:
		payload := append([]byte(nil), view.Bytes()...)
		rx.Advance(view.wr + trailerLen - rx.rd)
		rx.Compact()
		return payload, Valid
	case res.Fatal():
		rx.Reset()
	}
	return nil, res
}
