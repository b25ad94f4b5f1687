// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"bytes"
	"errors"
	"testing"
)

// FW_VERSION response from a 5.02 controller with hardware name "UNITY".
var fwPayload = []byte{
	0x00, 0x05, 0x02, 'U', 'N', 'I', 'T', 'Y', 0x00,
	0x23, 0x00, 0x1d, 0x00, 0x17, 'G', '9', '4', '5', '8', '4', '8',
	0x00, 0x00, 0x00, 0x00,
}

var fwFrame = append(append([]byte{0x02, 0x19}, fwPayload...), 0x5b, 0x23, 0x03)

func patternPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 1)
	}
	return p
}

// ============================================================
// Encode Tests
// ============================================================

func TestEncodeFrame_SingleZeroByte(t *testing.T) {
	frame, err := EncodeFrame([]byte{0x00})
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}
	want := []byte{0x02, 0x01, 0x00, 0x00, 0x00, 0x03}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}
}

func TestEncodeFrame_Lengths(t *testing.T) {
	tests := []struct {
		name       string
		payloadLen int
		frameLen   int
		marker     byte
	}{
		{"empty", 0, 5, StartShort},
		{"Hello!", 6, 11, StartShort},
		{"255 bytes", 255, 260, StartShort},
		{"256 bytes uses short marker", 256, 261, StartShort},
		{"257 bytes uses long marker", 257, 263, StartLong},
		{"max payload", PacketMaxPayloadLen, 518, StartLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(patternPayload(tt.payloadLen))
			if err != nil {
				t.Fatalf("EncodeFrame error: %v", err)
			}
			if len(frame) != tt.frameLen {
				t.Errorf("len = %d, want %d", len(frame), tt.frameLen)
			}
			if FrameLen(tt.payloadLen) != tt.frameLen {
				t.Errorf("FrameLen = %d, want %d", FrameLen(tt.payloadLen), tt.frameLen)
			}
			if frame[0] != tt.marker {
				t.Errorf("marker = 0x%02X, want 0x%02X", frame[0], tt.marker)
			}
			if frame[len(frame)-1] != EndByte {
				t.Errorf("end = 0x%02X, want 0x%02X", frame[len(frame)-1], EndByte)
			}
		})
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(make([]byte, PacketMaxPayloadLen+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("error = %v, want ErrPayloadTooLarge", err)
	}
}

// ============================================================
// Validate Tests
// ============================================================

func TestValidate_FirmwareFrame(t *testing.T) {
	buf := NewBufferFrom(fwFrame)

	if res := Validate(buf); res != Valid {
		t.Fatalf("Validate = %s, want VALID", res)
	}
	if !bytes.Equal(buf.Bytes(), fwPayload) {
		t.Errorf("payload = % X, want % X", buf.Bytes(), fwPayload)
	}

	if op := Opcode(buf.Uint8()); op != CommFWVersion {
		t.Errorf("opcode = %s, want FW_VERSION", op)
	}
	fw := DecodeFirmware(buf)
	if fw.Major != 5 || fw.Minor != 0x02 {
		t.Errorf("version = %d.%d, want 5.2", fw.Major, fw.Minor)
	}
	if fw.Hardware != "UNITY" {
		t.Errorf("hardware = %q, want UNITY", fw.Hardware)
	}
}

func TestValidate_Errors(t *testing.T) {
	badCRC := append([]byte(nil), fwFrame...)
	badCRC[len(badCRC)-2] = 0x24

	tests := []struct {
		name string
		data []byte
		want ValidateResult
	}{
		{"bad start", []byte{0x04, 0x01, 0x00, 0x00, 0x00, 0x03}, BadStart},
		{"bad end", []byte{0x02, 0x01, 0x00, 0x00, 0x00, 0xFF}, BadEnd},
		{"bad crc", badCRC, InvalidCRC},
		{"oversized length", []byte{0x03, 0x02, 0x01, 0x00}, BadStart},
		{"empty", []byte{}, Incomplete},
		{"marker only", []byte{0x02}, Incomplete},
		{"long marker half length", []byte{0x03, 0x01}, Incomplete},
		{"truncated payload", fwFrame[:10], Incomplete},
		{"missing end byte", fwFrame[:len(fwFrame)-1], Incomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBufferFrom(tt.data)
			if res := Validate(buf); res != tt.want {
				t.Errorf("Validate = %s, want %s", res, tt.want)
			}
		})
	}
}

func TestValidate_IncompleteRestoresCursor(t *testing.T) {
	frame, _ := EncodeFrame(patternPayload(40))
	split := 17

	buf := NewBuffer(PacketMaxLen)
	buf.Append(frame[:split])
	if res := Validate(buf); res != Incomplete {
		t.Fatalf("first piece: Validate = %s, want INCOMPLETE", res)
	}
	if buf.Len() != split {
		t.Fatalf("Incomplete moved the cursor: Len = %d, want %d", buf.Len(), split)
	}

	buf.Append(frame[split:])
	if res := Validate(buf); res != Valid {
		t.Fatalf("second piece: Validate = %s, want VALID", res)
	}
	if !bytes.Equal(buf.Bytes(), patternPayload(40)) {
		t.Errorf("payload mismatch after split delivery")
	}
}

func TestValidate_ZeroLengthPayload(t *testing.T) {
	frame, _ := EncodeFrame(nil)
	buf := NewBufferFrom(frame)

	if res := Validate(buf); res != Valid {
		t.Fatalf("Validate = %s, want VALID", res)
	}
	if buf.Len() != 0 {
		t.Errorf("payload Len = %d, want 0", buf.Len())
	}
}

// emptyLookalike is a 256 byte payload whose first bytes also read as the
// CRC and end byte of an empty frame.
func emptyLookalike() []byte {
	payload := patternPayload(256)
	copy(payload, []byte{0x00, 0x00, EndByte})
	return payload
}

func TestValidate_WrappedLengthPrefersFullPayload(t *testing.T) {
	payload := emptyLookalike()
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}
	if frame[0] != StartShort || frame[1] != 0x00 {
		t.Fatalf("header = % X, want 02 00", frame[:2])
	}

	buf := NewBufferFrom(frame)
	if res := Validate(buf); res != Valid {
		t.Fatalf("Validate = %s, want VALID", res)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Errorf("payload Len = %d, want 256 matching bytes", buf.Len())
	}
}

func TestValidate_WrappedLengthWaitsForMore(t *testing.T) {
	frame, _ := EncodeFrame(emptyLookalike())

	// The first bytes form a valid empty frame with more data behind it.
	buf := NewBufferFrom(frame[:40])
	if res := Validate(buf); res != Incomplete {
		t.Fatalf("Validate = %s, want INCOMPLETE", res)
	}
	if buf.Len() != 40 {
		t.Errorf("cursor moved: Len = %d, want 40", buf.Len())
	}
}

func TestValidate_EmptyFrameFollowedByFrame(t *testing.T) {
	empty, _ := EncodeFrame(nil)
	next, _ := EncodeFrame(patternPayload(300))

	rx := NewBuffer(PacketMaxLen)
	rx.Append(empty)
	rx.Append(next)

	payload, res := NextFrame(rx)
	if res != Valid || len(payload) != 0 {
		t.Fatalf("first frame: %s len %d, want VALID len 0", res, len(payload))
	}
	payload, res = NextFrame(rx)
	if res != Valid || !bytes.Equal(payload, patternPayload(300)) {
		t.Fatalf("second frame: %s len %d", res, len(payload))
	}
}

func TestValidate_RoundTripAllLengths(t *testing.T) {
	for n := 0; n <= PacketMaxPayloadLen; n++ {
		payload := patternPayload(n)
		frame, err := EncodeFrame(payload)
		if err != nil {
			t.Fatalf("len %d: EncodeFrame error: %v", n, err)
		}

		buf := NewBufferFrom(frame)
		if res := Validate(buf); res != Valid {
			t.Fatalf("len %d: Validate = %s, want VALID", n, res)
		}
		if !bytes.Equal(buf.Bytes(), payload) {
			t.Fatalf("len %d: payload mismatch", n)
		}
	}
}

func TestValidate_SingleBitFlip(t *testing.T) {
	for _, n := range []int{1, 25, 100, 256, 300, PacketMaxPayloadLen} {
		frame, _ := EncodeFrame(patternPayload(n))
		header := 2
		if n > 256 {
			header = 3
		}

		// Every payload bit and every CRC bit.
		for i := header; i < len(frame)-1; i++ {
			for bit := 0; bit < 8; bit++ {
				corrupt := append([]byte(nil), frame...)
				corrupt[i] ^= 1 << bit
				if res := Validate(NewBufferFrom(corrupt)); res != InvalidCRC {
					t.Fatalf("len %d: flip byte %d bit %d: Validate = %s, want INVALID_CRC", n, i, bit, res)
				}
			}
		}
	}
}

// ============================================================
// NextFrame Tests
// ============================================================

func TestNextFrame_KeepsFollowingBytes(t *testing.T) {
	first, _ := EncodeFrame([]byte{0x04})
	second, _ := EncodeFrame([]byte{0x00, 0x01})

	rx := NewBuffer(PacketMaxLen)
	rx.Append(first)
	rx.Append(second[:3])

	payload, res := NextFrame(rx)
	if res != Valid || !bytes.Equal(payload, []byte{0x04}) {
		t.Fatalf("first frame: %s % X", res, payload)
	}
	if !bytes.Equal(rx.Bytes(), second[:3]) {
		t.Fatalf("remaining = % X, want % X", rx.Bytes(), second[:3])
	}

	if _, res := NextFrame(rx); res != Incomplete {
		t.Fatalf("partial second frame: %s, want INCOMPLETE", res)
	}

	rx.Append(second[3:])
	payload, res = NextFrame(rx)
	if res != Valid || !bytes.Equal(payload, []byte{0x00, 0x01}) {
		t.Fatalf("second frame: %s % X", res, payload)
	}
	if rx.Len() != 0 {
		t.Errorf("receive buffer not drained: Len = %d", rx.Len())
	}
}

func TestNextFrame_WrappedLengthChunkedDelivery(t *testing.T) {
	payload := emptyLookalike()
	frame, _ := EncodeFrame(payload)

	rx := NewBuffer(PacketMaxLen)
	for off := 0; off < len(frame); off += 20 {
		rx.Append(frame[off:min(off+20, len(frame))])
		got, res := NextFrame(rx)
		if off+20 < len(frame) {
			if res != Incomplete {
				t.Fatalf("offset %d: %s len %d, want INCOMPLETE", off, res, len(got))
			}
			continue
		}
		if res != Valid || !bytes.Equal(got, payload) {
			t.Fatalf("complete frame: %s len %d", res, len(got))
		}
	}
}

func TestNextFrame_FatalResetsBuffer(t *testing.T) {
	rx := NewBuffer(PacketMaxLen)
	rx.Append([]byte{0x55, 0x02, 0x01, 0x00})

	if _, res := NextFrame(rx); res != BadStart {
		t.Fatalf("NextFrame = %s, want BAD_START", res)
	}
	if rx.Len() != 0 || rx.Available() != rx.Cap() {
		t.Errorf("buffer not reset: Len = %d Available = %d", rx.Len(), rx.Available())
	}
}
