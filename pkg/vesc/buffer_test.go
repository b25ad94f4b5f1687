// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", []byte{}, 0x0000},
		{"single zero", []byte{0x00}, 0x0000},
		{"ASCII '123456789'", []byte("123456789"), 0x31C3}, // XMODEM check value
		{"Hello!", []byte("Hello!"), 0x8A64},
		{"firmware response", fwPayload, 0x5B23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestBuffer_CRCCoversUnreadRegion(t *testing.T) {
	buf := NewBufferFrom(append([]byte{0xAA, 0xBB}, "123456789"...))
	buf.Advance(2)
	if crc := buf.CRC(); crc != 0x31C3 {
		t.Errorf("CRC = 0x%04X, want 0x31C3", crc)
	}
}

// ============================================================
// Integer Tests
// ============================================================

func TestBuffer_ByteOrder(t *testing.T) {
	buf := NewBuffer(4)
	if err := buf.AppendUint32(0x11223344); err != nil {
		t.Fatalf("AppendUint32 error: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), []byte{0x11, 0x22, 0x33, 0x44}) {
		t.Fatalf("Bytes = % X, want 11 22 33 44", buf.Bytes())
	}
	for _, want := range []uint8{0x11, 0x22, 0x33, 0x44} {
		if got := buf.Uint8(); got != want {
			t.Errorf("Uint8 = 0x%02X, want 0x%02X", got, want)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("Len = %d after reading everything", buf.Len())
	}
}

func TestBuffer_IntRoundTrip(t *testing.T) {
	buf := NewBuffer(4)
	buf.AppendInt32(-10223932)

	if !bytes.Equal(buf.Bytes(), []byte{0xFF, 0x63, 0xFE, 0xC4}) {
		t.Errorf("Bytes = % X, want FF 63 FE C4", buf.Bytes())
	}
	if got := buf.Int32(); got != -10223932 {
		t.Errorf("Int32 = %d, want -10223932", got)
	}
}

func TestBuffer_MixedSequence(t *testing.T) {
	buf := NewBuffer(32)
	buf.AppendUint8(0xAB)
	buf.AppendInt16(-1234)
	buf.AppendUint32(0xDEADBEEF)
	buf.AppendFloat32(3.1415926)
	buf.AppendInt8(-7)
	buf.AppendUint16(0xBEEF)
	buf.AppendInt32(math.MinInt32)

	if buf.Len() != 1+2+4+4+1+2+4 {
		t.Fatalf("Len = %d", buf.Len())
	}
	if got := buf.Uint8(); got != 0xAB {
		t.Errorf("Uint8 = 0x%02X", got)
	}
	if got := buf.Int16(); got != -1234 {
		t.Errorf("Int16 = %d", got)
	}
	if got := buf.Uint32(); got != 0xDEADBEEF {
		t.Errorf("Uint32 = 0x%08X", got)
	}
	if got := buf.Float32(); got != float32(3.1415926) {
		t.Errorf("Float32 = %v", got)
	}
	if got := buf.Int8(); got != -7 {
		t.Errorf("Int8 = %d", got)
	}
	if got := buf.Uint16(); got != 0xBEEF {
		t.Errorf("Uint16 = 0x%04X", got)
	}
	if got := buf.Int32(); got != math.MinInt32 {
		t.Errorf("Int32 = %d", got)
	}
}

func TestBuffer_ShortReadReturnsZero(t *testing.T) {
	buf := NewBufferFrom([]byte{0x01, 0x02, 0x03})

	if got := buf.Uint32(); got != 0 {
		t.Errorf("Uint32 on 3 bytes = %d, want 0", got)
	}
	if buf.Len() != 3 {
		t.Errorf("short read moved the read position: Len = %d", buf.Len())
	}
	if got := buf.Float32(); got != 0 {
		t.Errorf("Float32 on 3 bytes = %v, want 0", got)
	}
	if got := buf.Take(4); got != nil {
		t.Errorf("Take(4) = % X, want nil", got)
	}
}

// ============================================================
// Float Tests
// ============================================================

func TestBuffer_FloatRoundTrip(t *testing.T) {
	values := []float32{-3.2435234, 3.1415926, 23984.0, 0, 1, -1, 0.5, 1e-20, 6.02e23}

	for _, v := range values {
		buf := NewBuffer(4)
		buf.AppendFloat32(v)
		if got := buf.Float32(); got != v {
			t.Errorf("Float32 round trip of %v = %v", v, got)
		}
	}
}

func TestBuffer_FloatMatchesIEEE754(t *testing.T) {
	values := []float32{1, -2.5, 3.1415926, -3.2435234, 23984.0, 1e-20, 6.02e23, 0}

	for _, v := range values {
		if got, want := encodeFloat32(v), math.Float32bits(v); got != want {
			t.Errorf("encodeFloat32(%v) = 0x%08X, want 0x%08X", v, got, want)
		}
	}
}

// ============================================================
// Fixed Point Tests
// ============================================================

func TestBuffer_FixedPoint(t *testing.T) {
	tests := []struct {
		name  string
		write func(b *Buffer)
		width int
		scale float64
		want  float64
	}{
		{"positive temp", func(b *Buffer) { b.AppendInt16(253) }, 2, 10, 25.3},
		{"negative temp", func(b *Buffer) { b.AppendInt16(-10) }, 2, 10, -1.0},
		{"current", func(b *Buffer) { b.AppendInt32(123456) }, 4, 100, 1234.56},
		{"negative current", func(b *Buffer) { b.AppendInt32(-250) }, 4, 100, -2.5},
		{"duty", func(b *Buffer) { b.AppendInt16(-950) }, 2, 1000, -0.95},
		{"single byte", func(b *Buffer) { b.AppendInt8(-3) }, 1, 1, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBuffer(8)
			tt.write(buf)
			if got := buf.FixedPoint(tt.width, tt.scale); got != tt.want {
				t.Errorf("FixedPoint(%d, %v) = %v, want %v", tt.width, tt.scale, got, tt.want)
			}
		})
	}
}

// ============================================================
// String Tests
// ============================================================

func TestBuffer_NullTerminatedString(t *testing.T) {
	buf := NewBufferFrom([]byte("UNITY\x00rest"))

	if got := buf.NullTerminatedString(); got != "UNITY" {
		t.Errorf("string = %q, want UNITY", got)
	}
	if !bytes.Equal(buf.Bytes(), []byte("rest")) {
		t.Errorf("remaining = %q, want rest", buf.Bytes())
	}
}

func TestBuffer_NullTerminatedStringMissingTerminator(t *testing.T) {
	buf := NewBufferFrom([]byte("UNITY"))

	if got := buf.NullTerminatedString(); got != unknownString {
		t.Errorf("string = %q, want %q", got, unknownString)
	}
	if buf.Len() != 5 {
		t.Errorf("missing terminator consumed bytes: Len = %d", buf.Len())
	}
}

// ============================================================
// Positioning Tests
// ============================================================

func TestBuffer_AppendOverflow(t *testing.T) {
	buf := NewBuffer(3)
	buf.AppendUint16(0x0102)

	err := buf.AppendUint16(0x0304)
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("AppendUint16 error = %v, want ErrBufferFull", err)
	}
	if buf.Len() != 2 {
		t.Errorf("failed append wrote bytes: Len = %d", buf.Len())
	}
	if err := buf.Append([]byte{1, 2}); !errors.Is(err, ErrBufferFull) {
		t.Errorf("Append error = %v, want ErrBufferFull", err)
	}
}

func TestBuffer_Positioning(t *testing.T) {
	buf := NewBufferFrom([]byte{1, 2, 3, 4, 5, 6})

	buf.Advance(2)
	buf.Truncate(1)
	if !bytes.Equal(buf.Bytes(), []byte{3, 4, 5}) {
		t.Errorf("after Advance/Truncate = %v", buf.Bytes())
	}

	buf.Rewind()
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3, 4, 5}) {
		t.Errorf("after Rewind = %v", buf.Bytes())
	}

	buf.Advance(100)
	if buf.Len() != 0 {
		t.Errorf("Advance past end: Len = %d", buf.Len())
	}

	buf.Reset()
	if buf.Len() != 0 || buf.Available() != 6 {
		t.Errorf("after Reset Len = %d Available = %d", buf.Len(), buf.Available())
	}
}

func TestBuffer_Compact(t *testing.T) {
	buf := NewBuffer(4)
	buf.Append([]byte{1, 2, 3, 4})
	buf.Advance(3)
	if buf.Available() != 0 {
		t.Fatalf("Available = %d, want 0", buf.Available())
	}

	buf.Compact()
	if buf.Available() != 3 || !bytes.Equal(buf.Bytes(), []byte{4}) {
		t.Errorf("after Compact Available = %d Bytes = %v", buf.Available(), buf.Bytes())
	}
	if err := buf.Append([]byte{5, 6, 7}); err != nil {
		t.Errorf("Append after Compact: %v", err)
	}
}

func TestBuffer_ViewDoesNotMoveOwner(t *testing.T) {
	buf := NewBufferFrom([]byte{1, 2, 3})
	view := buf.View()

	view.Uint16()
	view.Truncate(1)
	if buf.Len() != 3 {
		t.Errorf("owner Len = %d after reading the view", buf.Len())
	}
}
