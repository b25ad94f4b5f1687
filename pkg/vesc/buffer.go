// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package vesc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// ErrBufferFull is returned when an append does not fit the remaining capacity.
var ErrBufferFull = errors.New("buffer full")

// Buffer is a fixed-capacity byte store with independent read and write
// positions. Appends go to the write position, getters consume from the read
// position. All multi-byte values are big-endian.
//
// Getters never panic: when fewer bytes remain than requested they return the
// zero value and leave the read position where it was. Callers that care
// check Len first.
type Buffer struct {
	data []byte
	rd   int
	wr   int
}

// NewBuffer creates an empty buffer that can hold capacity bytes
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewBufferFrom creates a buffer holding a copy of p, ready to be read
func NewBufferFrom(p []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(p)), wr: len(p)}
	copy(b.data, p)
	return b
}

// View returns a buffer sharing storage with b. Reads and trims on the view
// do not move b's positions.
func (b *Buffer) View() *Buffer {
	return &Buffer{data: b.data, rd: b.rd, wr: b.wr}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.wr - b.rd }

// Available returns how many more bytes can be appended.
func (b *Buffer) Available() int { return len(b.data) - b.wr }

// Bytes returns the unread region. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.rd:b.wr] }

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.rd = 0
	b.wr = 0
}

// Rewind moves the read position back to the start of the stored data.
func (b *Buffer) Rewind() { b.rd = 0 }

// Advance skips n unread bytes.
func (b *Buffer) Advance(n int) {
	b.rd += clamp(n, b.Len())
}

// Truncate drops the last n unread bytes.
func (b *Buffer) Truncate(n int) {
	b.wr -= clamp(n, b.Len())
}

// Compact moves the unread bytes to the front so the freed space can be
// appended to again.
func (b *Buffer) Compact() {
	if b.rd == 0 {
		return
	}
	n := copy(b.data, b.data[b.rd:b.wr])
	b.rd = 0
	b.wr = n
}

func clamp(n, limit int) int {
	if n < 0 {
		return 0
	}
	return min(n, limit)
}

//////////////////////////////////////////////////////////////
// Append
//////////////////////////////////////////////////////////////

func (b *Buffer) grow(n int) ([]byte, error) {
	if b.Available() < n {
		return nil, ErrBufferFull
	}
	p := b.data[b.wr : b.wr+n]
	b.wr += n
	return p, nil
}

// Append copies p in full or not at all.
func (b *Buffer) Append(p []byte) error {
	dst, err := b.grow(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

func (b *Buffer) AppendUint8(v uint8) error {
	dst, err := b.grow(1)
	if err != nil {
		return err
	}
	dst[0] = v
	return nil
}

func (b *Buffer) AppendUint16(v uint16) error {
	dst, err := b.grow(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(dst, v)
	return nil
}

func (b *Buffer) AppendUint32(v uint32) error {
	dst, err := b.grow(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(dst, v)
	return nil
}

func (b *Buffer) AppendInt8(v int8) error   { return b.AppendUint8(uint8(v)) }
func (b *Buffer) AppendInt16(v int16) error { return b.AppendUint16(uint16(v)) }
func (b *Buffer) AppendInt32(v int32) error { return b.AppendUint32(uint32(v)) }

// AppendFloat32 writes v in the portable 1+8+23 bit layout.
func (b *Buffer) AppendFloat32(v float32) error {
	return b.AppendUint32(encodeFloat32(v))
}

//////////////////////////////////////////////////////////////
// Get
//////////////////////////////////////////////////////////////

func (b *Buffer) take(n int) []byte {
	if n < 0 || b.Len() < n {
		return nil
	}
	p := b.data[b.rd : b.rd+n]
	b.rd += n
	return p
}

func (b *Buffer) Uint8() uint8 {
	p := b.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (b *Buffer) Uint16() uint16 {
	p := b.take(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

func (b *Buffer) Uint32() uint32 {
	p := b.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (b *Buffer) Int8() int8   { return int8(b.Uint8()) }
func (b *Buffer) Int16() int16 { return int16(b.Uint16()) }
func (b *Buffer) Int32() int32 { return int32(b.Uint32()) }

// Float32 reads a value written by AppendFloat32.
func (b *Buffer) Float32() float32 {
	if b.Len() < 4 {
		return 0
	}
	return decodeFloat32(b.Uint32())
}

// FixedPoint reads width bytes as a signed big-endian integer and returns it
// divided by scale. Width is 1 to 8.
func (b *Buffer) FixedPoint(width int, scale float64) float64 {
	if width < 1 || width > 8 {
		return 0
	}
	p := b.take(width)
	if p == nil {
		return 0
	}
	var v int64
	for _, c := range p {
		v = v<<8 | int64(c)
	}
	shift := uint(64 - 8*width)
	v = v << shift >> shift
	return float64(v) / scale
}

// NullTerminatedString reads bytes up to a zero byte and consumes the
// terminator. Without a terminator it returns a placeholder and consumes
// nothing.
func (b *Buffer) NullTerminatedString() string {
	i := bytes.IndexByte(b.Bytes(), 0)
	if i < 0 {
		return unknownString
	}
	s := string(b.data[b.rd : b.rd+i])
	b.rd += i + 1
	return s
}

// Take consumes n bytes and returns a copy of them, or nil when fewer remain.
func (b *Buffer) Take(n int) []byte {
	p := b.take(n)
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

// CRC returns the frame checksum of the unread region.
func (b *Buffer) CRC() uint16 {
	return CalculateCRC(b.Bytes())
}

//////////////////////////////////////////////////////////////
// Portable float32
//////////////////////////////////////////////////////////////

const floatMantissaScale = 8388608.0 // 2^23

func encodeFloat32(v float32) uint32 {
	frac, exp := math.Frexp(float64(v))
	fracAbs := math.Abs(frac)

	var mantissa uint32
	if fracAbs >= 0.5 {
		mantissa = uint32((fracAbs - 0.5) * 2.0 * floatMantissaScale)
		exp += 126
	}

	res := uint32(exp&0xFF)<<23 | mantissa&0x7FFFFF
	if frac < 0 {
		res |= 1 << 31
	}
	return res
}

func decodeFloat32(res uint32) float32 {
	exp := int((res >> 23) & 0xFF)
	mantissa := res & 0x7FFFFF

	var frac float64
	if exp != 0 || mantissa != 0 {
		frac = float64(mantissa)/(2.0*floatMantissaScale) + 0.5
		exp -= 126
	}
	if res&(1<<31) != 0 {
		frac = -frac
	}
	return float32(math.Ldexp(frac, exp))
}
