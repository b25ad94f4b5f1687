// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

//go:build linux

package drive

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"
)

const (
	iocGNAME uint = 0x80ff6a13

	evInit uint8 = 0x80
	evAxis uint8 = 0x02

	axisMax = 32767.0
)

// jsEvent is the kernel's struct js_event.
type jsEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

// Joystick reads a Linux joystick device (/dev/input/jsN) into a Stick.
type Joystick struct {
	file  *os.File
	name  string
	stick *Stick

	// Axis numbers for steering and throttle.
	AxisX int
	AxisY int
}

// OpenJoystick opens /dev/input/js<index>.
func OpenJoystick(index int, stick *Stick) (*Joystick, error) {
	path := fmt.Sprintf("/dev/input/js%d", index)
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open joystick %s: %w", path, err)
	}

	j := &Joystick{file: f, stick: stick, AxisX: 0, AxisY: 1}

	var buf [256]byte
	if errno := j.ioctl(iocGNAME, unsafe.Pointer(&buf)); errno == 0 {
		if pos := bytes.IndexByte(buf[:], 0); pos >= 0 {
			j.name = string(buf[:pos])
		}
	}
	return j, nil
}

// Name returns the device name reported by the driver.
func (j *Joystick) Name() string {
	return j.name
}

// Run applies axis events to the stick until the context ends or the device
// fails. The stick is centered on return.
func (j *Joystick) Run(ctx context.Context) error {
	defer j.stick.Center()

	go func() {
		<-ctx.Done()
		j.file.Close()
	}()

	x, y := 0.0, 0.0
	for {
		ev, err := readEvent(j.file)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("joystick read failed: %w", err)
		}
		if ev.Type&^evInit != evAxis {
			continue
		}

		v := float64(ev.Value) / axisMax
		switch int(ev.Number) {
		case j.AxisX:
			x = v
		case j.AxisY:
			// Pushing forward reads negative.
			y = -v
		default:
			continue
		}
		j.stick.Set(x, y)
	}
}

// Close releases the device.
func (j *Joystick) Close() error {
	return j.file.Close()
}

func readEvent(r io.Reader) (jsEvent, error) {
	var ev jsEvent
	err := binary.Read(r, binary.LittleEndian, &ev)
	return ev, err
}

func (j *Joystick) ioctl(req uint, ptr unsafe.Pointer) syscall.Errno {
	_, _, err := syscall.Syscall(syscall.SYS_IOCTL, j.file.Fd(), uintptr(req), uintptr(ptr))
	return err
}
