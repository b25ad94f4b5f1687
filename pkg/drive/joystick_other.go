// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

//go:build !linux

package drive

import (
	"context"
	"errors"
)

// ErrUnsupported is returned where no joystick driver exists.
var ErrUnsupported = errors.New("joystick devices are only supported on linux")

// Joystick is unavailable on this platform.
type Joystick struct{}

func OpenJoystick(index int, stick *Stick) (*Joystick, error) {
	return nil, ErrUnsupported
}

func (j *Joystick) Name() string                  { return "" }
func (j *Joystick) Run(ctx context.Context) error { return ErrUnsupported }
func (j *Joystick) Close() error                  { return nil }
