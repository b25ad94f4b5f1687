// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package drive

import "sync"

// Input supplies the current stick position, each axis -1 to 1.
type Input interface {
	Axes() (x, y float64)
}

// Stick is an Input whose position is set by another goroutine, such as a
// keyboard handler or a joystick device reader.
type Stick struct {
	mu   sync.RWMutex
	x, y float64
}

// Axes implements Input.
func (s *Stick) Axes() (x, y float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.x, s.y
}

// Set moves the stick, clamping each axis.
func (s *Stick) Set(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x = clampUnit(x)
	s.y = clampUnit(y)
}

// Nudge moves the stick by a delta and returns the new position.
func (s *Stick) Nudge(dx, dy float64) (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x = clampUnit(s.x + dx)
	s.y = clampUnit(s.y + dy)
	return s.x, s.y
}

// Center returns the stick to rest.
func (s *Stick) Center() {
	s.Set(0, 0)
}

// Limiter scales another Input to give slower speed modes. A scale of 1
// passes the stick through unchanged.
type Limiter struct {
	in Input

	mu    sync.RWMutex
	scale float64
}

// NewLimiter wraps in with the given scale.
func NewLimiter(in Input, scale float64) *Limiter {
	l := &Limiter{in: in}
	l.SetScale(scale)
	return l
}

// SetScale sets the scale, clamped to 0-1.
func (l *Limiter) SetScale(scale float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scale = max(0, clampUnit(scale))
}

// Scale returns the current scale.
func (l *Limiter) Scale() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scale
}

// Axes implements Input.
func (l *Limiter) Axes() (x, y float64) {
	x, y = l.in.Axes()
	s := l.Scale()
	return x * s, y * s
}
