// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Thermoquad/tandem/pkg/drive"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithInput sets the stick read while paired. Without one the machine
// commands zero duty.
func WithInput(in drive.Input) Option {
	return func(m *Machine) {
		m.input = in
	}
}

// OnStateChange registers fn to be called after every transition. It runs
// on the goroutine that caused the transition and must not block.
func OnStateChange(fn func(from, to State)) Option {
	return func(m *Machine) {
		m.onChange = fn
	}
}

// Machine drives the link lifecycle for one vehicle. Step advances it by at
// most one state; Run steps it until its context ends.
//
// Transport events may arrive on any goroutine. Step and Run must be called
// from a single goroutine.
type Machine struct {
	cfg      Config
	central  Central
	ctrl     *vesc.Controller
	input    drive.Input
	log      *zap.Logger
	onChange func(from, to State)

	mu    sync.Mutex
	state State
	peer  Peer
	conn  Conn
	left  float64
	right float64

	found chan Peer
	lost  chan struct{}
	// lostFlag latches a disconnect until Step consumes it.
	lostFlag atomic.Bool
	// gen increments on every teardown so events from a closed
	// connection are dropped.
	gen atomic.Uint64

	// Owned by the stepping goroutine.
	scanning      bool
	fwSent        int
	fwDeadline    time.Time
	lastTelemetry time.Time
}

// NewMachine creates a machine in StateInit. ctrl receives every notified
// byte and sends every command.
func NewMachine(central Central, ctrl *vesc.Controller, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		cfg:     cfg,
		central: central,
		ctrl:    ctrl,
		log:     zap.NewNop(),
		state:   StateInit,
		found:   make(chan Peer, 1),
		lost:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Peer returns the device being connected to, or nil.
func (m *Machine) Peer() Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// Duties returns the last duty cycles commanded while paired.
func (m *Machine) Duties() (left, right float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.left, m.right
}

// Controller returns the protocol session the machine feeds.
func (m *Machine) Controller() *vesc.Controller {
	return m.ctrl
}

//////////////////////////////////////////////////////////////
// Transport events
//////////////////////////////////////////////////////////////

// OnDeviceFound records the first matching peer of a scan.
func (m *Machine) OnDeviceFound(p Peer) {
	select {
	case m.found <- p:
	default:
	}
}

// OnNotify feeds received bytes to the controller.
func (m *Machine) OnNotify(data []byte) {
	m.ctrl.Receive(data)
}

// OnDisconnect signals link loss. The next Step moves to StateDisconnected
// from whatever state the machine is in.
func (m *Machine) OnDisconnect() {
	m.lostFlag.Store(true)
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// connHandler forwards events of one connection while it is current.
type connHandler struct {
	m   *Machine
	gen uint64
}

func (h connHandler) current() bool {
	return h.m.gen.Load() == h.gen
}

func (h connHandler) OnDeviceFound(p Peer) {
	h.m.OnDeviceFound(p)
}

func (h connHandler) OnNotify(data []byte) {
	if h.current() {
		h.m.OnNotify(data)
	}
}

func (h connHandler) OnDisconnect() {
	if h.current() {
		h.m.OnDisconnect()
	} else {
		h.m.log.Debug("stale disconnect ignored")
	}
}

//////////////////////////////////////////////////////////////
// Stepping
//////////////////////////////////////////////////////////////

// Run steps the machine every TickInterval until ctx ends, then stops the
// motors and closes the link.
func (m *Machine) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	defer m.shutdown()

	for {
		m.Step(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step performs the work of the current state and returns the state after
// it. Scanning blocks until a peer is found, the scan times out, or ctx
// ends.
func (m *Machine) Step(ctx context.Context) State {
	if m.lostFlag.Swap(false) {
		if from := m.State(); from != StateDisconnected {
			m.log.Warn("link lost", zap.Stringer("state", from))
			m.transition(StateDisconnected)
			return StateDisconnected
		}
	}

	switch m.State() {
	case StateInit:
		m.stepInit()
	case StateScanning:
		m.stepScanning(ctx)
	case StateFoundDevice:
		m.stepFoundDevice(ctx)
	case StateConnected:
		m.stepConnected()
	case StateReadingDeviceInfo:
		m.stepReadingDeviceInfo()
	case StatePaired:
		m.stepPaired(ctx)
	case StateDisconnected:
		m.stepDisconnected(ctx)
	}
	return m.State()
}

// transition moves to the given state. With from states listed, it only
// moves when the current state is one of them.
func (m *Machine) transition(to State, from ...State) bool {
	m.mu.Lock()
	prev := m.state
	if len(from) > 0 && !slices.Contains(from, prev) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	hook := m.onChange
	m.mu.Unlock()

	if prev != to {
		m.log.Debug("state", zap.Stringer("from", prev), zap.Stringer("to", to))
		if hook != nil {
			hook(prev, to)
		}
	}
	return true
}

func (m *Machine) stepInit() {
	m.fwSent = 0
	m.lastTelemetry = time.Time{}
	m.transition(StateScanning)
}

func (m *Machine) stepScanning(ctx context.Context) {
	if !m.scanning {
		drain(m.found)
		drain(m.lost)
		if err := m.central.StartScan(m.cfg.Filter, m); err != nil {
			m.log.Warn("scan failed", zap.Error(err))
			sleep(ctx, m.cfg.DisconnectBackoff)
			return
		}
		m.scanning = true
		m.log.Info("scanning", zap.String("service", m.cfg.Filter.ServiceUUID),
			zap.String("prefix", m.cfg.Filter.NamePrefix))
	}

	timer := time.NewTimer(m.cfg.ScanTimeout)
	defer timer.Stop()

	select {
	case p := <-m.found:
		m.stopScan()
		m.mu.Lock()
		m.peer = p
		m.mu.Unlock()
		m.log.Info("found device", zap.String("address", p.Address()), zap.String("name", p.Name()))
		m.transition(StateFoundDevice, StateScanning)
	case <-timer.C:
		m.log.Info("scan timeout, restarting", zap.Duration("timeout", m.cfg.ScanTimeout))
		m.stopScan()
	case <-m.lost:
	case <-ctx.Done():
	}
}

func (m *Machine) stepFoundDevice(ctx context.Context) {
	if err := m.open(ctx); err != nil {
		// Disconnected applies the backoff before the next scan.
		m.log.Warn("connect failed", zap.Error(err))
		m.teardown()
		m.transition(StateDisconnected, StateFoundDevice)
		return
	}
	m.transition(StateConnected, StateFoundDevice)
}

// open connects to the found peer and wires its characteristics to the
// controller.
func (m *Machine) open(ctx context.Context) error {
	p := m.Peer()
	if p == nil {
		return errors.New("no peer")
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	h := connHandler{m: m, gen: m.gen.Load()}
	conn, err := m.central.Connect(cctx, p, h)
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.Address(), err)
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	svc, err := conn.Service(m.cfg.ServiceUUID)
	if err != nil {
		return fmt.Errorf("resolve service %s: %w", m.cfg.ServiceUUID, err)
	}
	write, err := svc.Characteristic(m.cfg.WriteUUID)
	if err != nil {
		return fmt.Errorf("resolve write characteristic %s: %w", m.cfg.WriteUUID, err)
	}
	notify, err := svc.Characteristic(m.cfg.NotifyUUID)
	if err != nil {
		return fmt.Errorf("resolve notify characteristic %s: %w", m.cfg.NotifyUUID, err)
	}

	m.ctrl.ResetReceive()
	if err := notify.EnableNotifications(h.OnNotify); err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}
	m.ctrl.SetTransmitter(func(frame []byte, _ bool) error {
		return write.Write(frame)
	})

	m.log.Info("connected", zap.String("address", p.Address()))
	return nil
}

func (m *Machine) stepConnected() {
	m.fwSent = 0
	m.transition(StateReadingDeviceInfo, StateConnected)
}

// stepReadingDeviceInfo sends FW_VERSION and resends it when a response
// does not arrive in time. The response handler advances to StatePaired.
func (m *Machine) stepReadingDeviceInfo() {
	now := time.Now()
	if m.fwSent > 0 && now.Before(m.fwDeadline) {
		return
	}
	if m.fwSent >= m.cfg.FirmwareRetries {
		m.log.Warn("no firmware response", zap.Int("attempts", m.fwSent))
		m.transition(StateDisconnected, StateReadingDeviceInfo)
		return
	}

	if m.fwSent == 0 {
		m.ctrl.SetCallback(vesc.CommFWVersion, m.onFirmware)
	}
	m.fwSent++
	m.fwDeadline = now.Add(m.cfg.FirmwareTimeout)
	m.log.Debug("requesting firmware", zap.Int("attempt", m.fwSent))
	m.ctrl.RequestFirmware()
}

func (m *Machine) onFirmware(vesc.Opcode, *vesc.Buffer) {
	m.ctrl.ClearCallback(vesc.CommFWVersion)
	if m.transition(StatePaired, StateReadingDeviceInfo) {
		fw := m.ctrl.Firmware()
		m.log.Info("paired", zap.String("firmware", fw.Version()), zap.String("hardware", fw.Hardware))
	}
}

func (m *Machine) stepPaired(ctx context.Context) {
	now := time.Now()
	if now.Sub(m.lastTelemetry) >= m.cfg.TelemetryInterval {
		mask := m.cfg.TelemetryMask | vesc.ValueVescID
		m.ctrl.GetValues(mask, 0)
		m.ctrl.GetSecondaryValues(mask)
		m.lastTelemetry = now
	}

	var x, y float64
	if m.input != nil {
		x, y = m.input.Axes()
	}
	left, right := drive.Mix(x, y, m.cfg.Mixer)
	m.ctrl.SetDuties(left, right)

	m.mu.Lock()
	m.left, m.right = left, right
	m.mu.Unlock()

	sleep(ctx, m.cfg.PairedPacing)
}

func (m *Machine) stepDisconnected(ctx context.Context) {
	m.teardown()
	sleep(ctx, m.cfg.DisconnectBackoff)
	m.transition(StateInit, StateDisconnected)
}

//////////////////////////////////////////////////////////////
// Teardown
//////////////////////////////////////////////////////////////

func (m *Machine) stopScan() {
	if !m.scanning {
		return
	}
	m.scanning = false
	if err := m.central.StopScan(); err != nil {
		m.log.Debug("stop scan", zap.Error(err))
	}
}

// teardown releases everything a connection attempt acquired. Events from
// the closed connection are ignored afterwards.
func (m *Machine) teardown() {
	m.gen.Add(1)
	m.ctrl.ClearTransmitter()
	m.ctrl.ClearCallback(vesc.CommFWVersion)
	m.ctrl.ResetReceive()

	var err error
	if m.scanning {
		m.scanning = false
		err = multierr.Append(err, m.central.StopScan())
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.peer = nil
	m.left, m.right = 0, 0
	m.mu.Unlock()

	if conn != nil {
		err = multierr.Append(err, conn.Close())
	}
	m.fwSent = 0

	if err != nil {
		m.log.Warn("teardown", zap.Error(err))
	}
}

// shutdown stops both motors before closing the link.
func (m *Machine) shutdown() {
	if m.State() == StatePaired {
		m.ctrl.SetDuties(0, 0)
	}
	m.teardown()
	m.transition(StateInit)
	m.log.Info("link closed")
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
