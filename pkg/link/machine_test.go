// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package link_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/tandem/pkg/drive"
	"github.com/Thermoquad/tandem/pkg/link"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

// ============================================================================
// Fake central
// ============================================================================

type fakePeer struct{ addr, name string }

func (p fakePeer) Address() string { return p.addr }
func (p fakePeer) Name() string    { return p.name }

type fakeChar struct {
	mu      sync.Mutex
	writes  [][]byte
	notify  func([]byte)
	onWrite func(frame []byte)
}

func (c *fakeChar) Write(p []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, bytes.Clone(p))
	fn := c.onWrite
	c.mu.Unlock()
	if fn != nil {
		fn(p)
	}
	return nil
}

func (c *fakeChar) EnableNotifications(fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
	return nil
}

func (c *fakeChar) push(data []byte) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// payloads decodes every written frame.
func (c *fakeChar) payloads(t *testing.T) [][]byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, frame := range c.writes {
		buf := vesc.NewBufferFrom(frame)
		require.Equal(t, vesc.Valid, vesc.Validate(buf))
		out = append(out, bytes.Clone(buf.Bytes()))
	}
	return out
}

func (c *fakeChar) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

type fakeService struct {
	chars map[string]*fakeChar
}

func (s *fakeService) Characteristic(uuid string) (link.Characteristic, error) {
	if c, ok := s.chars[uuid]; ok {
		return c, nil
	}
	return nil, link.ErrCharacteristicNotFound
}

type fakeConn struct {
	mu       sync.Mutex
	services map[string]*fakeService
	closed   int
}

func (c *fakeConn) Service(uuid string) (link.Service, error) {
	if s, ok := c.services[uuid]; ok {
		return s, nil
	}
	return nil, link.ErrServiceNotFound
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeCentral struct {
	mu          sync.Mutex
	peers       []link.Peer
	scans       int
	stops       int
	connectErr  error
	conn        *fakeConn
	connHandler link.Handler
}

func (c *fakeCentral) StartScan(_ link.ScanFilter, h link.Handler) error {
	c.mu.Lock()
	c.scans++
	peers := c.peers
	c.mu.Unlock()
	for _, p := range peers {
		h.OnDeviceFound(p)
	}
	return nil
}

func (c *fakeCentral) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeCentral) Connect(_ context.Context, _ link.Peer, h link.Handler) (link.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.connHandler = h
	return c.conn, nil
}

func (c *fakeCentral) counts() (scans, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans, c.stops
}

// ============================================================================
// Vehicle fixture
// ============================================================================

// firmwareFrame is a FW_VERSION 6.2 response.
var firmwareFrame = func() []byte {
	payload := []byte{0x00, 0x06, 0x02, 'T', 'Q', 0x00}
	payload = append(payload, bytes.Repeat([]byte{0xAB}, 12)...)
	payload = append(payload, 0x00, 0x00, 0x00, 0x01)
	frame, err := vesc.EncodeFrame(payload)
	if err != nil {
		panic(err)
	}
	return frame
}()

type vehicle struct {
	central *fakeCentral
	conn    *fakeConn
	rx      *fakeChar
	tx      *fakeChar
	ctrl    *vesc.Controller
	stick   *drive.Stick

	mu          sync.Mutex
	transitions []string
}

// newVehicle builds a machine attached to a fake vehicle. With answer set
// the vehicle responds to FW_VERSION requests.
func newVehicle(t *testing.T, answer bool) (*vehicle, *link.Machine) {
	v := &vehicle{
		rx:    &fakeChar{},
		tx:    &fakeChar{},
		stick: &drive.Stick{},
	}
	v.conn = &fakeConn{services: map[string]*fakeService{
		link.ServiceUUID: {chars: map[string]*fakeChar{
			link.RXCharUUID: v.rx,
			link.TXCharUUID: v.tx,
		}},
	}}
	v.central = &fakeCentral{
		peers: []link.Peer{fakePeer{addr: "C0:FF:EE:00:00:01", name: "Tandem"}},
		conn:  v.conn,
	}
	if answer {
		fwRequest := mustFrame(t, []byte{byte(vesc.CommFWVersion)})
		v.rx.onWrite = func(frame []byte) {
			if bytes.Equal(frame, fwRequest) {
				v.tx.push(firmwareFrame)
			}
		}
	}

	v.ctrl = vesc.NewController(vesc.DefaultConfig())
	m := link.NewMachine(v.central, v.ctrl, testConfig(),
		link.WithLogger(zaptest.NewLogger(t)),
		link.WithInput(v.stick),
		link.OnStateChange(func(from, to link.State) {
			v.mu.Lock()
			defer v.mu.Unlock()
			v.transitions = append(v.transitions, from.String()+">"+to.String())
		}))
	return v, m
}

func (v *vehicle) history() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.transitions...)
}

func testConfig() link.Config {
	cfg := link.DefaultConfig()
	cfg.ScanTimeout = 20 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.FirmwareTimeout = 5 * time.Millisecond
	cfg.TelemetryInterval = time.Hour
	cfg.PairedPacing = 0
	cfg.DisconnectBackoff = 0
	cfg.TickInterval = time.Millisecond
	cfg.Mixer = drive.MixerConfig{TurnScale: 0.5, MaxDuty: 1}
	return cfg
}

func mustFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	frame, err := vesc.EncodeFrame(payload)
	require.NoError(t, err)
	return frame
}

// stepUntil steps m until it reaches want. Waiting states need wall time
// to pass, so steps are paced.
func stepUntil(t *testing.T, m *link.Machine, want link.State) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want && time.Now().Before(deadline) {
		m.Step(ctx)
		if m.State() != want {
			time.Sleep(time.Millisecond)
		}
	}
	require.Equal(t, want, m.State(), "state not reached")
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestMachine_HappyPathToPaired(t *testing.T) {
	v, m := newVehicle(t, true)
	ctx := context.Background()

	assert.Equal(t, link.StateInit, m.State())
	assert.Equal(t, link.StateScanning, m.Step(ctx))
	assert.Equal(t, link.StateFoundDevice, m.Step(ctx))
	assert.Equal(t, "C0:FF:EE:00:00:01", m.Peer().Address())
	assert.Equal(t, link.StateConnected, m.Step(ctx))
	assert.Equal(t, link.StateReadingDeviceInfo, m.Step(ctx))
	assert.Equal(t, link.StatePaired, m.Step(ctx))

	assert.Equal(t, []string{
		"INIT>SCANNING",
		"SCANNING>FOUND_DEVICE",
		"FOUND_DEVICE>CONNECTED",
		"CONNECTED>READING_DEVICE_INFO",
		"READING_DEVICE_INFO>PAIRED",
	}, v.history())

	scans, stops := v.central.counts()
	assert.Equal(t, 1, scans)
	assert.Equal(t, 1, stops)
	assert.True(t, v.ctrl.Connected())
	assert.Equal(t, "6.2", v.ctrl.Firmware().Version())
	assert.Equal(t, "TQ", v.ctrl.Firmware().Hardware)
}

func TestMachine_PairedSendsTelemetryAndDuty(t *testing.T) {
	v, m := newVehicle(t, true)
	stepUntil(t, m, link.StatePaired)
	v.rx.clear()

	v.stick.Set(0, 0.5)
	assert.Equal(t, link.StatePaired, m.Step(context.Background()))

	assert.Equal(t, [][]byte{
		{0x04},
		{0x22, 0x49, 0x04},
		{0x05, 0x00, 0x00, 0xC3, 0x50},
		{0x22, 0x49, 0x05, 0x00, 0x00, 0xC3, 0x50},
	}, v.rx.payloads(t))

	left, right := m.Duties()
	assert.InDelta(t, 0.5, left, 1e-9)
	assert.InDelta(t, 0.5, right, 1e-9)

	// Telemetry is rate limited; duty is not.
	v.rx.clear()
	m.Step(context.Background())
	assert.Len(t, v.rx.payloads(t), 2)
}

func TestMachine_ScanTimeoutReentersScanning(t *testing.T) {
	v, m := newVehicle(t, true)
	v.central.peers = nil
	ctx := context.Background()

	m.Step(ctx)
	start := time.Now()
	assert.Equal(t, link.StateScanning, m.Step(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	scans, stops := v.central.counts()
	assert.Equal(t, 1, scans)
	assert.Equal(t, 1, stops)

	m.Step(ctx)
	scans, _ = v.central.counts()
	assert.Equal(t, 2, scans)
}

func TestMachine_ScanHonorsContext(t *testing.T) {
	v, m := newVehicle(t, true)
	v.central.peers = nil
	cfg := testConfig()
	cfg.ScanTimeout = time.Hour
	m = link.NewMachine(v.central, v.ctrl, cfg)

	m.Step(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, link.StateScanning, m.Step(ctx))
}

// backoffMachine rebuilds the machine of v with a measurable disconnect
// backoff.
func backoffMachine(v *vehicle, backoff time.Duration) *link.Machine {
	cfg := testConfig()
	cfg.DisconnectBackoff = backoff
	return link.NewMachine(v.central, v.ctrl, cfg)
}

func TestMachine_ConnectFailureBacksOff(t *testing.T) {
	v, _ := newVehicle(t, true)
	v.central.connectErr = errors.New("out of range")
	m := backoffMachine(v, 30*time.Millisecond)
	ctx := context.Background()

	stepUntil(t, m, link.StateFoundDevice)
	assert.Equal(t, link.StateDisconnected, m.Step(ctx))
	assert.Nil(t, m.Peer())
	assert.False(t, v.ctrl.Connected())

	start := time.Now()
	assert.Equal(t, link.StateInit, m.Step(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMachine_ConnectFailureHistory(t *testing.T) {
	v, m := newVehicle(t, true)
	v.central.connectErr = errors.New("out of range")

	stepUntil(t, m, link.StateFoundDevice)
	m.Step(context.Background())
	m.Step(context.Background())

	assert.Equal(t, []string{
		"INIT>SCANNING",
		"SCANNING>FOUND_DEVICE",
		"FOUND_DEVICE>DISCONNECTED",
		"DISCONNECTED>INIT",
	}, v.history())
}

func TestMachine_ResolutionFailureBacksOff(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *vehicle)
	}{
		{"missing service", func(v *vehicle) { delete(v.conn.services, link.ServiceUUID) }},
		{"missing rx", func(v *vehicle) { delete(v.conn.services[link.ServiceUUID].chars, link.RXCharUUID) }},
		{"missing tx", func(v *vehicle) { delete(v.conn.services[link.ServiceUUID].chars, link.TXCharUUID) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newVehicle(t, true)
			tt.mutate(v)
			m := backoffMachine(v, 20*time.Millisecond)
			ctx := context.Background()

			stepUntil(t, m, link.StateFoundDevice)
			assert.Equal(t, link.StateDisconnected, m.Step(ctx))
			assert.Equal(t, 1, v.conn.closeCount())
			assert.False(t, v.ctrl.Connected())

			start := time.Now()
			assert.Equal(t, link.StateInit, m.Step(ctx))
			assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
			assert.Equal(t, 1, v.conn.closeCount())
		})
	}
}

func TestMachine_FirmwareRetriesThenDisconnects(t *testing.T) {
	v, m := newVehicle(t, false)
	stepUntil(t, m, link.StateReadingDeviceInfo)

	stepUntil(t, m, link.StateDisconnected)
	fwRequest := []byte{byte(vesc.CommFWVersion)}
	var requests int
	for _, p := range v.rx.payloads(t) {
		if bytes.Equal(p, fwRequest) {
			requests++
		}
	}
	assert.Equal(t, 3, requests)

	assert.Equal(t, link.StateInit, m.Step(context.Background()))
	assert.Equal(t, 1, v.conn.closeCount())
	assert.False(t, v.ctrl.Connected())
}

func TestMachine_LateFirmwareAfterRetry(t *testing.T) {
	v, m := newVehicle(t, false)
	stepUntil(t, m, link.StateReadingDeviceInfo)

	m.Step(context.Background())
	time.Sleep(10 * time.Millisecond)
	m.Step(context.Background())
	assert.Equal(t, link.StateReadingDeviceInfo, m.State())

	v.tx.push(firmwareFrame)
	assert.Equal(t, link.StatePaired, m.State())
}

func TestMachine_DisconnectFromAnyState(t *testing.T) {
	states := []link.State{
		link.StateInit,
		link.StateScanning,
		link.StateFoundDevice,
		link.StateConnected,
		link.StateReadingDeviceInfo,
		link.StatePaired,
	}

	for _, state := range states {
		t.Run(state.String(), func(t *testing.T) {
			v, m := newVehicle(t, state == link.StatePaired)
			stepUntil(t, m, state)

			m.OnDisconnect()
			assert.Equal(t, link.StateDisconnected, m.Step(context.Background()))
			assert.Equal(t, link.StateInit, m.Step(context.Background()))
			assert.False(t, v.ctrl.Connected())
			assert.Nil(t, m.Peer())
		})
	}
}

func TestMachine_TransportDisconnect(t *testing.T) {
	v, m := newVehicle(t, true)
	stepUntil(t, m, link.StatePaired)

	v.central.connHandler.OnDisconnect()
	assert.Equal(t, link.StateDisconnected, m.Step(context.Background()))
	assert.Equal(t, link.StateInit, m.Step(context.Background()))
	assert.Equal(t, 1, v.conn.closeCount())
}

func TestMachine_StaleConnectionEventsIgnored(t *testing.T) {
	v, m := newVehicle(t, true)
	stepUntil(t, m, link.StatePaired)
	stale := v.central.connHandler

	m.OnDisconnect()
	stepUntil(t, m, link.StateInit)

	stale.OnDisconnect()
	assert.Equal(t, link.StateScanning, m.Step(context.Background()))
}

func TestMachine_RunStopsMotorsOnExit(t *testing.T) {
	v, m := newVehicle(t, true)
	v.stick.Set(0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == link.StatePaired }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	payloads := v.rx.payloads(t)
	require.GreaterOrEqual(t, len(payloads), 2)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00, 0x00}, payloads[len(payloads)-2])
	assert.Equal(t, []byte{0x22, 0x49, 0x05, 0x00, 0x00, 0x00, 0x00}, payloads[len(payloads)-1])
	assert.Equal(t, link.StateInit, m.State())
	assert.Equal(t, 1, v.conn.closeCount())
}
