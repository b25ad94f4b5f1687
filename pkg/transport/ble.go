// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/tandem/pkg/link"
)

// bleChunk is the write size that fits the default ATT MTU.
const bleChunk = 20

// BLECentral is a link.Central on the host's default Bluetooth adapter.
type BLECentral struct {
	adapter *bluetooth.Adapter
	log     *zap.Logger

	mu       sync.Mutex
	scanning bool
	conns    map[string]*bleConn
}

// NewBLECentral enables the default adapter. A nil log discards output.
func NewBLECentral(log *zap.Logger) (*BLECentral, error) {
	if log == nil {
		log = zap.NewNop()
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth: %w", err)
	}

	c := &BLECentral{
		adapter: adapter,
		log:     log,
		conns:   make(map[string]*bleConn),
	}
	adapter.SetConnectHandler(c.onConnectEvent)
	return c, nil
}

type blePeer struct {
	addr bluetooth.Address
	name string
}

func (p blePeer) Address() string { return p.addr.String() }
func (p blePeer) Name() string    { return p.name }

// StartScan implements link.Central. The adapter scan blocks, so it runs on
// its own goroutine until StopScan.
func (c *BLECentral) StartScan(filter link.ScanFilter, h link.Handler) error {
	var svc bluetooth.UUID
	if filter.ServiceUUID != "" {
		var err error
		if svc, err = bluetooth.ParseUUID(filter.ServiceUUID); err != nil {
			return fmt.Errorf("scan filter: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanning {
		return errors.New("scan already running")
	}
	c.scanning = true

	go func() {
		err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if filter.ServiceUUID != "" && !result.HasServiceUUID(svc) {
				return
			}
			name := result.LocalName()
			if !filter.MatchName(name) {
				return
			}
			h.OnDeviceFound(blePeer{addr: result.Address, name: name})
		})
		if err != nil {
			c.log.Warn("scan ended", zap.Error(err))
		}

		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
	}()
	return nil
}

// StopScan implements link.Central.
func (c *BLECentral) StopScan() error {
	c.mu.Lock()
	scanning := c.scanning
	c.mu.Unlock()
	if !scanning {
		return nil
	}
	return c.adapter.StopScan()
}

// Connect implements link.Central. The adapter connect is not cancelable; a
// connection that completes after ctx ends is closed.
func (c *BLECentral) Connect(ctx context.Context, p link.Peer, h link.Handler) (link.Conn, error) {
	bp, ok := p.(blePeer)
	if !ok {
		return nil, fmt.Errorf("not a bluetooth peer: %s", p.Address())
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := c.adapter.Connect(bp.addr, bluetooth.ConnectionParams{})
		done <- result{dev, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect %s: %w", bp.Address(), r.err)
		}
		conn := &bleConn{central: c, dev: r.dev, addr: bp.Address(), h: h}
		c.mu.Lock()
		c.conns[conn.addr] = conn
		c.mu.Unlock()
		return conn, nil

	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect %s: %w", bp.Address(), ctx.Err())
	}
}

func (c *BLECentral) onConnectEvent(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := dev.Address.String()

	c.mu.Lock()
	conn, ok := c.conns[addr]
	delete(c.conns, addr)
	c.mu.Unlock()

	if ok {
		c.log.Info("peer disconnected", zap.String("address", addr))
		conn.lost()
	}
}

type bleConn struct {
	central  *BLECentral
	dev      bluetooth.Device
	addr     string
	h        link.Handler
	lostOnce sync.Once
}

func (b *bleConn) Service(uuid string) (link.Service, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("service uuid: %w", err)
	}
	svcs, err := b.dev.DiscoverServices([]bluetooth.UUID{id})
	if err != nil || len(svcs) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", link.ErrServiceNotFound, uuid, err)
	}
	return bleService{svc: svcs[0]}, nil
}

func (b *bleConn) lost() {
	b.lostOnce.Do(b.h.OnDisconnect)
}

// Close disconnects. The adapter's disconnect event is not forwarded.
func (b *bleConn) Close() error {
	b.central.mu.Lock()
	if b.central.conns[b.addr] == b {
		delete(b.central.conns, b.addr)
	}
	b.central.mu.Unlock()
	return b.dev.Disconnect()
}

type bleService struct {
	svc bluetooth.DeviceService
}

func (s bleService) Characteristic(uuid string) (link.Characteristic, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("characteristic uuid: %w", err)
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{id})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", link.ErrCharacteristicNotFound, uuid, err)
	}
	return bleChar{c: chars[0]}, nil
}

type bleChar struct {
	c bluetooth.DeviceCharacteristic
}

func (b bleChar) Write(p []byte) error {
	for _, chunk := range chunks(p, bleChunk) {
		if _, err := b.c.WriteWithoutResponse(chunk); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

func (b bleChar) EnableNotifications(fn func(data []byte)) error {
	return b.c.EnableNotifications(func(buf []byte) {
		fn(append([]byte(nil), buf...))
	})
}

// chunks splits p into pieces of at most n bytes.
func chunks(p []byte, n int) [][]byte {
	var out [][]byte
	for len(p) > n {
		out = append(out, p[:n])
		p = p[n:]
	}
	if len(p) > 0 {
		out = append(out, p)
	}
	return out
}
