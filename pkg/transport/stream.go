// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package transport implements link.Central over Bluetooth LE, serial ports
// and a WebSocket bridge.
//
// Serial and WebSocket links are plain byte streams. They expose a single
// channel that answers for every service and characteristic uuid, so the
// state machine resolves them exactly as it resolves a GATT peer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/tandem/pkg/link"
)

// ErrConnectionClosed is returned by reads and writes on a closed stream.
var ErrConnectionClosed = errors.New("connection closed")

// Opener lists and opens byte stream endpoints.
type Opener interface {
	// Peers returns the endpoints currently available.
	Peers() ([]link.Peer, error)
	// Open connects to p.
	Open(ctx context.Context, p link.Peer) (io.ReadWriteCloser, error)
}

// StreamOption configures a StreamCentral.
type StreamOption func(*StreamCentral)

// WithStreamLogger sets the logger.
func WithStreamLogger(log *zap.Logger) StreamOption {
	return func(c *StreamCentral) {
		c.log = log
	}
}

// WithPollInterval sets how often a scan lists endpoints.
func WithPollInterval(d time.Duration) StreamOption {
	return func(c *StreamCentral) {
		c.poll = d
	}
}

// StreamCentral is a link.Central over an Opener. A scan polls Peers and
// reports the endpoints whose name passes the filter's prefix.
type StreamCentral struct {
	opener Opener
	log    *zap.Logger
	poll   time.Duration

	mu   sync.Mutex
	stop context.CancelFunc
}

// NewStreamCentral creates a central over o.
func NewStreamCentral(o Opener, opts ...StreamOption) *StreamCentral {
	c := &StreamCentral{
		opener: o,
		log:    zap.NewNop(),
		poll:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartScan implements link.Central.
func (c *StreamCentral) StartScan(filter link.ScanFilter, h link.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return errors.New("scan already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	go c.scan(ctx, filter, h)
	return nil
}

func (c *StreamCentral) scan(ctx context.Context, filter link.ScanFilter, h link.Handler) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		peers, err := c.opener.Peers()
		if err != nil {
			c.log.Debug("list endpoints", zap.Error(err))
		}
		for _, p := range peers {
			if ctx.Err() != nil {
				return
			}
			if filter.MatchName(p.Name()) {
				h.OnDeviceFound(p)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StopScan implements link.Central.
func (c *StreamCentral) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	return nil
}

// Connect implements link.Central.
func (c *StreamCentral) Connect(ctx context.Context, p link.Peer, h link.Handler) (link.Conn, error) {
	rwc, err := c.opener.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	return newStreamConn(rwc, h, c.log.With(zap.String("peer", p.Address()))), nil
}

// streamConn is an open byte stream. It is its own service and
// characteristic.
type streamConn struct {
	rwc io.ReadWriteCloser
	h   link.Handler
	log *zap.Logger

	mu       sync.Mutex
	closed   bool
	reading  bool
	lostOnce sync.Once
}

func newStreamConn(rwc io.ReadWriteCloser, h link.Handler, log *zap.Logger) *streamConn {
	return &streamConn{rwc: rwc, h: h, log: log}
}

func (s *streamConn) Service(string) (link.Service, error) {
	return s, nil
}

func (s *streamConn) Characteristic(string) (link.Characteristic, error) {
	return s, nil
}

func (s *streamConn) Write(p []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	if _, err := s.rwc.Write(p); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// EnableNotifications starts the reader. Only the first call has effect.
func (s *streamConn) EnableNotifications(fn func(data []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnectionClosed
	}
	if s.reading {
		return nil
	}
	s.reading = true
	go s.readLoop(fn)
	return nil
}

func (s *streamConn) readLoop(fn func(data []byte)) {
	buf := make([]byte, 256)
	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			fn(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("stream read failed", zap.Error(err))
				s.lost()
			}
			return
		}
	}
}

func (s *streamConn) lost() {
	s.lostOnce.Do(s.h.OnDisconnect)
}

// Close closes the stream. A close requested here is not reported as a
// disconnect.
func (s *streamConn) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.rwc.Close()
}
