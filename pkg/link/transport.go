// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"strings"
)

// Nordic UART service and characteristics. RX and TX are named from the
// peripheral's side: the remote writes to RX and is notified on TX.
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	RXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	TXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

var (
	// ErrServiceNotFound is returned when a peer lacks the expected service.
	ErrServiceNotFound = errors.New("service not found")
	// ErrCharacteristicNotFound is returned when the service lacks a characteristic.
	ErrCharacteristicNotFound = errors.New("characteristic not found")
)

// Peer is a discovered device.
type Peer interface {
	Address() string
	Name() string
}

// ScanFilter selects which advertisements are reported.
type ScanFilter struct {
	// ServiceUUID must be advertised when set.
	ServiceUUID string
	// NamePrefix must prefix the advertised name when set.
	NamePrefix string
}

// MatchName reports whether name passes the prefix filter.
func (f ScanFilter) MatchName(name string) bool {
	return f.NamePrefix == "" || strings.HasPrefix(name, f.NamePrefix)
}

// Handler receives transport events. Transports call it from their own
// goroutines.
type Handler interface {
	// OnDeviceFound is called for each peer matching the scan filter.
	OnDeviceFound(p Peer)
	// OnNotify is called with bytes received on a notify characteristic.
	OnNotify(data []byte)
	// OnDisconnect is called once when an open connection drops.
	OnDisconnect()
}

// Central is the client side of the link.
type Central interface {
	// StartScan begins reporting matching peers to h. It returns without
	// waiting for results.
	StartScan(filter ScanFilter, h Handler) error
	// StopScan ends a scan. Stopping an idle scanner is not an error.
	StopScan() error
	// Connect opens a connection to p. Disconnects are reported to h.
	Connect(ctx context.Context, p Peer, h Handler) (Conn, error)
}

// Conn is an open connection.
type Conn interface {
	Service(uuid string) (Service, error)
	Close() error
}

// Service is a resolved GATT service, or the single channel of a stream
// transport.
type Service interface {
	Characteristic(uuid string) (Characteristic, error)
}

// Characteristic is one endpoint of a service.
type Characteristic interface {
	Write(p []byte) error
	EnableNotifications(fn func(data []byte)) error
}
