// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/Thermoquad/tandem/pkg/link"
)

// DefaultBaudRate is the VESC UART default.
const DefaultBaudRate = 115200

// SerialOpener opens serial ports. With Port set only that port is
// reported; otherwise every port on the system is.
type SerialOpener struct {
	Port     string
	BaudRate int
}

type serialPeer string

func (p serialPeer) Address() string { return string(p) }
func (p serialPeer) Name() string    { return string(p) }

// Peers implements Opener.
func (o SerialOpener) Peers() ([]link.Peer, error) {
	if o.Port != "" {
		return []link.Peer{serialPeer(o.Port)}, nil
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	peers := make([]link.Peer, 0, len(ports))
	for _, name := range ports {
		peers = append(peers, serialPeer(name))
	}
	return peers, nil
}

// Open implements Opener.
func (o SerialOpener) Open(_ context.Context, p link.Peer) (io.ReadWriteCloser, error) {
	baud := o.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(p.Address(), mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", p.Address(), err)
	}
	return port, nil
}

// NewSerialCentral returns a central over serial ports.
func NewSerialCentral(port string, baud int, opts ...StreamOption) *StreamCentral {
	return NewStreamCentral(SerialOpener{Port: port, BaudRate: baud}, opts...)
}
