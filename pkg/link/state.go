// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package link establishes and keeps the wireless session with the vehicle:
// scan, connect, resolve the UART service, handshake with FW_VERSION, then
// stream telemetry requests and drive commands until the link drops.
package link

// State is the connection lifecycle stage.
type State int

const (
	StateInit State = iota
	StateScanning
	StateFoundDevice
	StateConnected
	StateReadingDeviceInfo
	StatePaired
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateScanning:
		return "SCANNING"
	case StateFoundDevice:
		return "FOUND_DEVICE"
	case StateConnected:
		return "CONNECTED"
	case StateReadingDeviceInfo:
		return "READING_DEVICE_INFO"
	case StatePaired:
		return "PAIRED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Linked reports whether a transport connection is open in this state.
func (s State) Linked() bool {
	return s == StateConnected || s == StateReadingDeviceInfo || s == StatePaired
}
