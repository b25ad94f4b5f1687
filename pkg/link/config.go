// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package link

import (
	"time"

	"github.com/Thermoquad/tandem/pkg/drive"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

// Config holds the link timings and the service layout of the vehicle.
type Config struct {
	Filter ScanFilter

	ServiceUUID string
	// WriteUUID is the characteristic commands are written to.
	WriteUUID string
	// NotifyUUID is the characteristic responses arrive on.
	NotifyUUID string

	// ScanTimeout restarts a scan that found nothing.
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration

	// FirmwareTimeout is how long to wait for each FW_VERSION response,
	// FirmwareRetries how many requests are sent before giving up.
	FirmwareTimeout time.Duration
	FirmwareRetries int

	TelemetryInterval time.Duration
	// TelemetryMask is always requested together with the vesc id, which
	// routing needs.
	TelemetryMask vesc.ValueMask

	// PairedPacing is the pause after each drive command.
	PairedPacing      time.Duration
	DisconnectBackoff time.Duration
	// TickInterval is the Run loop period.
	TickInterval time.Duration

	Mixer drive.MixerConfig
}

// DefaultConfig returns the settings for the stock vehicle over BLE.
func DefaultConfig() Config {
	return Config{
		Filter:            ScanFilter{ServiceUUID: ServiceUUID},
		ServiceUUID:       ServiceUUID,
		WriteUUID:         RXCharUUID,
		NotifyUUID:        TXCharUUID,
		ScanTimeout:       30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		FirmwareTimeout:   time.Second,
		FirmwareRetries:   3,
		TelemetryInterval: 100 * time.Millisecond,
		TelemetryMask:     vesc.ValueAll,
		PairedPacing:      20 * time.Millisecond,
		DisconnectBackoff: time.Second,
		TickInterval:      10 * time.Millisecond,
		Mixer:             drive.DefaultMixerConfig(),
	}
}
