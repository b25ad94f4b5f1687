// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad
//
// Tandem - remote for two-motor VESC vehicles
//
// A CLI tool for driving a vehicle with two VESC motor controllers over
// BLE, serial or a WebSocket bridge, and for inspecting the frames they
// exchange.

package main

import (
	"os"

	"github.com/Thermoquad/tandem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
