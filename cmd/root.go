// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Transport selection
	transportName string
	namePrefix    string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Vehicle
	primaryID   uint8
	secondaryID uint8

	// Logging
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Remote for two-motor VESC vehicles",
	Long: `Tandem - drive and monitor a vehicle with two VESC motor controllers.

The remote links to the primary controller and reaches the secondary one by
CAN forwarding. It requests firmware info on connect, then streams duty
commands from the stick and polls telemetry from both controllers.

Connection modes:
  BLE:       [--name-prefix VESC]                (default)
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the TANDEM_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&transportName, "transport", "t", "", "Transport: ble, serial or ws (default: inferred from --port/--url, else ble)")
	rootCmd.PersistentFlags().StringVar(&namePrefix, "name-prefix", "", "Only connect to peers whose name (or serial port path) has this prefix")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().Uint8Var(&primaryID, "primary-id", 28, "CAN id of the controller the link is attached to (0 accepts any)")
	rootCmd.PersistentFlags().Uint8Var(&secondaryID, "secondary-id", 73, "CAN id of the forwarded controller")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
