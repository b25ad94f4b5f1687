// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tandem/pkg/link"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by requesting firmware info",
	Long: `Connect to the first matching vehicle, send FW_VERSION and wait for a valid
response until timeout.

Invalid bytes are ignored; only a complete frame passing the CRC check with a
firmware response counts.

Exit codes:
  0 - Firmware response received before timeout
  1 - Timeout reached without a valid response
  2 - Connection error

Useful for testing connectivity over BLE, serial or a WebSocket bridge.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a response")
}

// peerWaiter collects the first peer and any disconnect.
type peerWaiter struct {
	found chan link.Peer
	lost  chan struct{}
}

func newPeerWaiter() *peerWaiter {
	return &peerWaiter{found: make(chan link.Peer, 1), lost: make(chan struct{}, 1)}
}

func (h *peerWaiter) OnDeviceFound(p link.Peer) {
	select {
	case h.found <- p:
	default:
	}
}

func (h *peerWaiter) OnNotify([]byte) {}

func (h *peerWaiter) OnDisconnect() {
	select {
	case h.lost <- struct{}{}:
	default:
	}
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	log, err := buildLogger(false)
	if err != nil {
		return err
	}

	central, connInfo, err := OpenCentral(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Tandem - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)

	timeout := time.Duration(packetTestTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg := linkConfig()
	h := newPeerWaiter()

	fmt.Printf("Scanning...\n")
	peer, err := findPeer(ctx, central, cfg.Filter, h)
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No device found within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Found: %s %s\n", peer.Address(), peer.Name())

	conn, err := central.Connect(ctx, peer, h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	write, notify, err := resolveUART(conn, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		conn.Close()
		os.Exit(2)
	}

	ctrl := vesc.NewController(controllerConfig(), vesc.WithLogger(log))
	fwChan := make(chan vesc.FirmwareInfo, 1)
	ctrl.SetCallback(vesc.CommFWVersion, func(vesc.Opcode, *vesc.Buffer) {
		select {
		case fwChan <- ctrl.Firmware():
		default:
		}
	})
	if err := notify.EnableNotifications(ctrl.Receive); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		conn.Close()
		os.Exit(2)
	}
	ctrl.SetTransmitter(func(frame []byte, _ bool) error { return write.Write(frame) })

	fmt.Printf("Requesting firmware info...\n\n")
	ctrl.RequestFirmware()

	select {
	case fw := <-fwChan:
		stats := ctrl.Stats()
		fmt.Printf("SUCCESS: Received valid firmware response\n")
		fmt.Print(vesc.FormatFirmware(fw))
		if errs := stats.Errors(); errs > 0 {
			fmt.Printf("(%d invalid frames before the response)\n", errs)
		}
		conn.Close()
		os.Exit(0)

	case <-h.lost:
		fmt.Fprintf(os.Stderr, "Connection lost\n")
		conn.Close()
		os.Exit(2)

	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid response received within %d seconds\n", packetTestTimeout)
		conn.Close()
		os.Exit(1)
	}

	return nil
}

// findPeer scans until the first matching peer or until ctx ends.
func findPeer(ctx context.Context, central link.Central, filter link.ScanFilter, h *peerWaiter) (link.Peer, error) {
	if err := central.StartScan(filter, h); err != nil {
		return nil, err
	}
	defer func() { _ = central.StopScan() }()

	select {
	case p := <-h.found:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveUART finds the write and notify characteristics of the UART
// service.
func resolveUART(conn link.Conn, cfg link.Config) (write, notify link.Characteristic, err error) {
	svc, err := conn.Service(cfg.ServiceUUID)
	if err != nil {
		return nil, nil, err
	}
	if write, err = svc.Characteristic(cfg.WriteUUID); err != nil {
		return nil, nil, err
	}
	if notify, err = svc.Characteristic(cfg.NotifyUUID); err != nil {
		return nil, nil, err
	}
	return write, notify, nil
}
