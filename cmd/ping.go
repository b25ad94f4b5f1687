// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tandem/pkg/vesc"
)

var (
	pingTimeout int
	pingCount   int
	pingTarget  string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trip time to the controllers",
	Long: `Connect to the vehicle and send FW_VERSION requests, timing each response.

This verifies:
  - The transport connects and resolves the UART channel
  - Frames reach the primary controller and come back intact
  - CAN forwarding to the secondary controller works (--target secondary)

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().StringVar(&pingTarget, "target", "primary", "Controller to ping: primary or secondary")
}

func runPing(cmd *cobra.Command, args []string) error {
	var target uint8
	switch pingTarget {
	case "primary":
	case "secondary":
		target = secondaryID
	default:
		return fmt.Errorf("unknown target %q (use primary or secondary)", pingTarget)
	}

	log, err := buildLogger(false)
	if err != nil {
		return err
	}

	central, connInfo, err := OpenCentral(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Tandem - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	cfg := linkConfig()
	h := newPeerWaiter()

	scanCtx, cancel := context.WithTimeout(context.Background(), cfg.ScanTimeout)
	peer, err := findPeer(scanCtx, central, cfg.Filter, h)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: no device found: %v\n", err)
		os.Exit(2)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	conn, err := central.Connect(connectCtx, peer, h)
	cancel()
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
	pong := make(chan struct{}, 1)
	ctrl.SetCallback(vesc.CommFWVersion, func(vesc.Opcode, *vesc.Buffer) {
		select {
		case pong <- struct{}{}:
		default:
		}
	})
	if err := notify.EnableNotifications(ctrl.Receive); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		conn.Close()
		os.Exit(2)
	}

	fmt.Printf("PING %s (%s)\n", peer.Address(), pingTarget)

	var rtts []time.Duration
	failCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// Drop a late answer to the previous ping
		select {
		case <-pong:
		default:
		}

		startTime := time.Now()
		frame, _ := vesc.EncodeFrame(vesc.NewFirmwareRequest(target))
		if err := write.Write(frame); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case <-pong:
			rtt := time.Since(startTime)
			rtts = append(rtts, rtt)
			fw := ctrl.Firmware()
			fmt.Printf("PONG fw=%s hw=%q rtt=%v\n", fw.Version(), fw.Hardware, rtt.Round(time.Millisecond))

		case <-h.lost:
			fmt.Printf("CONNECTION LOST\n")
			failCount += pingCount - i + 1
			i = pingCount

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}
	conn.Close()

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, len(rtts), float64(failCount)/float64(pingCount)*100)
	if lo, avg, hi, ok := rttSummary(rtts); ok {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			lo.Round(time.Millisecond), avg.Round(time.Millisecond), hi.Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// rttSummary returns the minimum, mean and maximum of rtts.
func rttSummary(rtts []time.Duration) (lo, avg, hi time.Duration, ok bool) {
	if len(rtts) == 0 {
		return 0, 0, 0, false
	}
	lo, hi = rtts[0], rtts[0]
	var sum time.Duration
	for _, r := range rtts {
		lo = min(lo, r)
		hi = max(hi, r)
		sum += r
	}
	return lo, sum / time.Duration(len(rtts)), hi, true
}
