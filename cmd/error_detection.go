// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tandem/pkg/transport"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

var (
	showAll       bool
	statsInterval int
	detectPoll    time.Duration
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and telemetry anomalies",
	Long: `Track frame errors and implausible telemetry with statistics.

This command validates each frame and detects:
  - Bad start or end bytes and CRC errors
  - Receive buffer overflows
  - Controller faults reported in telemetry
  - Anomalous values (MOSFET/motor temperature, input voltage, duty > 100%)
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Rejected data before the first valid frame is only counted, since the stream
may have been joined mid-frame. Periodic statistics summaries are printed at
a configurable interval.

Supports serial and WebSocket connections.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().DurationVar(&detectPoll, "poll", 0, "Send GET_VALUES at this interval (0 disables)")
}

// frameChecker validates frames from one stream.
type frameChecker struct {
	rx     *vesc.Buffer
	stats  *vesc.Statistics
	limits vesc.Limits

	// Sync tracking - rejected runs before the first valid frame
	synchronized bool
	skippedRuns  int
}

func newFrameChecker() *frameChecker {
	return &frameChecker{
		rx:     vesc.NewBuffer(vesc.PacketMaxLen),
		stats:  vesc.NewStatistics(),
		limits: vesc.DefaultLimits(),
	}
}

// feed processes received bytes and prints what it finds.
func (c *frameChecker) feed(data []byte) {
	for len(data) > 0 {
		if c.rx.Available() == 0 {
			if c.synchronized {
				c.stats.Overflows++
				printFrameError(fmt.Sprintf("receive buffer overflow (%d bytes dropped)", c.rx.Len()))
			}
			c.rx.Reset()
		}
		chunk := min(len(data), c.rx.Available())
		_ = c.rx.Append(data[:chunk])
		data = data[chunk:]

		c.drain()
	}
}

func (c *frameChecker) drain() {
	for {
		payload, res := vesc.NextFrame(c.rx)
		switch {
		case res == vesc.Incomplete:
			return
		case res != vesc.Valid:
			if !c.synchronized {
				c.skippedRuns++
				continue
			}
			c.stats.Update(res)
			printFrameError(res.String())
			continue
		}

		if !c.synchronized {
			c.synchronized = true
			if c.skippedRuns > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid runs\n\n", c.skippedRuns)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}
		c.stats.Update(res)

		anomalies := vesc.CheckFrame(payload, c.limits)
		c.stats.Anomalies += uint64(len(anomalies))
		switch {
		case len(anomalies) > 0:
			printAnomalies(payload, anomalies)
		case showAll:
			fmt.Print(vesc.FormatFrame(payload, time.Now()))
		}
	}
}

// printFrameError prints a rejected frame in highlighted format
func printFrameError(reason string) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %s\n", timestamp, reason)
	fmt.Printf("  >>> FRAME DISCARDED <<<\n\n")
}

// printAnomalies prints the anomalies of a valid frame
func printAnomalies(payload []byte, anomalies []vesc.Anomaly) {
	timestamp := time.Now().Format("15:04:05.000")
	if len(payload) == 0 {
		fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m EMPTY\n", timestamp)
	} else {
		op := vesc.Opcode(payload[0])
		fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %s (0x%02X)\n", timestamp, vesc.FormatOpcode(op), uint8(op))
	}
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, a := range anomalies {
		color := "1;33"
		if a.Type == vesc.AnomalyFault || a.Type == vesc.AnomalyLength {
			color = "1;31"
		}
		fmt.Printf("  Issue %d: \033[%sm%s\033[0m\n", i+1, color, a.Message)
	}
	fmt.Println()
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, connInfo, err := OpenStream(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Tandem - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if detectPoll > 0 {
		go pollValues(ctx, conn, detectPoll)
	}

	checker := newFrameChecker()

	// Channel for non-blocking reads
	readBuf := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if errors.Is(err, transport.ErrConnectionClosed) || errors.Is(err, io.EOF) {
					readErr <- err
					return
				}
				log.Printf("Read error: %v", err)
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			readBuf <- data
		}
	}()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case data := <-readBuf:
			checker.feed(data)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(checker.stats.String())
			fmt.Println()

		case err := <-readErr:
			log.Printf("Connection closed: %v", err)
			fmt.Print(checker.stats.String())
			return nil

		case <-ctx.Done():
			fmt.Println()
			fmt.Print(checker.stats.String())
			return nil
		}
	}
}
