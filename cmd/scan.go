// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tandem/pkg/link"
)

var scanTimeout int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List vehicles in range",
	Long: `Scan for peers matching the transport's filter and print each one once.

Over BLE this lists devices advertising the Nordic UART service (narrowed by
--name-prefix). Over serial it lists ports, and over WebSocket the bridge URL.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan duration in seconds")
}

// scanPrinter prints each peer the first time it is reported.
type scanPrinter struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *scanPrinter) OnDeviceFound(p link.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[p.Address()] {
		return
	}
	s.seen[p.Address()] = true

	name := p.Name()
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("%-40s %s\n", p.Address(), name)
}

func (s *scanPrinter) OnNotify([]byte) {}
func (s *scanPrinter) OnDisconnect()   {}

func runScan(cmd *cobra.Command, args []string) error {
	log, err := buildLogger(false)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	central, connInfo, err := OpenCentral(log)
	if err != nil {
		return err
	}

	fmt.Printf("Tandem - Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Scanning for %d seconds...\n\n", scanTimeout)

	printer := &scanPrinter{seen: make(map[string]bool)}
	if err := central.StartScan(linkConfig().Filter, printer); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(scanTimeout) * time.Second):
	}

	if err := central.StopScan(); err != nil {
		return fmt.Errorf("stop scan: %w", err)
	}

	printer.mu.Lock()
	defer printer.mu.Unlock()
	fmt.Printf("\n%d peer(s) found\n", len(printer.seen))
	return nil
}
