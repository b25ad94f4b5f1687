// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tandem/pkg/drive"
	"github.com/Thermoquad/tandem/pkg/link"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

var controlLimit float64

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving the vehicle",
	Long: `Drive and monitor the vehicle from an interactive terminal UI.

The link is managed automatically: the remote scans for the vehicle, connects,
reads firmware info and then streams duty commands while polling telemetry
from both controllers. A dropped link is re-established without leaving the
UI.

Features:
  - Connection state and firmware info
  - Live telemetry for the primary and secondary controllers
  - Keyboard stick (arrows or WASD, space to center)
  - Speed limit (l to edit)
  - Frame statistics and event log

Terminals report no key releases, so the stick holds its position until it
is moved back or centered. Quitting commands zero duty before disconnecting.

Supports BLE, serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().Float64Var(&controlLimit, "limit", 0.5, "Initial speed limit (0-1)")
}

// stateEventBuffer sizes the queue between the state hook, which may run on
// a transport goroutine, and the TUI.
const stateEventBuffer = 16

func runControl(cmd *cobra.Command, args []string) error {
	log, err := buildLogger(true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	central, connInfo, err := OpenCentral(log.Named("transport"))
	if err != nil {
		return err
	}

	stick := &drive.Stick{}
	limiter := drive.NewLimiter(stick, controlLimit)
	events := make(chan stateChangeMsg, stateEventBuffer)

	ctrl := vesc.NewController(controllerConfig(), vesc.WithLogger(log.Named("vesc")))
	machine := link.NewMachine(central, ctrl, linkConfig(),
		link.WithLogger(log.Named("link")),
		link.WithInput(limiter),
		link.OnStateChange(func(from, to link.State) {
			select {
			case events <- stateChangeMsg{from: from, to: to}:
			default:
				log.Warn("state event dropped", zap.Stringer("to", to))
			}
		}))

	m := initialControlModel(machine, stick, limiter, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				p.Send(ev)
			}
		}
	}()

	machineDone := make(chan error, 1)
	go func() { machineDone <- machine.Run(ctx) }()

	_, runErr := p.Run()

	// Zero duty goes out before the link closes
	cancel()
	if err := <-machineDone; err != nil {
		log.Error("link shutdown", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}
