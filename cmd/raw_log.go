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
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tandem/pkg/transport"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

var rawLogPoll time.Duration

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display VESC frames as they arrive.

Each frame is printed with a timestamp, its command name and decoded payload.
Frames that fail validation are printed as errors and the receive buffer is
resynchronized.

With --poll the command also sends GET_VALUES to the primary controller at
the given interval, so a silent controller can be observed.

Supports serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawLogPoll, "poll", 0, "Send GET_VALUES at this interval (0 disables)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, connInfo, err := OpenStream(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Tandem - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogPoll > 0 {
		go pollValues(ctx, conn, rawLogPoll)
	}

	// Unblock Read on Ctrl+C.
	var closeOnce sync.Once
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() { conn.Close() })
	}()

	stats := vesc.NewStatistics()
	defer func() { fmt.Printf("\n%s", stats) }()

	rx := vesc.NewBuffer(vesc.PacketMaxLen)
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A closed stream does not come back
			if errors.Is(err, transport.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		data := buf[:n]
		for len(data) > 0 {
			if rx.Available() == 0 {
				fmt.Printf("[ERROR] receive buffer overflow, %d bytes dropped\n", rx.Len())
				stats.Overflows++
				rx.Reset()
			}
			chunk := min(len(data), rx.Available())
			_ = rx.Append(data[:chunk])
			data = data[chunk:]

			drainFrames(rx, stats)
		}
	}
}

// drainFrames prints every complete frame in rx.
func drainFrames(rx *vesc.Buffer, stats *vesc.Statistics) {
	for {
		payload, res := vesc.NextFrame(rx)
		if res == vesc.Incomplete {
			return
		}
		stats.Update(res)
		if res != vesc.Valid {
			fmt.Printf("[ERROR] %v\n", res)
			continue
		}
		fmt.Print(vesc.FormatFrame(payload, time.Now()))
	}
}

// pollValues writes a GET_VALUES frame every interval until ctx is done.
func pollValues(ctx context.Context, w io.Writer, interval time.Duration) {
	frame, err := vesc.EncodeFrame(vesc.NewGetValuesCommand(vesc.ValueAll, 0))
	if err != nil {
		log.Printf("Poll disabled: %v", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write(frame); err != nil {
				log.Printf("Poll write error: %v", err)
				return
			}
		}
	}
}
