// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/Thermoquad/tandem/pkg/link"
	"github.com/Thermoquad/tandem/pkg/transport"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

const (
	transportBLE    = "ble"
	transportSerial = "serial"
	transportWS     = "ws"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("TANDEM_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// selectedTransport returns the --transport flag, or the transport implied
// by --url and --port.
func selectedTransport() (string, error) {
	switch transportName {
	case transportBLE, transportSerial, transportWS:
		return transportName, nil
	case "":
	default:
		return "", fmt.Errorf("unknown transport %q (use ble, serial or ws)", transportName)
	}

	switch {
	case wsURL != "":
		return transportWS, nil
	case portName != "":
		return transportSerial, nil
	default:
		return transportBLE, nil
	}
}

func webSocketOpener() (transport.WebSocketOpener, error) {
	if wsURL == "" {
		return transport.WebSocketOpener{}, fmt.Errorf("--url is required for the ws transport")
	}
	password := ""
	if wsUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return transport.WebSocketOpener{}, err
		}
	}
	return transport.WebSocketOpener{
		URL:        wsURL,
		Username:   wsUsername,
		Password:   password,
		SkipVerify: wsNoSSLVerify,
	}, nil
}

// OpenCentral creates the link.Central selected by the flags and a line
// describing it.
func OpenCentral(log *zap.Logger) (link.Central, string, error) {
	name, err := selectedTransport()
	if err != nil {
		return nil, "", err
	}

	switch name {
	case transportWS:
		o, err := webSocketOpener()
		if err != nil {
			return nil, "", err
		}
		return transport.NewWebSocketCentral(o, transport.WithStreamLogger(log)),
			fmt.Sprintf("WebSocket: %s", wsURL), nil

	case transportSerial:
		if portName == "" && namePrefix == "" {
			return nil, "", fmt.Errorf("either --port or --name-prefix must be specified for the serial transport")
		}
		info := fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
		if portName == "" {
			info = fmt.Sprintf("Serial: %s* @ %d baud", namePrefix, baudRate)
		}
		return transport.NewSerialCentral(portName, baudRate, transport.WithStreamLogger(log)), info, nil

	default:
		c, err := transport.NewBLECentral(log)
		if err != nil {
			return nil, "", err
		}
		return c, "BLE: Nordic UART", nil
	}
}

// OpenStream opens a raw byte stream for the serial and ws transports.
func OpenStream(ctx context.Context) (io.ReadWriteCloser, string, error) {
	name, err := selectedTransport()
	if err != nil {
		return nil, "", err
	}

	switch name {
	case transportWS:
		o, err := webSocketOpener()
		if err != nil {
			return nil, "", err
		}
		conn, err := transport.DialWebSocket(ctx, o.URL, o.Username, o.Password, o.SkipVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil

	case transportSerial:
		if portName == "" {
			return nil, "", fmt.Errorf("--port must be specified")
		}
		o := transport.SerialOpener{Port: portName, BaudRate: baudRate}
		peers, err := o.Peers()
		if err != nil {
			return nil, "", err
		}
		conn, err := o.Open(ctx, peers[0])
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil

	default:
		return nil, "", fmt.Errorf("either --port or --url must be specified")
	}
}

func controllerConfig() vesc.Config {
	return vesc.Config{PrimaryID: primaryID, SecondaryID: secondaryID}
}

// linkConfig returns the link timings for the selected transport. Stream
// transports advertise no services.
func linkConfig() link.Config {
	cfg := link.DefaultConfig()
	cfg.Filter.NamePrefix = namePrefix
	if name, _ := selectedTransport(); name != transportBLE {
		cfg.Filter.ServiceUUID = ""
	}
	return cfg
}

// buildLogger creates the logger from --log-level and --log-file. With
// interactive set and no log file, logging is discarded so it cannot
// corrupt the TUI.
func buildLogger(interactive bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	if interactive && logFile == "" {
		return zap.NewNop(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.Encoding = "json"
		cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	}
	return cfg.Build()
}
