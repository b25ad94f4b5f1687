// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/tandem/pkg/link"
)

// WebSocketOpener dials a bridge that relays the controller's UART as
// binary WebSocket messages.
type WebSocketOpener struct {
	URL      string
	Username string
	Password string
	// SkipVerify disables certificate checks for wss:// URLs.
	SkipVerify bool
}

type wsPeer string

func (p wsPeer) Address() string { return string(p) }
func (p wsPeer) Name() string    { return string(p) }

// Peers implements Opener. The bridge is the only endpoint.
func (o WebSocketOpener) Peers() ([]link.Peer, error) {
	return []link.Peer{wsPeer(o.URL)}, nil
}

// Open implements Opener.
func (o WebSocketOpener) Open(ctx context.Context, _ link.Peer) (io.ReadWriteCloser, error) {
	return DialWebSocket(ctx, o.URL, o.Username, o.Password, o.SkipVerify)
}

// NewWebSocketCentral returns a central over a WebSocket bridge.
func NewWebSocketCentral(o WebSocketOpener, opts ...StreamOption) *StreamCentral {
	return NewStreamCentral(o, opts...)
}

// DialWebSocket connects to wsURL with optional HTTP Basic auth.
func DialWebSocket(ctx context.Context, wsURL, username, password string, skipVerify bool) (*WebSocketStream, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}

	return &WebSocketStream{conn: conn}, nil
}

// WebSocketStream reads and writes binary messages as a byte stream. Text
// messages are skipped.
type WebSocketStream struct {
	conn *websocket.Conn

	// Read side, used by a single reader.
	buf    []byte
	off    int
	closed bool

	writeMu sync.Mutex
}

func (w *WebSocketStream) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.off < len(w.buf) {
		n := copy(p, w.buf[w.off:])
		w.off += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		n := copy(p, w.buf)
		w.off = n
		return n, nil
	}
}

func (w *WebSocketStream) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketStream) Close() error {
	return w.conn.Close()
}
