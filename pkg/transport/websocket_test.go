// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tandem/pkg/link"
)

// bridge is a WebSocket server that greets with a text message and then
// echoes binary messages back.
func bridge(t *testing.T, user, pass string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != "" {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage && string(data) == "bye" {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialWebSocket_RejectsScheme(t *testing.T) {
	_, err := DialWebSocket(context.Background(), "http://localhost", "", "", false)
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestDialWebSocket_BasicAuth(t *testing.T) {
	srv := bridge(t, "pilot", "secret")

	_, err := DialWebSocket(context.Background(), wsURL(srv), "pilot", "wrong", false)
	assert.ErrorContains(t, err, "HTTP 401")

	ws, err := DialWebSocket(context.Background(), wsURL(srv), "pilot", "secret", false)
	require.NoError(t, err)
	require.NoError(t, ws.Close())
}

func TestWebSocketStream_SkipsTextAndSplitsReads(t *testing.T) {
	srv := bridge(t, "", "")
	ws, err := DialWebSocket(context.Background(), wsURL(srv), "", "", false)
	require.NoError(t, err)
	defer ws.Close()

	n, err := ws.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 3)
	n, err = ws.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
	n, err = ws.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])

	// Server hangs up.
	_, err = ws.Write([]byte("bye"))
	require.NoError(t, err)
	_, err = ws.Read(buf)
	assert.Error(t, err)
	_, err = ws.Read(buf)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketCentral_EndToEnd(t *testing.T) {
	srv := bridge(t, "", "")
	c := NewWebSocketCentral(WebSocketOpener{URL: wsURL(srv)}, WithPollInterval(5*time.Millisecond))
	h := newRecordingHandler()

	require.NoError(t, c.StartScan(link.ScanFilter{}, h))
	var peer link.Peer
	select {
	case peer = <-h.found:
	case <-time.After(time.Second):
		t.Fatal("bridge not reported")
	}
	require.NoError(t, c.StopScan())
	assert.Equal(t, wsURL(srv), peer.Address())

	conn, err := c.Connect(context.Background(), peer, h)
	require.NoError(t, err)
	svc, err := conn.Service(link.ServiceUUID)
	require.NoError(t, err)
	rx, err := svc.Characteristic(link.RXCharUUID)
	require.NoError(t, err)
	tx, err := svc.Characteristic(link.TXCharUUID)
	require.NoError(t, err)
	require.NoError(t, tx.EnableNotifications(h.OnNotify))

	require.NoError(t, rx.Write([]byte{0x02, 0x01, 0x00, 0x00, 0x00, 0x03}))
	select {
	case data := <-h.notify:
		assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00, 0x00, 0x03}, data)
	case <-time.After(time.Second):
		t.Fatal("no echo")
	}

	require.NoError(t, rx.Write([]byte("bye")))
	require.Eventually(t, func() bool { return h.disconnected.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, conn.Close())
}
