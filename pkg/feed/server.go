// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package feed

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Server streams bus snapshots to WebSocket clients as binary CBOR
// messages. Anything a client sends is discarded.
type Server struct {
	bus      *Bus
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a handler serving bus.
func NewServer(bus *Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log.With(zap.String("client", r.RemoteAddr))
	log.Info("feed client connected")
	defer log.Info("feed client disconnected")

	snapshots, unsub := s.bus.Subscribe()
	defer unsub()

	// The read side only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := Encode(snap)
			if err != nil {
				log.Warn("encode failed", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}
