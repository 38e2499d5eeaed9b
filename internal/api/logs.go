package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogs streams log lines as WebSocket text messages, or as a chunked
// text/plain body for plain HTTP clients.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.streamWebSocket(w, r)
		return
	}
	s.streamPlain(w, r)
}

// pump delivers broadcast lines to send until ctx ends, send fails or the
// subscription closes. tick, when non-nil, runs every pingPeriod.
func (s *APIServer) pump(ctx context.Context, send func([]byte) error, tick func() error) {
	lines := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(lines)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok || send(line) != nil {
				return
			}
		case <-ticker.C:
			if tick != nil && tick() != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *APIServer) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("log stream upgrade", slog.Any("error", err))
		return
	}
	defer conn.Close()

	// The client never sends data; a failed read means it went away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.pump(ctx,
		func(line []byte) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(websocket.TextMessage, line)
		},
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		},
	)
}

func (s *APIServer) streamPlain(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	s.pump(r.Context(),
		func(line []byte) error {
			if _, err := w.Write(line); err != nil {
				return err
			}
			return rc.Flush()
		},
		nil,
	)
}
