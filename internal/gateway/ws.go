package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/crewd/internal/bus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsSendBuffer   = 64
)

// handleWebSocket streams live bus traffic to inspector clients. Each
// connection gets its own global subscription; slow clients drop frames
// rather than stall the bus.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan bus.Message, wsSendBuffer)
	subID := s.events.SubscribeGlobal(func(msg bus.Message) {
		select {
		case send <- msg:
		default:
		}
	})

	slog.Info("inspector connected", "remote", conn.RemoteAddr())
	defer func() {
		s.events.UnsubscribeGlobal(subID)
		conn.Close()
		slog.Info("inspector disconnected", "remote", conn.RemoteAddr())
	}()

	done := make(chan struct{})

	// Read loop only drains control frames and detects close.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
