package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/internal/agent"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Event is one message on the run event stream.
type Event struct {
	Type      string      `json:"type"` // "state" or "finished"
	RunID     string      `json:"run_id"`
	State     agent.State `json:"state"`
	Timestamp string      `json:"timestamp"`
}

// handleRunEvents streams state changes of a run over a WebSocket. The stream
// starts with the current state and ends with a "finished" event.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	updates, done, unsubscribe, ok := s.registry.Subscribe(id)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain control frames so close messages from the client are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	view, _, _ := s.registry.Get(id)
	if !s.writeEvent(conn, "state", id, view.State) {
		return
	}
	for {
		select {
		case state := <-updates:
			if !s.writeEvent(conn, "state", id, state) {
				return
			}
		case <-done:
			view, _, _ := s.registry.Get(id)
			s.writeEvent(conn, "finished", id, view.State)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.baseCtx.Done():
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, typ, id string, state agent.State) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	ev := Event{Type: typ, RunID: id, State: state, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("Error writing event to WebSocket", zap.String("run_id", id), zap.Error(err))
		return false
	}
	return true
}
