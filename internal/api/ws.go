package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NIEHS/MOUSE-TRAP/internal/convert"
)

// WSMessage is an incoming client message.
type WSMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// WSEvent is an outgoing broadcast.
type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ErrNoDecision is returned when a per-file prompt is outstanding and the
// connection delivering answers goes away or the run is cancelled.
var ErrNoDecision = errors.New("no decision received")

// defaultDecisionTimeout bounds how long a per-file prompt waits for a
// client answer before the file is approved.
const defaultDecisionTimeout = 2 * time.Minute

// Hub fans progress events out to connected websocket clients and routes
// per-file prompt answers back to the waiting worker.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger

	decisions       chan string
	decisionTimeout time.Duration
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:          logger,
		decisions:       make(chan string, 1),
		decisionTimeout: defaultDecisionTimeout,
	}
}

// Handle upgrades the connection and pumps client messages until it closes.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", count)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.remove(conn)
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("bad websocket message", "error", err)
			continue
		}
		h.handleMessage(&msg)
	}
}

func (h *Hub) handleMessage(msg *WSMessage) {
	switch msg.Type {
	case "decision":
		choice, _ := msg.Data["choice"].(string)
		select {
		case h.decisions <- choice:
		default:
			// No prompt outstanding; stale answer is dropped.
		}
	default:
		h.logger.Debug("unknown websocket message", "type", msg.Type)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", count)
}

// Broadcast sends an event to every connected client. Dead connections are
// dropped.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	raw, err := json.Marshal(WSEvent{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error("cannot marshal websocket event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Decide broadcasts a per-file prompt and blocks until a client answers or
// ctx is cancelled. Unrecognized answers skip the file. With no client
// attached there is nobody to answer, so the file is approved immediately;
// the same happens when the prompt times out.
func (h *Hub) Decide(ctx context.Context, task convert.Task) (convert.Decision, error) {
	if h.ClientCount() == 0 {
		return convert.Approve, nil
	}

	// Drain any stale answer from a previous prompt.
	select {
	case <-h.decisions:
	default:
	}

	h.Broadcast("decision_request", map[string]interface{}{
		"source":   task.Source,
		"target":   task.Target,
		"strategy": string(task.Strategy),
	})

	timer := time.NewTimer(h.decisionTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return convert.Abort, ErrNoDecision
	case <-timer.C:
		h.logger.Warn("no decision before timeout, approving", "source", task.Source)
		return convert.Approve, nil
	case choice := <-h.decisions:
		switch choice {
		case "approve":
			return convert.Approve, nil
		case "abort":
			return convert.Abort, nil
		default:
			return convert.Skip, nil
		}
	}
}
