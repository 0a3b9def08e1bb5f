package chat

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// WireEvent is what goes over a chat websocket.
type WireEvent struct {
	Type    string   `json:"type"` // "message", "pong", "error"
	Message *Message `json:"message,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

// Hub tracks one live websocket per account and fans new messages out to
// both parties of a thread.
type Hub struct {
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*wsConn
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger:   logger,
		sessions: make(map[uuid.UUID]*wsConn),
	}
}

// HandleWebSocket upgrades to WebSocket. Auth middleware has already put
// the account claims in the request context.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	accountIDStr := middleware.UserIDFromContext(r.Context())
	accountID, err := uuid.Parse(accountIDStr)
	if err != nil {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, accountID)
	}).ServeHTTP(w, r)
}

func (h *Hub) serveWS(conn *websocket.Conn, accountID uuid.UUID) {
	wsc := &wsConn{conn: conn, done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[accountID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[accountID] == wsc {
			delete(h.sessions, accountID)
		}
		h.mu.Unlock()
		close(wsc.done)
	}()

	h.logger.Info("chat: websocket opened", "account_id", accountID)

	// The socket is push-only apart from pings; sends go through the HTTP
	// API so they hit the policy engine.
	for {
		var in struct {
			Type string `json:"type"`
		}
		if err := websocket.JSON.Receive(conn, &in); err != nil {
			h.logger.Debug("chat: websocket closed", "account_id", accountID, "error", err)
			return
		}
		if in.Type == "ping" {
			_ = websocket.JSON.Send(conn, WireEvent{Type: "pong"})
		}
	}
}

// Push delivers the event to the account's live connection, if any.
func (h *Hub) Push(accountID uuid.UUID, event WireEvent) {
	h.mu.RLock()
	wsc, ok := h.sessions[accountID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	_ = websocket.JSON.Send(wsc.conn, event)
}

// Connected reports whether the account has a live connection.
func (h *Hub) Connected(accountID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[accountID]
	return ok
}
