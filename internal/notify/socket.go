package notify

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware gates the HTTP surface.
	},
}

type socketClient struct {
	send chan []byte
}

// SocketHub keeps one notifications websocket set per account and fans
// notifications out to every open session of that account.
type SocketHub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*socketClient]struct{}
}

func NewSocketHub(logger *logging.Logger) *SocketHub {
	if logger == nil {
		logger = logging.Default()
	}
	return &SocketHub{
		logger:  logger,
		clients: make(map[uuid.UUID]map[*socketClient]struct{}),
	}
}

// HandleConnect upgrades to WebSocket. Auth middleware has already put the
// account claims in the request context.
func (h *SocketHub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("notify: websocket upgrade failed", "error", err)
		return
	}

	client := &socketClient{send: make(chan []byte, 64)}
	h.register(accountID, client)
	h.logger.Info("notify: websocket opened", "account_id", accountID)

	go h.writePump(client, ws)
	go h.readPump(accountID, client, ws)
}

func (h *SocketHub) register(accountID uuid.UUID, client *socketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*socketClient]struct{})
	}
	h.clients[accountID][client] = struct{}{}
}

func (h *SocketHub) unregister(accountID uuid.UUID, client *socketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.clients[accountID]
	if !ok {
		return
	}
	if _, ok := sessions[client]; !ok {
		return
	}
	delete(sessions, client)
	if len(sessions) == 0 {
		delete(h.clients, accountID)
	}
	close(client.send)
}

// readPump discards inbound frames; the socket is push-only.
func (h *SocketHub) readPump(accountID uuid.UUID, client *socketClient, ws *websocket.Conn) {
	defer func() {
		h.unregister(accountID, client)
		ws.Close()
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SocketHub) writePump(client *socketClient, ws *websocket.Conn) {
	defer ws.Close()
	for message := range client.send {
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// Push delivers the notification to every open session of the account.
func (h *SocketHub) Push(accountID uuid.UUID, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("notify: marshal notification", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[accountID] {
		select {
		case client.send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// ClientCount returns the number of open sessions across all accounts.
func (h *SocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.clients {
		n += len(sessions)
	}
	return n
}
