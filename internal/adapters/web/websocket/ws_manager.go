// Package websocket streams verdicts and IV reuse events to browser clients.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

// Message types sent to clients.
const (
	TypeVerdict = "verdict"
	TypeIVReuse = "iv_reuse"
)

const writeWait = 5 * time.Second

// DefaultAllowedOrigins are accepted when no origin list is configured.
var DefaultAllowedOrigins = []string{
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"http://[::1]:8080",
}

type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSManager keeps the connected clients and fans events out to them.
type WSManager struct {
	upgrader ws.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*ws.Conn]struct{}
}

var _ ports.EventPublisher = (*WSManager)(nil)

// NewWSManager accepts connections whose Origin header is empty or listed
// in allowedOrigins. A nil list means DefaultAllowedOrigins.
func NewWSManager(allowedOrigins []string, logger *slog.Logger) *WSManager {
	if allowedOrigins == nil {
		allowedOrigins = DefaultAllowedOrigins
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &WSManager{
		logger:  logger,
		clients: make(map[*ws.Conn]struct{}),
	}
	m.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Same-origin requests carry no Origin header
			if origin == "" || slices.Contains(allowedOrigins, origin) {
				return true
			}
			logger.Warn("WebSocket: rejected origin", "origin", origin)
			return false
		},
	}
	return m
}

func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = struct{}{}
	m.mu.Unlock()
	m.logger.Info("WebSocket connected", "remote", r.RemoteAddr)

	// Clients never send anything; reading only detects the disconnect.
	go func() {
		defer m.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *WSManager) remove(conn *ws.Conn) {
	m.mu.Lock()
	_, ok := m.clients[conn]
	delete(m.clients, conn)
	m.mu.Unlock()
	if ok {
		conn.Close()
		m.logger.Info("WebSocket disconnected", "remote", conn.RemoteAddr().String())
	}
}

// ClientCount returns the number of connected clients.
func (m *WSManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// PublishVerdict sends a finished probe verdict to all clients.
func (m *WSManager) PublishVerdict(v domain.TestVerdict) {
	m.broadcastMessage(WSMessage{Type: TypeVerdict, Payload: v})
}

// PublishIVReuse sends an IV reuse detection to all clients.
func (m *WSManager) PublishIVReuse(e domain.IVReuseEvent) {
	m.broadcastMessage(WSMessage{Type: TypeIVReuse, Payload: e})
}

// Close disconnects every client.
func (m *WSManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.Close()
		delete(m.clients, conn)
	}
}

func (m *WSManager) broadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("JSON marshal error", "type", msg.Type, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
			conn.Close()
			delete(m.clients, conn)
		}
	}
}
