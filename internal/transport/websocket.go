package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		// Browser extension pages carry extension-scheme origins
		if originURL.Scheme == "chrome-extension" || originURL.Scheme == "moz-extension" {
			return true
		}

		return false
	},
}

// WebSocketServer pushes indicator updates to connected UI clients.
type WebSocketServer struct {
	logger *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Broadcast channel
	updates chan types.IndicatorUpdate

	// Done channel for shutdown
	done chan struct{}
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		updates: make(chan types.IndicatorUpdate, 32),
		done:    make(chan struct{}),
	}
}

// Notify queues an indicator update for broadcast. Updates are dropped when
// the queue is full rather than blocking the orchestrator.
func (ws *WebSocketServer) Notify(update types.IndicatorUpdate) {
	select {
	case ws.updates <- update:
	default:
		ws.logger.Debug("indicator update dropped, broadcast queue full")
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		// Register client
		ws.clientsMu.Lock()
		ws.clients[conn] = true
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected",
			slog.Int("total_clients", ws.ClientCount()),
		)

		// Handle client disconnect
		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected",
				slog.Int("total_clients", ws.ClientCount()),
			)
		}()

		// Read messages (mainly for ping/pong)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Start begins the broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops the WebSocket server.
func (ws *WebSocketServer) Stop() {
	close(ws.done)

	// Close all client connections
	ws.clientsMu.Lock()
	for conn := range ws.clients {
		conn.Close()
	}
	ws.clients = make(map[*websocket.Conn]bool)
	ws.clientsMu.Unlock()
}

// broadcastLoop forwards queued indicator updates to all connected clients.
func (ws *WebSocketServer) broadcastLoop() {
	for {
		select {
		case <-ws.done:
			return
		case update := <-ws.updates:
			ws.broadcastUpdate(update)
		}
	}
}

func (ws *WebSocketServer) broadcastUpdate(update types.IndicatorUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		ws.logger.Error("Failed to marshal indicator update", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			ws.logger.Debug("Failed to write to WebSocket",
				slog.String("error", err.Error()),
			)
			// Will be cleaned up by the read loop
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
