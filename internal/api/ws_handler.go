package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"github.com/phrazzld/melody-api/internal/task"
)

// Subscriber is the part of the progress broadcaster the websocket needs.
type Subscriber interface {
	Subscribe() *task.Subscription
	Unsubscribe(sub *task.Subscription)
}

// WebSocketConfig tunes websocket connections.
type WebSocketConfig struct {
	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration
	// PingInterval is how often idle connections are pinged
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns a WebSocketConfig with reasonable defaults
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// WebSocketHandler streams progress updates to websocket clients. Every
// connection is one broadcaster subscription; messages from the client are
// read and discarded.
type WebSocketHandler struct {
	broadcaster Subscriber
	config      WebSocketConfig
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(broadcaster Subscriber, config WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	defaults := DefaultWebSocketConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		broadcaster: broadcaster,
		config:      config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin clients are allowed, like the REST routes.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "websocket_handler"),
	}
}

// Register mounts the websocket route on r.
func (h *WebSocketHandler) Register(r chi.Router) {
	r.Get("/ws", h.Serve)
}

// Serve handles GET /ws requests.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	log.Info("websocket subscriber connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readLoop(conn, cancel)

	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("websocket subscriber disconnected")
			return

		case update, ok := <-sub.Updates():
			if !ok {
				// Dropped by the broadcaster or shutting down.
				h.writeClose(conn, websocket.CloseGoingAway, "subscription closed")
				log.Info("websocket subscription closed by broadcaster")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// calls done once the connection is gone.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(h.config.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
