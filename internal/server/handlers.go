// Package server exposes HTTP handlers, including WebSocket upgrades, the
// liveness text endpoint and the JSON health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the dependencies of the HTTP endpoints.
type Handlers struct {
	cfg      Config
	hub      *Hub
	store    Pinger
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandlers builds the endpoint set. store may be nil, in which case
// /health reports the store as unchecked.
func NewHandlers(cfg Config, hub *Hub, store Pinger, logger *zap.Logger) *Handlers {
	cfg = SanitizeConfig(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := newOriginChecker(cfg.AllowedOrigins, logger)
	return &Handlers{
		cfg:   cfg,
		hub:   hub,
		store: store,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// WebSocket handles WebSocket upgrade requests. It validates that the request
// uses the GET method, upgrades the connection and hands a new Client to the
// hub, which starts its pumps.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg)
	if !h.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Root responds with a plain text message indicating the server is running.
func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "zodiacchat server is running!")
}

type healthResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Clients int    `json:"clients"`
	Error   string `json:"error,omitempty"`
}

// Health reports server and store status as JSON. It answers 503 when the
// store ping fails.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{Status: "ok", Store: "unchecked"}
	if h.hub != nil {
		resp.Clients = h.hub.ClientCount()
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.log.Error("health-check: store ping failed", zap.Error(err))
			resp.Status = "error"
			resp.Store = "disconnected"
			resp.Error = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		resp.Store = "connected"
	}

	_ = json.NewEncoder(w).Encode(resp)
}
