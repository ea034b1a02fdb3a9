package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"cardauth/internal/infrastructure"
)

// Handler upgrades HTTP requests to notification sockets
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler for hub
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  hub.cfg.ReadBufferSize,
			WriteBufferSize: hub.cfg.WriteBufferSize,
			CheckOrigin:     checkLocalOrigin,
		},
		logger: infrastructure.WithComponent(hub.logger, "websocket_handler"),
	}
}

// checkLocalOrigin accepts requests without an Origin header and those
// whose origin host matches the request host or is a loopback name.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ServeHTTP upgrades the connection and starts the client pumps
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewClient(h.hub, WrapConn(conn), infrastructure.GetTraceID(ctx))
	if err := h.hub.Register(client); err != nil {
		h.logger.WarnContext(ctx, "websocket client rejected", slog.String("error", err.Error()))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
