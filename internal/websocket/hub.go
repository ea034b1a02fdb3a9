package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cardauth/internal/config"
	"cardauth/internal/infrastructure"
	"cardauth/internal/session"
)

// Message types sent to clients
const (
	TypeConnection   = "connection"
	TypeNotification = "notification"
)

// broadcastBufferSize bounds the hub's pending notifications. Notify never
// blocks the session manager; overflow is dropped and counted.
const broadcastBufferSize = 64

// ErrHubStopped is returned when registering with a hub that is not running.
var ErrHubStopped = errors.New("websocket hub stopped")

// Message is the envelope written to clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// NotificationData is the payload of a notification message
type NotificationData struct {
	Severity session.Severity `json:"severity"`
	Message  string           `json:"message"`
}

// Hub maintains the set of active clients and fans notifications out to them
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *slog.Logger
	metrics *Metrics

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub. Run must be called before clients connect.
// metrics may be nil.
func NewHub(cfg config.WebSocketConfig, logger *slog.Logger, metrics *Metrics) *Hub {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	return &Hub{
		cfg:        cfg,
		logger:     infrastructure.WithComponent(logger, "websocket_hub"),
		metrics:    metrics,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBufferSize),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled. On
// exit every client's send channel is closed so its write pump sends a
// close frame.
func (h *Hub) Run(ctx context.Context) {
	h.logger.InfoContext(ctx, "websocket hub started")
	defer func() {
		h.stopOnce.Do(func() { close(h.done) })
		h.mu.Lock()
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
			h.metrics.disconnected(ctx)
		}
		h.mu.Unlock()
		h.logger.InfoContext(ctx, "websocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.connected(ctx)

			client.logger.InfoContext(client.context(), "websocket client connected",
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

			if msg, err := encode(ctx, TypeConnection, map[string]string{
				"status":    "connected",
				"client_id": client.id,
			}); err == nil {
				h.deliver(ctx, client, msg)
			}

		case client := <-h.unregister:
			h.remove(ctx, client, "closed")

		case message := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			for _, client := range targets {
				h.deliver(ctx, client, message)
			}
		}
	}
}

// deliver queues message for client. A client whose queue is full is
// dropped. Only called from Run.
func (h *Hub) deliver(ctx context.Context, client *Client, message []byte) {
	select {
	case client.send <- message:
		h.metrics.sent(ctx, 1)
	default:
		h.remove(ctx, client, "slow client")
	}
}

// remove forgets client and closes its send channel. Only called from Run.
func (h *Hub) remove(ctx context.Context, client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.disconnected(ctx)

	client.logger.InfoContext(client.context(), "websocket client disconnected",
		slog.String("reason", reason),
		slog.Duration("connected_for", time.Since(client.connectedAt)),
		slog.Int("total_clients", count))
}

// Register adds client to the hub
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify broadcasts a notification to every client. It never blocks; when
// the broadcast queue is full the notification is dropped.
func (h *Hub) Notify(ctx context.Context, severity session.Severity, message string) {
	msg, err := encode(ctx, TypeNotification, NotificationData{Severity: severity, Message: message})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode notification", slog.String("error", err.Error()))
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- msg:
	default:
		h.metrics.dropped(ctx)
		h.logger.WarnContext(ctx, "notification dropped, broadcast queue full",
			slog.String("severity", string(severity)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(ctx context.Context, msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	})
}

var _ session.Notifier = (*Hub)(nil)
