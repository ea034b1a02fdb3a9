package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"cardauth/internal/config"
	apierrors "cardauth/internal/errors"
	"cardauth/internal/i18n"
)

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Configured bool   `json:"configured"`
	Session    string `json:"session"`
	Uptime     string `json:"uptime"`
}

// ConfigStatusResponse is the body of GET /api/config/status
type ConfigStatusResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	BaseURL string `json:"base_url"`
}

// HealthHandler serves health, config status and connectivity checks
type HealthHandler struct {
	service  SessionService
	pinger   Pinger
	card     config.CardConfig
	messages *i18n.Translator
	errors   *apierrors.ErrorHandler
	started  time.Time
	logger   *slog.Logger
}

// NewHealthHandler creates a health handler. pinger may be nil when the card
// API is not configured.
func NewHealthHandler(service SessionService, pinger Pinger, card config.CardConfig, messages *i18n.Translator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service:  service,
		pinger:   pinger,
		card:     card,
		messages: messages,
		errors:   errorHandler,
		started:  time.Now(),
		logger:   logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.service.Status()
	render.JSON(w, r, HealthResponse{
		Status:     "ok",
		Version:    config.AppVersion,
		Configured: st.Configured,
		Session:    st.State.String(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	})
}

// ConfigStatus handles GET /api/config/status
func (h *HealthHandler) ConfigStatus(w http.ResponseWriter, r *http.Request) {
	st := h.card.Status()
	render.JSON(w, r, ConfigStatusResponse{
		Valid:   st.Valid,
		Message: h.messages.T(st.MessageID),
		BaseURL: h.card.BaseURL,
	})
}

// Ping handles GET /api/ping
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		h.errors.HandleError(w, r, apierrors.ErrNotConfigured)
		return
	}

	res, err := h.pinger.Ping(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "card api unreachable", slog.String("error", err.Error()))
	}
	// An unreachable host is reported in the body with a 200 status.
	render.JSON(w, r, res)
}
