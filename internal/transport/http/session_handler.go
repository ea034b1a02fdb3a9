package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "cardauth/internal/errors"
	customMiddleware "cardauth/internal/middleware"
	"cardauth/internal/security"
	"cardauth/internal/session"
)

// LoginRequest is the body of POST /api/session/login
type LoginRequest struct {
	Card string `json:"card" validate:"required,max=256"`
}

// SessionView is the JSON form of a session status
type SessionView struct {
	State           string `json:"state"`
	Configured      bool   `json:"configured"`
	Authenticated   bool   `json:"authenticated"`
	Card            string `json:"card,omitempty"`
	CardType        string `json:"card_type,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	ExpiresTs       int64  `json:"expires_ts,omitempty"`
	LastHeartbeat   *int64 `json:"last_heartbeat"`
	Expired         bool   `json:"expired"`
	TimeRemaining   string `json:"time_remaining"`
	HeartbeatActive bool   `json:"heartbeat_active"`
}

// NewSessionView builds the view of st with the card masked
func NewSessionView(st session.Status) SessionView {
	view := SessionView{
		State:           st.State.String(),
		Configured:      st.Configured,
		Authenticated:   st.Session.Authenticated,
		CardType:        st.Session.CardType,
		ExpiresAt:       st.Session.ExpiresAt,
		ExpiresTs:       st.Session.ExpiresTs,
		LastHeartbeat:   st.Session.LastHeartbeat,
		Expired:         st.Expired,
		TimeRemaining:   st.TimeRemaining,
		HeartbeatActive: st.HeartbeatActive,
	}
	if st.Session.CardNumber != "" {
		view.Card = security.MaskCard(st.Session.CardNumber)
	}
	return view
}

// SessionResponse wraps a session view with a user-facing message
type SessionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Session SessionView `json:"session"`
	TraceID string      `json:"trace_id,omitempty"`
}

// SessionHandler exposes the session manager over HTTP
type SessionHandler struct {
	service      SessionService
	validator    *customMiddleware.Validator
	loginLimiter *customMiddleware.RateLimiter
	errors       *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewSessionHandler creates a session handler. A nil limiter leaves login
// unthrottled.
func NewSessionHandler(service SessionService, limiter *customMiddleware.RateLimiter, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service:      service,
		validator:    customMiddleware.NewValidator(),
		loginLimiter: limiter,
		errors:       errorHandler,
		logger:       logger.With(slog.String("handler", "session")),
	}
}

// Routes returns a chi router for session endpoints
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetSession)
	r.Group(func(r chi.Router) {
		if h.loginLimiter != nil {
			r.Use(h.loginLimiter.Handler)
		}
		r.Use(customMiddleware.ContentTypeValidator("application/json"))
		r.Post("/login", h.Login)
	})
	r.Post("/logout", h.Logout)
	r.Post("/heartbeat", h.Heartbeat)

	return r
}

// GetSession handles GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, NewSessionView(h.service.Status()))
}

// Login handles POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	if err := h.service.Login(ctx, req.Card); err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "login via api", slog.String("card", security.MaskCard(req.Card)))
	render.JSON(w, r, SessionResponse{
		Success: true,
		Session: NewSessionView(h.service.Status()),
		TraceID: middleware.GetReqID(ctx),
	})
}

// Logout handles POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, SessionResponse{
		Success: true,
		Session: NewSessionView(h.service.Status()),
		TraceID: middleware.GetReqID(r.Context()),
	})
}

// Heartbeat handles POST /api/session/heartbeat. A heartbeat the card API
// declined is reported with success=false and a 200 status.
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ok, err := h.service.Heartbeat(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, SessionResponse{
		Success: ok,
		Session: NewSessionView(h.service.Status()),
		TraceID: middleware.GetReqID(r.Context()),
	})
}

// fail renders err as a problem document carrying the localized message
func (h *SessionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	problem := h.errors.ErrorToProblem(err, r)
	problem.WithExtension("message", h.service.Describe(err))
	problem.WithExtension("trace_id", middleware.GetReqID(r.Context()))

	h.logger.WarnContext(r.Context(), "session request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status),
		slog.String("error", err.Error()),
	)
	render.Render(w, r, problem)
}
