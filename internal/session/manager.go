// Package session owns the card session lifecycle: login, periodic
// heartbeats, logout, expiry checks and persistence of the session between
// process restarts.
//
// A Manager moves between LoggedOut, Authenticating and Authenticated.
// Expired is derived from the stored expiry and never set directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cardauth/internal/cardapi"
	apperrors "cardauth/internal/errors"
	"cardauth/internal/i18n"
	"cardauth/internal/infrastructure"
	"cardauth/internal/security"
	"cardauth/internal/storage"
)

// DefaultHeartbeatInterval is used when Options leaves the interval unset.
const DefaultHeartbeatInterval = 60 * time.Second

// API is the subset of the card API the manager calls.
type API interface {
	Login(ctx context.Context, card, deviceID string) (*cardapi.Result, error)
	Heartbeat(ctx context.Context, card, deviceID string) (*cardapi.Result, error)
	Logout(ctx context.Context, card, deviceID string) (*cardapi.Result, error)
}

// Store persists the session snapshot and the device identity.
type Store interface {
	Load(ctx context.Context) (*storage.Record, error)
	Save(ctx context.Context, rec storage.Record) error
	Clear(ctx context.Context) error
	DeviceID(ctx context.Context) (string, error)
}

// Deps are the collaborators of a Manager. A nil API yields an
// unconfigured manager whose network operations fail with
// ErrNotConfigured.
type Deps struct {
	API       API
	Store     Store
	Clock     Clock
	Scheduler Scheduler
	Notifier  Notifier
	Messages  *i18n.Translator
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Options tune a Manager.
type Options struct {
	HeartbeatInterval time.Duration
}

// Manager drives one card session.
type Manager struct {
	api       API
	store     Store
	clock     Clock
	scheduler Scheduler
	notifier  Notifier
	messages  *i18n.Translator
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	interval  time.Duration

	mu    sync.RWMutex
	state SessionState
	phase State
	// generation changes whenever the session identity changes; responses
	// tagged with an older generation are dropped.
	generation uint64
	heartbeat  Handle
}

// NewManager creates a logged-out Manager. Call Init to restore a stored
// session.
func NewManager(deps Deps, opts Options) *Manager {
	if deps.Store == nil {
		deps.Store = storage.NewSessionStore(storage.NewMemoryStore(), nil, deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewTickerScheduler()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(deps.Logger)
	}
	if deps.Messages == nil {
		deps.Messages = i18n.MustNew("en")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}

	return &Manager{
		api:       deps.API,
		store:     deps.Store,
		clock:     deps.Clock,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		messages:  deps.Messages,
		logger:    deps.Logger.With(slog.String("component", "session_manager")),
		metrics:   deps.Metrics,
		tracer:    otel.Tracer(TracerName),
		interval:  opts.HeartbeatInterval,
		phase:     StateLoggedOut,
	}
}

// Configured reports whether a card API is available.
func (m *Manager) Configured() bool {
	return m.api != nil
}

// Init restores any persisted session.
func (m *Manager) Init(ctx context.Context) error {
	ctx = infrastructure.EnsureTraceID(ctx)
	if !m.Configured() {
		m.logger.WarnContext(ctx, "card api not configured, network operations are disabled")
	}
	return m.LoadFromStorage(ctx)
}

// LoadFromStorage replaces the in-memory session with the stored one. A
// record whose expiry has passed is removed. A restored authenticated
// session resumes heartbeats without a new login when the card api is
// configured.
func (m *Manager) LoadFromStorage(ctx context.Context) error {
	rec, err := m.store.Load(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to load stored session", slog.String("error", err.Error()))
		m.metrics.recordRestore(ctx, "error")
		return nil
	}
	if rec == nil {
		m.metrics.recordRestore(ctx, "empty")
		return nil
	}

	now := m.clock.Now()
	if rec.ExpiresTs != 0 && now.Unix() >= rec.ExpiresTs {
		m.logger.InfoContext(ctx, "stored session expired, discarding",
			slog.String("card", security.MaskCard(rec.CardNumber)),
			slog.Int64("expires_ts", rec.ExpiresTs),
		)
		if err := m.store.Clear(ctx); err != nil {
			m.logger.WarnContext(ctx, "failed to clear expired session", slog.String("error", err.Error()))
		}
		m.metrics.recordRestore(ctx, "expired")
		return nil
	}

	restored := stateFromRecord(*rec)

	m.mu.Lock()
	m.generation++
	m.state = restored
	if restored.Authenticated {
		m.phase = StateAuthenticated
	} else {
		m.phase = StateLoggedOut
	}
	m.mu.Unlock()

	m.metrics.recordRestore(ctx, "restored")
	m.logger.InfoContext(ctx, "session restored",
		slog.String("card", security.MaskCard(restored.CardNumber)),
		slog.Bool("authenticated", restored.Authenticated),
		slog.Int64("expires_ts", restored.ExpiresTs),
	)

	if restored.Authenticated {
		if m.Configured() {
			m.StartHeartbeat()
		} else {
			m.logger.WarnContext(ctx, "card api not configured, heartbeats stay off for the restored session")
		}
		m.notifier.Notify(ctx, SeverityInfo, m.messages.T(i18n.MsgSessionRestored))
	}
	return nil
}

// Login verifies card with the card API and, on success, persists the new
// session and starts heartbeats. On failure the previous phase is kept and
// an error notification is emitted.
func (m *Manager) Login(ctx context.Context, card string) (err error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := m.tracer.Start(ctx, "session.login")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !m.Configured() {
		m.fail(ctx, apperrors.ErrNotConfigured)
		return apperrors.ErrNotConfigured
	}

	card = security.NormalizeCard(card)
	if card == "" {
		m.fail(ctx, apperrors.ErrEmptyCard)
		return apperrors.ErrEmptyCard
	}
	if verr := security.ValidateCard(card); verr != nil {
		err = apperrors.NewValidationError(verr.Error(), nil)
		m.fail(ctx, err)
		return err
	}
	span.SetAttributes(attribute.String("card", security.MaskCard(card)))

	m.mu.Lock()
	previous := m.phase
	m.phase = StateAuthenticating
	m.mu.Unlock()

	restore := func() {
		m.mu.Lock()
		if m.phase == StateAuthenticating {
			m.phase = previous
		}
		m.mu.Unlock()
	}

	deviceID, err := m.store.DeviceID(ctx)
	if err != nil {
		restore()
		m.metrics.recordLogin(ctx, "error")
		m.fail(ctx, err)
		return err
	}

	m.logger.InfoContext(ctx, "login started",
		slog.String("card", security.MaskCard(card)),
		slog.String("device_id", deviceID),
	)

	res, err := m.api.Login(ctx, card, deviceID)
	if err != nil {
		restore()
		m.metrics.recordLogin(ctx, "transport_error")
		m.logger.ErrorContext(ctx, "login request failed", slog.String("error", err.Error()))
		m.fail(ctx, err)
		return err
	}
	if derr := res.Err(); derr != nil {
		restore()
		m.metrics.recordLogin(ctx, "rejected")
		m.logger.WarnContext(ctx, "login rejected",
			slog.Int("code", res.Code),
			slog.String("message", res.Message),
		)
		m.fail(ctx, derr)
		return derr
	}

	info, cerr := res.Card()
	if cerr != nil {
		m.logger.WarnContext(ctx, "ignoring malformed login result fields", slog.String("error", cerr.Error()))
	}

	next := SessionState{
		Authenticated: true,
		CardNumber:    card,
		CardType:      info.CardType,
		ExpiresAt:     info.Expires,
		ExpiresTs:     info.ExpiresTs.Int64(),
	}

	m.mu.Lock()
	m.generation++
	m.state = next
	m.phase = StateAuthenticated
	// Persisting under the lock orders this write before any later clear.
	m.persist(ctx, next)
	m.mu.Unlock()

	m.StartHeartbeat()

	m.metrics.recordLogin(ctx, "success")
	m.logger.InfoContext(ctx, "login succeeded",
		slog.String("card", security.MaskCard(card)),
		slog.String("card_type", info.CardType),
		slog.Int64("expires_ts", next.ExpiresTs),
	)
	m.notifier.Notify(ctx, SeveritySuccess, m.messages.T(i18n.MsgLoginSuccess))
	return nil
}

// Heartbeat renews the session once. It returns true when the card API
// accepted the heartbeat. The session-invalidated code forces a logout;
// other rejections leave the session untouched.
func (m *Manager) Heartbeat(ctx context.Context) (ok bool, err error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := m.tracer.Start(ctx, "session.heartbeat")
	defer func() {
		span.SetAttributes(attribute.Bool("accepted", ok))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !m.Configured() {
		return false, apperrors.ErrNotConfigured
	}

	m.mu.RLock()
	phase := m.phase
	card := m.state.CardNumber
	gen := m.generation
	m.mu.RUnlock()

	if phase != StateAuthenticated {
		return false, apperrors.ErrNotAuthenticated
	}

	deviceID, err := m.store.DeviceID(ctx)
	if err != nil {
		m.metrics.recordHeartbeat(ctx, "error")
		return false, err
	}

	res, err := m.api.Heartbeat(ctx, card, deviceID)
	if err != nil {
		m.metrics.recordHeartbeat(ctx, "transport_error")
		m.logger.WarnContext(ctx, "heartbeat request failed", slog.String("error", err.Error()))
		return false, err
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.metrics.recordHeartbeat(ctx, "stale")
		m.logger.DebugContext(ctx, "dropping stale heartbeat response", slog.Int("code", res.Code))
		return false, nil
	}

	if res.Code == apperrors.CodeSessionInvalidated {
		m.mu.Unlock()
		m.metrics.recordHeartbeat(ctx, "invalidated")
		m.logger.WarnContext(ctx, "session invalidated by card service, logging out",
			slog.String("card", security.MaskCard(card)),
		)
		m.logout(ctx, true)
		m.notifier.Notify(ctx, SeverityError, m.messages.T(i18n.MsgReauthRequired))
		return false, nil
	}

	if !res.OK() {
		m.mu.Unlock()
		m.metrics.recordHeartbeat(ctx, "rejected")
		m.logger.WarnContext(ctx, "heartbeat rejected, keeping session",
			slog.Int("code", res.Code),
			slog.String("message", res.Message),
		)
		return false, nil
	}

	info, cerr := res.Card()
	if cerr != nil {
		m.logger.WarnContext(ctx, "ignoring malformed heartbeat result", slog.String("error", cerr.Error()))
	}
	now := m.clock.Now().Unix()
	m.state.LastHeartbeat = &now
	if ts := info.ExpiresTs.Int64(); ts != 0 {
		m.state.ExpiresTs = ts
		m.state.ExpiresAt = info.Expires
	}
	snapshot := m.state.clone()
	m.persist(ctx, snapshot)
	m.mu.Unlock()

	m.metrics.recordHeartbeat(ctx, "success")
	m.logger.DebugContext(ctx, "heartbeat accepted", slog.Int64("expires_ts", snapshot.ExpiresTs))
	return true, nil
}

// Logout clears the session locally and tells the card API on a best-effort
// basis. It always succeeds.
func (m *Manager) Logout(ctx context.Context) error {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := m.tracer.Start(ctx, "session.logout")
	defer span.End()

	m.logout(ctx, false)
	m.notifier.Notify(ctx, SeveritySuccess, m.messages.T(i18n.MsgLogoutSuccess))
	return nil
}

func (m *Manager) logout(ctx context.Context, forced bool) {
	m.mu.Lock()
	wasAuthenticated := m.phase == StateAuthenticated
	card := m.state.CardNumber
	m.generation++
	m.state = SessionState{}
	m.phase = StateLoggedOut
	handle := m.heartbeat
	m.heartbeat = nil
	m.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}

	if wasAuthenticated && m.Configured() {
		if deviceID, err := m.store.DeviceID(ctx); err != nil {
			m.logger.WarnContext(ctx, "skipping remote logout", slog.String("error", err.Error()))
		} else if res, err := m.api.Logout(ctx, card, deviceID); err != nil {
			m.logger.WarnContext(ctx, "remote logout failed", slog.String("error", err.Error()))
		} else if !res.OK() {
			m.logger.WarnContext(ctx, "remote logout rejected",
				slog.Int("code", res.Code),
				slog.String("message", res.Message),
			)
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.WarnContext(ctx, "failed to clear stored session", slog.String("error", err.Error()))
	}

	m.metrics.recordLogout(ctx, forced)
	m.logger.InfoContext(ctx, "logged out",
		slog.String("card", security.MaskCard(card)),
		slog.Bool("forced", forced),
	)
}

// StartHeartbeat schedules heartbeats, replacing any running schedule.
func (m *Manager) StartHeartbeat() {
	m.mu.Lock()
	previous := m.heartbeat
	m.heartbeat = m.scheduler.Every(m.interval, m.heartbeatTick)
	m.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	m.logger.Debug("heartbeat scheduled", slog.Duration("interval", m.interval))
}

// StopHeartbeat cancels scheduled heartbeats. An in-flight heartbeat is not
// interrupted.
func (m *Manager) StopHeartbeat() {
	m.mu.Lock()
	handle := m.heartbeat
	m.heartbeat = nil
	m.mu.Unlock()

	if handle != nil {
		handle.Stop()
		m.logger.Debug("heartbeat stopped")
	}
}

// HeartbeatActive reports whether heartbeats are scheduled.
func (m *Manager) HeartbeatActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeat != nil
}

func (m *Manager) heartbeatTick() {
	ctx := infrastructure.ContextWithTraceID(context.Background())
	ok, err := m.Heartbeat(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		m.logger.DebugContext(ctx, "heartbeat skipped, no session")
	case err != nil:
		m.logger.WarnContext(ctx, "scheduled heartbeat failed", slog.String("error", err.Error()))
	case !ok:
		m.logger.DebugContext(ctx, "scheduled heartbeat not accepted")
	}
}

// Close stops heartbeats.
func (m *Manager) Close() {
	m.StopHeartbeat()
}

// IsExpired reports whether the session has no known expiry or has reached
// it.
func (m *Manager) IsExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.expiredAt(m.clock.Now())
}

// TimeRemaining breaks the time left into days, hours and minutes.
func (m *Manager) TimeRemaining() Remaining {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return remainingAt(m.state.ExpiresTs, m.clock.Now())
}

// TimeRemainingText is TimeRemaining in the manager's language.
func (m *Manager) TimeRemainingText() string {
	return m.FormatRemaining(m.TimeRemaining())
}

// FormatRemaining renders r for display.
func (m *Manager) FormatRemaining(r Remaining) string {
	switch {
	case !r.Known:
		return m.messages.T(i18n.MsgTimeUnknown)
	case r.Expired:
		return m.messages.T(i18n.MsgTimeExpired)
	case r.Days > 0:
		return m.messages.TData(i18n.MsgTimeDaysHours, map[string]interface{}{"Days": r.Days, "Hours": r.Hours})
	case r.Hours > 0:
		return m.messages.TData(i18n.MsgTimeHoursMinutes, map[string]interface{}{"Hours": r.Hours, "Minutes": r.Minutes})
	default:
		return m.messages.TData(i18n.MsgTimeMinutes, map[string]interface{}{"Minutes": r.Minutes})
	}
}

// State returns the current phase. An authenticated session whose known
// expiry has passed reports StateExpired.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(m.clock.Now())
}

func (m *Manager) stateLocked(now time.Time) State {
	if m.phase == StateAuthenticated && m.state.ExpiresTs != 0 && now.Unix() >= m.state.ExpiresTs {
		return StateExpired
	}
	return m.phase
}

// Snapshot returns a copy of the session.
func (m *Manager) Snapshot() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Status returns a consistent view of the manager.
func (m *Manager) Status() Status {
	now := m.clock.Now()

	m.mu.RLock()
	st := Status{
		State:           m.stateLocked(now),
		Configured:      m.Configured(),
		Session:         m.state.clone(),
		Expired:         m.state.expiredAt(now),
		Remaining:       remainingAt(m.state.ExpiresTs, now),
		HeartbeatActive: m.heartbeat != nil,
	}
	m.mu.RUnlock()

	st.TimeRemaining = m.FormatRemaining(st.Remaining)
	return st
}

// Describe turns an error returned by the manager into a user-facing
// message.
func (m *Manager) Describe(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, apperrors.ErrNotConfigured):
		return m.messages.T(i18n.MsgNotConfigured)
	case errors.Is(err, apperrors.ErrEmptyCard):
		return m.messages.T(i18n.MsgEmptyCard)
	case cardapi.IsNetworkError(err), apperrors.IsType(err, apperrors.ErrTypeTransport):
		return m.messages.T(i18n.MsgNetworkError)
	}

	if code, ok := apperrors.DomainCode(err); ok {
		if id, known := apperrors.DomainMessageID(code); known {
			return m.messages.T(id)
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Message != "" {
			return appErr.Message
		}
		return m.messages.T(apperrors.MsgVerifyFailed)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type == apperrors.ErrTypeValidation {
		return appErr.Message
	}
	return m.messages.T(apperrors.MsgVerifyFailed)
}

func (m *Manager) fail(ctx context.Context, err error) {
	m.notifier.Notify(ctx, SeverityError, m.Describe(err))
}

func (m *Manager) persist(ctx context.Context, s SessionState) {
	if err := m.store.Save(ctx, s.record()); err != nil {
		m.logger.WarnContext(ctx, "failed to persist session", slog.String("error", err.Error()))
	}
}
