package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/shared/testutil"
)

// =============================================================================
// AppError
// =============================================================================

func TestAppErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{"transport without cause", NewTransportError("request failed", nil), "[TRANSPORT] request failed"},
		{"transport with cause", NewTransportError("request failed", fmt.Errorf("dial tcp: refused")), "[TRANSPORT] request failed: dial tcp: refused"},
		{"domain", NewDomainError(CodeCardFrozen, "card frozen"), "[DOMAIN 10212] card frozen"},
		{"http status", NewHTTPStatusError(502, "bad gateway"), "[TRANSPORT] HTTP 502: bad gateway"},
		{"storage", NewStorageError("corrupt record", nil), "[STORAGE] corrupt record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppErrorUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := fmt.Errorf("login: %w", NewTransportError("request failed", cause))

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsType(err, ErrTypeTransport))
	assert.False(t, IsType(err, ErrTypeDomain))

	wrapped := fmt.Errorf("heartbeat: %w", ErrNotConfigured)
	assert.True(t, stderrors.Is(wrapped, ErrNotConfigured))
	assert.False(t, stderrors.Is(wrapped, ErrNotAuthenticated))
}

func TestHTTPStatusErrorCarriesStatus(t *testing.T) {
	err := NewHTTPStatusError(503, "maintenance")

	var appErr *AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, 503, appErr.StatusCode)
	assert.Equal(t, ErrTypeTransport, appErr.Type)
}

func TestDomainCodeHelpers(t *testing.T) {
	err := fmt.Errorf("heartbeat: %w", NewDomainError(CodeSessionInvalidated, "session gone"))

	assert.True(t, IsDomainCode(err, CodeSessionInvalidated))
	assert.False(t, IsDomainCode(err, CodeCardExpired))

	code, ok := DomainCode(err)
	assert.True(t, ok)
	assert.Equal(t, CodeSessionInvalidated, code)

	_, ok = DomainCode(NewTransportError("x", nil))
	assert.False(t, ok)
	_, ok = DomainCode(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestWithContext(t *testing.T) {
	err := NewStorageError("write failed", nil).WithContext("key", "cardAuth")
	assert.Equal(t, "cardAuth", err.Context["key"])

	bare := &AppError{Type: ErrTypeStorage}
	bare.WithContext("k", 1)
	assert.Equal(t, 1, bare.Context["k"])
}

func TestDomainMessageID(t *testing.T) {
	for _, code := range KnownDomainCodes() {
		id, ok := DomainMessageID(code)
		assert.True(t, ok, "code %d", code)
		assert.NotEmpty(t, id)
	}

	_, ok := DomainMessageID(99999)
	assert.False(t, ok)
	_, ok = DomainMessageID(CodeOK)
	assert.False(t, ok)
}

// =============================================================================
// ErrorHandler
// =============================================================================

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"card expired", NewDomainError(CodeCardExpired, "expired"), http.StatusUnprocessableEntity, TypeCardExpired},
		{"card frozen", NewDomainError(CodeCardFrozen, "frozen"), http.StatusUnprocessableEntity, TypeCardFrozen},
		{"unknown code", NewDomainError(777, "server says no"), http.StatusUnprocessableEntity, TypeCardRejected},
		{"transport", NewTransportError("unreachable", nil), http.StatusBadGateway, TypeUpstream},
		{"not configured", ErrNotConfigured, http.StatusServiceUnavailable, TypeNotConfigured},
		{"not authenticated", ErrNotAuthenticated, http.StatusUnauthorized, TypeUnauthorized},
		{"empty card", ErrEmptyCard, http.StatusBadRequest, TypeValidation},
		{"api error", ErrRateLimitExceeded, http.StatusTooManyRequests, TypeRateLimit},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			req := httptest.NewRequest(http.MethodPost, "/api/session/login", nil)
			rec := httptest.NewRecorder()
			handler.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, "/api/session/login", body["instance"])
			assert.True(t, logs.ContainsMessage("request failed"))
			testutil.AssertLogAttr(t, logs, "component", "error_handler")
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	handler.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, rec.Body.Len())
	assert.Equal(t, 0, logs.Count())
}

func TestErrorHandler_DomainCodeExtension(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	handler.HandleError(rec, httptest.NewRequest(http.MethodPost, "/x", nil), NewDomainError(CodeDeviceLimit, "too many devices"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(CodeDeviceLimit), body["code"])
	assert.Equal(t, "too many devices", body["detail"])
}

func TestErrorHandler_Recoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, true)

	panicky := handler.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "kaboom")
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	handler.NotFound(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "DELETE")
}

// =============================================================================
// APIError / ProblemDetails
// =============================================================================

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrValidation("card", "required"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			ErrorCode string          `json:"error_code"`
			Details   ValidationError `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.ErrorCode)
	assert.Equal(t, "card", resp.Error.Details.Field)
}

func TestProblemDetailsMarshalFlattensExtensions(t *testing.T) {
	pd := NewProblemDetails(http.StatusBadGateway, TypeUpstream, "Card Service Unreachable", "", "/api/ping").
		WithExtension("upstream_status", 502).
		WithExtension("type", "ignored")

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, TypeUpstream, body["type"])
	assert.Equal(t, float64(502), body["upstream_status"])
	_, hasDetail := body["detail"]
	assert.False(t, hasDetail)
}
