package cardapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/config"
	apperrors "cardauth/internal/errors"
	"cardauth/internal/shared/testutil"
	"cardauth/internal/signer"
)

const (
	testAppKey    = "blsvh14llhcr96vtboqg"
	testAppSecret = "uiS9M0G8JolpUvlf5NxZ7pwMVinKs73x"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, srv *testutil.FakeCardServer, opts ...Option) (*Client, *recordingSleeper, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	sleeper := &recordingSleeper{}

	base := []Option{
		WithSleeper(sleeper.Sleep),
		WithLogger(logger),
		WithClock(func() time.Time { return time.Unix(1574654197, 0) }),
	}
	c, err := New(Config{
		AppKey:    testAppKey,
		AppSecret: testAppSecret,
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		UserAgent: "cardauth-test/1.0",
	}, append(base, opts...)...)
	require.NoError(t, err)
	return c, sleeper, logs
}

// =============================================================================
// Construction
// =============================================================================

func TestNewRequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no key", Config{AppSecret: "s"}},
		{"no secret", Config{AppKey: "k"}},
		{"bad url", Config{AppKey: "k", AppSecret: "s", BaseURL: "not a url"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{AppKey: "k", AppSecret: "s", BaseURL: "https://api.paojiaoyun.com/"})
	require.NoError(t, err)

	assert.Equal(t, "https://api.paojiaoyun.com", c.BaseURL())
	assert.Equal(t, DefaultMaxAttempts, c.cfg.MaxAttempts)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
	assert.Equal(t, DefaultUserAgent, c.cfg.UserAgent)

	c, err = New(Config{AppKey: "k", AppSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

// =============================================================================
// Request envelope
// =============================================================================

func TestLoginSendsSignedMultipartForm(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	c, _, _ := newTestClient(t, srv, WithNonce(func() string { return "359c22e4d5224771ba8e4b99cf61b372" }))

	result, err := c.Login(context.Background(), "abc3b65KDZ9Qb7UC685D2MVFR0TPc53BCU1IPD5ad20", "123")
	require.NoError(t, err)
	assert.True(t, result.OK())

	reqs := srv.Requests(PathLogin)
	require.Len(t, reqs, 1)
	req := reqs[0]

	assert.Equal(t, http.MethodPost, req.Method)
	assert.True(t, req.SignValid)
	assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "cardauth-test/1.0", req.Header.Get("User-Agent"))

	assert.Equal(t, testAppKey, req.Form[ParamAppKey])
	assert.Equal(t, "abc3b65KDZ9Qb7UC685D2MVFR0TPc53BCU1IPD5ad20", req.Form[ParamCard])
	assert.Equal(t, "123", req.Form[ParamDeviceID])
	assert.Equal(t, "1574654197", req.Form[ParamTimestamp])
	assert.Equal(t, "359c22e4d5224771ba8e4b99cf61b372", req.Form[ParamNonce])

	host, err := signer.HostFromBaseURL(srv.URL)
	require.NoError(t, err)
	want := signer.Sign(http.MethodPost, host, PathLogin, req.Form, testAppSecret)
	assert.Equal(t, want, req.Form[signer.ParamSign])
}

func TestEachAttemptGetsFreshNonce(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	srv.Enqueue(PathHeartbeat, testutil.StatusReply(http.StatusBadGateway, "upstream"), testutil.OKReply(nil))
	c, _, _ := newTestClient(t, srv)

	_, err := c.Heartbeat(context.Background(), "card-0001", "dev")
	require.NoError(t, err)

	reqs := srv.Requests(PathHeartbeat)
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].Form[ParamNonce], reqs[1].Form[ParamNonce])
	assert.Len(t, reqs[0].Form[ParamNonce], 32)
	assert.True(t, reqs[1].SignValid)
}

func TestDoGetUsesQueryString(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	c, _, _ := newTestClient(t, srv)

	_, err := c.Do(context.Background(), "get", "/v1/card/info", map[string]string{ParamCard: "x y"})
	require.NoError(t, err)

	reqs := srv.Requests("/v1/card/info")
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "x y", reqs[0].Form[ParamCard])
	assert.True(t, reqs[0].SignValid)
	assert.Empty(t, reqs[0].Header.Get("Content-Type"))
}

// =============================================================================
// Retry policy
// =============================================================================

func TestRetryTwiceThenSucceed(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	srv.Enqueue(PathLogin,
		testutil.StatusReply(http.StatusInternalServerError, "boom"),
		testutil.DropReply(),
		testutil.OKReply(map[string]interface{}{"card_type": "month", "expires_ts": 1900000000}),
	)
	c, sleeper, logs := newTestClient(t, srv)

	result, err := c.Login(context.Background(), "card-0001", "dev")
	require.NoError(t, err)
	assert.True(t, result.OK())

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
	assert.Equal(t, 3, srv.Count(PathLogin))
	assert.True(t, logs.ContainsMessage("succeeded after retry"))
}

func TestRetryExhaustedSurfacesLastError(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	srv.Enqueue(PathLogin,
		testutil.StatusReply(http.StatusServiceUnavailable, "one"),
		testutil.StatusReply(http.StatusServiceUnavailable, "two"),
		testutil.StatusReply(http.StatusBadGateway, "three"),
		testutil.OKReply(nil),
	)
	c, sleeper, _ := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "card-0001", "dev")
	require.Error(t, err)

	assert.Equal(t, 3, srv.Count(PathLogin), "no fourth attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeTransport, appErr.Type)
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "three")
	assert.Equal(t, 3, appErr.Context["attempts"])
	assert.False(t, IsNetworkError(err))
}

func TestDomainErrorIsNotRetried(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	srv.Enqueue(PathLogin, testutil.CodeReply(apperrors.CodeCardFrozen, "card frozen"))
	c, sleeper, _ := newTestClient(t, srv)

	result, err := c.Login(context.Background(), "card-0001", "dev")
	require.NoError(t, err)

	assert.False(t, result.OK())
	assert.Equal(t, apperrors.CodeCardFrozen, result.Code)
	assert.Equal(t, "card frozen", result.Message)
	assert.Equal(t, 1, srv.Count(PathLogin))
	assert.Empty(t, sleeper.Delays())
	assert.True(t, apperrors.IsDomainCode(result.Err(), apperrors.CodeCardFrozen))
}

func TestInvalidJSONIsRetried(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	srv.Enqueue(PathLogin, testutil.FakeReply{Body: "<html>proxy</html>"}, testutil.OKReply(nil))
	c, sleeper, _ := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "card-0001", "dev")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
}

func TestNetworkFailureGetsDiagnostic(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	c, sleeper, _ := newTestClient(t, srv)
	srv.Close()

	_, err := c.Login(context.Background(), "card-0001", "dev")
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, IsNetworkError(err))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTransport))
	assert.Contains(t, err.Error(), ErrNetwork.Error())
	assert.Len(t, sleeper.Delays(), 2)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	srv.Enqueue(PathLogin,
		testutil.StatusReply(http.StatusInternalServerError, "boom"),
		testutil.StatusReply(http.StatusInternalServerError, "boom"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	c, _, _ := newTestClient(t, srv, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.Login(ctx, "card-0001", "dev")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, srv.Count(PathLogin))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
		{64, 5 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffBoundsMatchConfig(t *testing.T) {
	assert.Equal(t, config.RetryBaseBackoff, BaseBackoff)
	assert.Equal(t, config.RetryMaxBackoff, MaxBackoff)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

func TestNewNonce(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := NewNonce()
		assert.Len(t, n, 32)
		assert.NotContains(t, n, "-")
		assert.False(t, seen[n])
		seen[n] = true
	}
}

// =============================================================================
// Ping
// =============================================================================

func TestPing(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	c, _, _ := newTestClient(t, srv)

	res, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Reachable)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, srv.Count(PathPing))

	srv.Enqueue(PathPing, testutil.StatusReply(http.StatusNotFound, "nope"))
	res, err = c.Ping(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Reachable)
	assert.Contains(t, res.Message, "404")
}

func TestPingUnreachable(t *testing.T) {
	srv := testutil.NewFakeCardServer(t, testAppSecret)
	c, _, _ := newTestClient(t, srv)
	srv.Close()

	res, err := c.Ping(context.Background())
	require.Error(t, err)
	assert.False(t, res.Reachable)
	assert.Equal(t, ErrNetwork.Error(), res.Message)
	assert.True(t, errors.Is(err, ErrNetwork))
}
