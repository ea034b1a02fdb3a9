// Package cardapi is the signed HTTP transport for the card licensing API.
//
// Every call carries the common envelope (app_key, timestamp, nonce, sign),
// POST bodies are multipart forms, and transport failures are retried with
// capped exponential backoff. A well-formed reply with a non-zero code is a
// domain answer and is returned to the caller untouched.
package cardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "cardauth/internal/errors"
	"cardauth/internal/signer"
)

// Endpoint paths.
const (
	PathLogin     = "/v1/card/login"
	PathHeartbeat = "/v1/card/heartbeat"
	PathLogout    = "/v1/card/logout"
	PathPing      = "/ping"
)

// Request parameter names.
const (
	ParamAppKey    = "app_key"
	ParamTimestamp = "timestamp"
	ParamNonce     = "nonce"
	ParamCard      = "card"
	ParamDeviceID  = "device_id"
)

const (
	DefaultBaseURL     = "https://api.paojiaoyun.com"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second
	DefaultUserAgent   = "cardauth/1.0"

	BaseBackoff = time.Second
	MaxBackoff  = 5 * time.Second

	maxResponseBytes = 1 << 20
)

// ErrNetwork marks a call that never reached the API after every attempt.
var ErrNetwork = errors.New("network connection failed, check the connection and that the card API host is reachable")

// Config holds the credentials and transport settings.
type Config struct {
	AppKey      string
	AppSecret   string
	BaseURL     string
	MaxAttempts int
	Timeout     time.Duration
	UserAgent   string
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithClock replaces the time source used for the timestamp parameter.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithNonce replaces the nonce generator.
func WithNonce(fn func() string) Option {
	return func(c *Client) { c.nonce = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables transport metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client performs signed calls against one card API deployment.
type Client struct {
	cfg     Config
	baseURL string
	signer  *signer.Signer
	http    *http.Client
	sleep   Sleeper
	now     func() time.Time
	nonce   func() string
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// New creates a Client. Missing credentials or an unparsable base URL are
// CONFIG errors.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, apperrors.NewConfigError("app key and app secret are required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	s, err := signer.New(cfg.BaseURL, cfg.AppSecret)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid base url", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		signer:  s,
		http:    &http.Client{},
		sleep:   SleepContext,
		now:     time.Now,
		nonce:   NewNonce,
		logger:  slog.Default(),
		tracer:  otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "card_api"))
	return c, nil
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login calls POST /v1/card/login.
func (c *Client) Login(ctx context.Context, card, deviceID string) (*Result, error) {
	return c.Do(ctx, http.MethodPost, PathLogin, cardParams(card, deviceID))
}

// Heartbeat calls POST /v1/card/heartbeat.
func (c *Client) Heartbeat(ctx context.Context, card, deviceID string) (*Result, error) {
	return c.Do(ctx, http.MethodPost, PathHeartbeat, cardParams(card, deviceID))
}

// Logout calls POST /v1/card/logout.
func (c *Client) Logout(ctx context.Context, card, deviceID string) (*Result, error) {
	return c.Do(ctx, http.MethodPost, PathLogout, cardParams(card, deviceID))
}

func cardParams(card, deviceID string) map[string]string {
	return map[string]string{
		ParamCard:     card,
		ParamDeviceID: deviceID,
	}
}

// Do performs one signed call with retries. params must not contain the
// common envelope fields; they are added on every attempt so each attempt
// has a fresh timestamp and nonce.
func (c *Client) Do(ctx context.Context, method, path string, params map[string]string) (*Result, error) {
	method = strings.ToUpper(method)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, err := c.attempt(ctx, method, path, params, attempt)
		if err == nil {
			if attempt > 1 {
				c.logger.InfoContext(ctx, "card api request succeeded after retry",
					slog.String("path", path),
					slog.Int("attempt", attempt),
				)
			}
			return result, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewTransportError("request cancelled", ctxErr)
		}

		c.logger.WarnContext(ctx, "card api attempt failed",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := Backoff(attempt)
		c.metrics.recordRetry(ctx, path)
		c.logger.DebugContext(ctx, "backing off before retry",
			slog.String("path", path),
			slog.Duration("delay", delay),
			slog.Int("next_attempt", attempt+1),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, apperrors.NewTransportError("request cancelled", err)
		}
	}

	c.metrics.recordFailure(ctx, path, lastErr)
	c.logger.ErrorContext(ctx, "card api request failed",
		slog.String("path", path),
		slog.Int("attempts", c.cfg.MaxAttempts),
		slog.String("error", lastErr.Error()),
	)
	return nil, exhausted(lastErr, c.cfg.MaxAttempts)
}

func (c *Client) attempt(ctx context.Context, method, path string, params map[string]string, n int) (*Result, error) {
	signed := c.signedParams(method, path, params)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "cardapi."+strings.TrimPrefix(path, "/"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("cardapi.path", path),
			attribute.Int("cardapi.attempt", n),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := c.roundTrip(ctx, method, path, signed)
	c.metrics.recordAttempt(ctx, path, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("cardapi.error_type", classifyTransportError(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("cardapi.code", result.Code))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (c *Client) signedParams(method, path string, params map[string]string) map[string]string {
	signed := make(map[string]string, len(params)+4)
	for k, v := range params {
		signed[k] = v
	}
	signed[ParamAppKey] = c.cfg.AppKey
	signed[ParamTimestamp] = strconv.FormatInt(c.now().Unix(), 10)
	signed[ParamNonce] = c.nonce()
	signed[signer.ParamSign] = c.signer.Sign(method, path, signed)
	return signed
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params map[string]string) (*Result, error) {
	req, err := c.newRequest(ctx, method, path, params)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to create request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewTransportError("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewHTTPStatusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.NewTransportError("invalid response body", err)
	}
	return &result, nil
}

// newRequest encodes POST parameters as multipart form fields and any other
// method's parameters as a query string.
func (c *Client) newRequest(ctx context.Context, method, path string, params map[string]string) (*http.Request, error) {
	endpoint := c.baseURL + path

	var body io.Reader
	var contentType string
	if method == http.MethodPost {
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for _, k := range slices.Sorted(maps.Keys(params)) {
			if err := w.WriteField(k, params[k]); err != nil {
				return nil, fmt.Errorf("failed to write form field %s: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close form: %w", err)
		}
		body = buf
		contentType = w.FormDataContentType()
	} else if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return req, nil
}

// PingResult reports API reachability.
type PingResult struct {
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Message    string        `json:"message"`
}

// Ping issues one unsigned GET {base}/ping. It is not retried.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "cardapi.ping", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathPing, nil)
	if err != nil {
		return PingResult{Message: err.Error()}, apperrors.NewTransportError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WarnContext(ctx, "card api ping failed", slog.String("error", err.Error()))
		return PingResult{Latency: latency, Message: ErrNetwork.Error()},
			apperrors.NewTransportError("ping failed", fmt.Errorf("%w: %w", ErrNetwork, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	res := PingResult{StatusCode: resp.StatusCode, Latency: latency}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		res.Reachable = true
		res.Message = fmt.Sprintf("connected (%d)", resp.StatusCode)
	} else {
		res.Message = fmt.Sprintf("connection failed: HTTP %d", resp.StatusCode)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	c.logger.DebugContext(ctx, "card api ping",
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", latency),
	)
	return res, nil
}

// Backoff returns the delay before the attempt following attempt:
// min(1s * 2^(attempt-1), 5s).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 8 {
		return MaxBackoff
	}
	return min(BaseBackoff<<(attempt-1), MaxBackoff)
}

// SleepContext waits for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewNonce returns 32 random alphanumeric characters.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsNetworkError reports whether err is a transport failure that never got an
// HTTP answer.
func IsNetworkError(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func exhausted(err error, attempts int) error {
	if IsNetworkError(err) {
		return apperrors.NewTransportError(
			fmt.Sprintf("request failed after %d attempts", attempts),
			fmt.Errorf("%w: %w", ErrNetwork, err),
		).WithContext("attempts", attempts)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		appErr.WithContext("attempts", attempts)
	}
	return err
}

func classifyTransportError(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return fmt.Sprintf("http_%dxx", appErr.StatusCode/100)
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns_error"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case IsNetworkError(err):
		return "network_error"
	default:
		return "invalid_response"
	}
}
