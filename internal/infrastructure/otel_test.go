package infrastructure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cardauth/internal/config"
	"cardauth/internal/shared/testutil"
)

func TestOTelInitialization(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.TelemetryConfig
		wantErr     bool
		wantMetrics bool
		wantTracing bool
	}{
		{
			name:        "metrics only",
			cfg:         config.TelemetryConfig{EnableMetrics: true, TraceExporter: "none"},
			wantMetrics: true,
		},
		{
			name:        "tracing to stdout",
			cfg:         config.TelemetryConfig{EnableTracing: true, TraceExporter: "stdout", ServiceName: "test"},
			wantTracing: true,
		},
		{
			name: "tracing enabled without exporter",
			cfg:  config.TelemetryConfig{EnableTracing: true, TraceExporter: "none"},
		},
		{
			name:    "unknown exporter",
			cfg:     config.TelemetryConfig{EnableTracing: true, TraceExporter: "otlp"},
			wantErr: true,
		},
		{
			name: "everything disabled",
			cfg:  config.TelemetryConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			providers, err := InitializeOTel(tt.cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = providers.Shutdown(ctx)
			})

			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.Equal(t, tt.wantMetrics, providers.MetricsHandler != nil)
			assert.Equal(t, tt.wantMetrics, providers.MeterProvider != nil)
			assert.Equal(t, tt.wantTracing, providers.TracerProvider != nil)
		})
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := InitializeOTel(config.TelemetryConfig{EnableMetrics: true}, logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	httpMetrics, err := NewHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	httpMetrics.RequestsTotal.Add(context.Background(), 3,
		metric.WithAttributes(attribute.String("route", "/api/health")))

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), `route="/api/health"`)
}

func TestHTTPMetricsOnNoopMeter(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := InitializeOTel(config.TelemetryConfig{}, logger)
	require.NoError(t, err)

	m, err := NewHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	m.ActiveRequests.Add(context.Background(), 1)
	m.RequestDuration.Record(context.Background(), 0.5)
}

func TestSpanHelpers(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := InitializeOTel(config.TelemetryConfig{EnableTracing: true, TraceExporter: "stdout"}, logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	assert.Empty(t, TraceIDFromContext(context.Background()))
	RecordError(context.Background(), errors.New("no span"))

	ctx, span := providers.Tracer.Start(context.Background(), "test")
	defer span.End()

	assert.Len(t, TraceIDFromContext(ctx), 32)
	RecordError(ctx, errors.New("boom"))
}
