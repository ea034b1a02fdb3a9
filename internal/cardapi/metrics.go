package cardapi

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "cardapi"
	MeterName  = "cardapi"
)

// Metrics holds the transport instruments.
type Metrics struct {
	Requests metric.Int64Counter
	Retries  metric.Int64Counter
	Failures metric.Int64Counter
	Duration metric.Float64Histogram
}

// NewMetrics creates the transport instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Requests, err = meter.Int64Counter(
		"cardapi_requests_total",
		metric.WithDescription("Total number of card API request attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	m.Retries, err = meter.Int64Counter(
		"cardapi_retries_total",
		metric.WithDescription("Total number of card API retries after a transport failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	m.Failures, err = meter.Int64Counter(
		"cardapi_failures_total",
		metric.WithDescription("Total number of card API calls that failed after all attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	m.Duration, err = meter.Float64Histogram(
		"cardapi_attempt_duration_seconds",
		metric.WithDescription("Card API attempt duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordAttempt(ctx context.Context, path string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = classifyTransportError(err)
	}
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	)
	m.Requests.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) recordRetry(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.Retries.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

func (m *Metrics) recordFailure(ctx context.Context, path string, err error) {
	if m == nil {
		return
	}
	m.Failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("error_type", classifyTransportError(err)),
	))
}
