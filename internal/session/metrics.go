package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "session"
	MeterName  = "session"
)

// Metrics holds the session lifecycle instruments.
type Metrics struct {
	Logins        metric.Int64Counter
	Heartbeats    metric.Int64Counter
	Logouts       metric.Int64Counter
	ForcedLogouts metric.Int64Counter
	Restores      metric.Int64Counter
}

// NewMetrics creates the session instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Logins, err = meter.Int64Counter(
		"session_logins_total",
		metric.WithDescription("Total number of card login attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logins counter: %w", err)
	}

	m.Heartbeats, err = meter.Int64Counter(
		"session_heartbeats_total",
		metric.WithDescription("Total number of heartbeats by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeats counter: %w", err)
	}

	m.Logouts, err = meter.Int64Counter(
		"session_logouts_total",
		metric.WithDescription("Total number of logouts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logouts counter: %w", err)
	}

	m.ForcedLogouts, err = meter.Int64Counter(
		"session_forced_logouts_total",
		metric.WithDescription("Total number of logouts forced by the card service"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forced logouts counter: %w", err)
	}

	m.Restores, err = meter.Int64Counter(
		"session_restores_total",
		metric.WithDescription("Total number of sessions loaded from storage by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create restores counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordLogin(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Logins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordHeartbeat(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Heartbeats.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordLogout(ctx context.Context, forced bool) {
	if m == nil {
		return
	}
	m.Logouts.Add(ctx, 1)
	if forced {
		m.ForcedLogouts.Add(ctx, 1)
	}
}

func (m *Metrics) recordRestore(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Restores.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
