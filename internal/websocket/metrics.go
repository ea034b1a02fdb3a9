package websocket

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the hub instruments.
const MeterName = "websocket"

// Metrics holds the hub instruments
type Metrics struct {
	ConnectionsTotal  metric.Int64Counter
	ConnectionsActive metric.Int64UpDownCounter
	MessagesSent      metric.Int64Counter
	DroppedMessages   metric.Int64Counter
}

// NewMetrics creates the hub instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ConnectionsTotal, err = meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	m.ConnectionsActive, err = meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active connections counter: %w", err)
	}

	m.MessagesSent, err = meter.Int64Counter(
		"websocket_messages_sent_total",
		metric.WithDescription("Total number of messages queued to WebSocket clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}

	m.DroppedMessages, err = meter.Int64Counter(
		"websocket_dropped_messages_total",
		metric.WithDescription("Total number of notifications dropped because a queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped messages counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Add(ctx, 1)
	m.ConnectionsActive.Add(ctx, 1)
}

func (m *Metrics) disconnected(ctx context.Context) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Add(ctx, -1)
}

func (m *Metrics) sent(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesSent.Add(ctx, int64(n))
}

func (m *Metrics) dropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.DroppedMessages.Add(ctx, 1)
}
