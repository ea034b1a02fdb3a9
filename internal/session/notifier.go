package session

import (
	"context"
	"log/slog"
)

// Severity classifies a user notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier delivers user-facing messages.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, severity Severity, message string)

func (f NotifierFunc) Notify(ctx context.Context, severity Severity, message string) {
	f(ctx, severity, message)
}

// MultiNotifier fans a notification out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, severity Severity, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, severity, message)
		}
	}
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, severity Severity, message string) {
	level := slog.LevelInfo
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, message, slog.String("severity", string(severity)))
}
