// Package notify delivers operator alerts for conditions that need human
// attention, such as a paused agent after a worker crash.
package notify

import (
	"context"
	"log/slog"
)

// LogAlerter writes alerts to the structured log. It is the default sink
// when no external channel is configured.
type LogAlerter struct {
	Logger *slog.Logger
}

// Alert logs the alert at warning level.
func (l *LogAlerter) Alert(ctx context.Context, subject, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("operator alert", "subject", subject, "body", body)
	return nil
}
