// Package notify delivers kill notifications to operators and subscribers.
package notify

import (
	"context"
	"errors"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/pkg/logger"
)

// Log writes every notification to the structured log at WARN.
type Log struct {
	l *logger.Logger
}

var _ domrepo.Notifier = (*Log)(nil)

func NewLog(l *logger.Logger) *Log {
	if l == nil {
		l = logger.Nop()
	}
	return &Log{l: l}
}

func (n *Log) Notify(_ context.Context, k models.KillNotification) error {
	n.l.Warn("kill recorded",
		logger.String("source", k.Source),
		logger.String("record_id", k.Record.ID),
		logger.String("scope", k.Record.Scope),
		logger.String("reason", k.Record.Reason),
		logger.Time("expires_at", k.Record.ExpiresAt),
	)
	return nil
}

// Multi fans a notification out to every notifier. All notifiers are tried;
// failures are joined.
type Multi []domrepo.Notifier

var _ domrepo.Notifier = Multi(nil)

func (m Multi) Notify(ctx context.Context, k models.KillNotification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
