package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/polyprop/polyprop/internal/domain"
)

// AccountAlerts consumes account lifecycle events from the signal bus and
// forwards the ones operators care about: breaches, failures, phase passes.
type AccountAlerts struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAccountAlerts creates an AccountAlerts consumer.
func NewAccountAlerts(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *AccountAlerts {
	return &AccountAlerts{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "account_alerts")),
	}
}

// Run subscribes to the accounts channel and dispatches notifications until
// the context is cancelled.
func (a *AccountAlerts) Run(ctx context.Context) error {
	ch, err := a.bus.Subscribe(ctx, "accounts")
	if err != nil {
		return fmt.Errorf("notify: subscribe accounts: %w", err)
	}

	a.logger.InfoContext(ctx, "account alerts running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			a.handle(ctx, payload)
		}
	}
}

func (a *AccountAlerts) handle(ctx context.Context, payload []byte) {
	var event struct {
		Event     string  `json:"event"`
		AccountID string  `json:"account_id"`
		UserID    string  `json:"user_id"`
		Phase     string  `json:"phase"`
		Equity    float64 `json:"equity"`
		Reason    string  `json:"reason"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		a.logger.WarnContext(ctx, "malformed account event",
			slog.String("error", err.Error()),
		)
		return
	}

	var title, message string
	switch event.Event {
	case "account_failed":
		title = "Account failed"
		message = fmt.Sprintf("account %s (user %s, %s) failed: %s",
			event.AccountID, event.UserID, event.Phase, event.Reason)
	case "account_soft_breach":
		title = "Daily loss limit breached"
		message = fmt.Sprintf("account %s (user %s) hit its daily loss limit at equity %.2f; pending failure until recovery",
			event.AccountID, event.UserID, event.Equity)
	case "account_recovered":
		title = "Account recovered"
		message = fmt.Sprintf("account %s (user %s) recovered above its daily loss limit", event.AccountID, event.UserID)
	case "account_passed":
		title = "Phase passed"
		message = fmt.Sprintf("account %s (user %s) passed the %s phase at equity %.2f",
			event.AccountID, event.UserID, event.Phase, event.Equity)
	default:
		return
	}

	if err := a.notifier.Notify(ctx, event.Event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification dispatch failed",
			slog.String("event", event.Event),
			slog.String("error", err.Error()),
		)
	}
}
