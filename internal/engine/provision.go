package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyprop/polyprop/internal/domain"
)

// ErrActiveAccountExists is returned when a user already holds a live
// evaluation account. One live account per user at a time.
var ErrActiveAccountExists = errors.New("engine: user already has an active account")

// Provisioner creates evaluation accounts.
type Provisioner struct {
	store  domain.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewProvisioner(store domain.Store, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		store:  store,
		logger: logger.With(slog.String("component", "provisioner")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount opens a fresh account for a user. Balances, high-water mark
// and the daily baselines all start at the starting balance.
func (p *Provisioner) CreateAccount(ctx context.Context, userID string, phase domain.Phase, startingBalance float64, rules domain.RuleSet) (domain.Account, error) {
	if userID == "" {
		return domain.Account{}, domain.NewTradeError(domain.CodeValidation, "user id is required")
	}
	if startingBalance <= 0 {
		return domain.Account{}, domain.NewTradeError(domain.CodeValidation, "starting balance must be positive")
	}

	now := p.now()
	acct := domain.Account{
		ID:                uuid.New().String(),
		UserID:            userID,
		Phase:             phase,
		Status:            domain.AccountStatusActive,
		StartingBalance:   startingBalance,
		CurrentBalance:    startingBalance,
		StartOfDayBalance: startingBalance,
		StartOfDayEquity:  startingBalance,
		HighWaterMark:     startingBalance,
		Rules:             rules,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.store.Accounts().Create(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Account{}, ErrActiveAccountExists
		}
		return domain.Account{}, fmt.Errorf("engine: create account: %w", err)
	}

	p.logger.InfoContext(ctx, "provisioner: account created",
		slog.String("account_id", acct.ID),
		slog.String("user_id", userID),
		slog.String("phase", string(phase)),
		slog.Float64("starting_balance", startingBalance),
	)
	return acct, nil
}
