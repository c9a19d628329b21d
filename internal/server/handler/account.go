package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/engine"
)

// AccountProvisioner defines the account creation method the handler requires.
type AccountProvisioner interface {
	CreateAccount(ctx context.Context, userID string, phase domain.Phase, startingBalance float64, rules domain.RuleSet) (domain.Account, error)
}

// AccountValuer provides live equity views over an account.
type AccountValuer interface {
	Snapshot(ctx context.Context, acct domain.Account) (domain.EquitySnapshot, error)
	OpenPositions(ctx context.Context, accountID string) ([]engine.PositionView, error)
}

// AccountHandler serves account, position, and equity endpoints.
type AccountHandler struct {
	store       domain.Store
	provisioner AccountProvisioner
	valuer      AccountValuer
	rules       domain.RuleSet
	balance     float64
	logger      *slog.Logger
}

// NewAccountHandler creates an AccountHandler. The rules and balance are the
// defaults applied to newly provisioned challenge accounts.
func NewAccountHandler(store domain.Store, provisioner AccountProvisioner, valuer AccountValuer, rules domain.RuleSet, balance float64, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		store:       store,
		provisioner: provisioner,
		valuer:      valuer,
		rules:       rules,
		balance:     balance,
		logger:      logger,
	}
}

// createAccountRequest is the JSON body for POST /api/accounts.
type createAccountRequest struct {
	UserID          string   `json:"user_id"`
	StartingBalance *float64 `json:"starting_balance,omitempty"`
}

// CreateAccount provisions a fresh challenge account for a user.
// POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	balance := h.balance
	if body.StartingBalance != nil {
		balance = *body.StartingBalance
	}

	acct, err := h.provisioner.CreateAccount(r.Context(), body.UserID, domain.PhaseChallenge, balance, h.rules)
	if err != nil {
		if errors.Is(err, engine.ErrActiveAccountExists) {
			writeError(w, http.StatusConflict, "user already has an active account")
			return
		}
		if te, ok := domain.AsTradeError(err); ok {
			writeError(w, http.StatusBadRequest, te.Message)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create account failed",
			slog.String("user_id", body.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"account": acct})
}

// GetAccount returns one account by ID.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	acct, err := h.store.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get account failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": acct})
}

// positionView is the wire shape of an open position with its live mark.
type positionView struct {
	Position      domain.Position `json:"position"`
	MarkPrice     float64         `json:"mark_price"`
	MarkValue     float64         `json:"mark_value"`
	UnrealizedPnL float64         `json:"unrealized_pnl"`
	Priced        bool            `json:"priced"`
}

// ListPositions returns the account's open positions with live marks.
// GET /api/accounts/{id}/positions
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.store.Accounts().GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	views, err := h.valuer.OpenPositions(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]positionView, 0, len(views))
	for _, v := range views {
		out = append(out, positionView{
			Position:      v.Position,
			MarkPrice:     v.MarkPrice,
			MarkValue:     v.MarkValue,
			UnrealizedPnL: v.UnrealizedPnL,
			Priced:        v.Priced,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ListPositionHistory returns the account's closed and open position rows.
// GET /api/accounts/{id}/positions/history
func (h *AccountHandler) ListPositionHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	positions, err := h.store.Positions().ListHistory(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position history failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetEquity returns the live equity snapshot for an account.
// GET /api/accounts/{id}/equity
func (h *AccountHandler) GetEquity(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	acct, err := h.store.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	snap, err := h.valuer.Snapshot(r.Context(), acct)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: equity snapshot failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute equity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"equity": snap})
}

// ListTrades returns the account's trade history, newest first.
// GET /api/accounts/{id}/trades
func (h *AccountHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	trades, err := h.store.Trades().ListByAccount(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
