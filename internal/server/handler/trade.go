package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/engine"
)

// TradeExecutor defines the methods that the trade handler requires.
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, req engine.TradeRequest) (domain.Trade, error)
}

// TradeHandler serves the trade execution endpoint.
type TradeHandler struct {
	executor TradeExecutor
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given executor and logger.
func NewTradeHandler(executor TradeExecutor, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		executor: executor,
		logger:   logger,
	}
}

// tradeRequest is the JSON body for POST /api/trades.
type tradeRequest struct {
	AccountID    string   `json:"account_id"`
	MarketID     string   `json:"market_id"`
	Type         string   `json:"type"`      // "BUY" or "SELL"
	Direction    string   `json:"direction"` // "YES" or "NO"
	DollarAmount float64  `json:"dollar_amount,omitempty"`
	Shares       *float64 `json:"shares,omitempty"`
}

// tradeResponse wraps an executed trade.
type tradeResponse struct {
	Trade domain.Trade `json:"trade"`
}

// tradeErrorResponse carries a typed rejection back to the client.
type tradeErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ExecuteTrade validates and executes one trade.
// POST /api/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var body tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	trade, err := h.executor.ExecuteTrade(r.Context(), engine.TradeRequest{
		AccountID:    body.AccountID,
		MarketID:     body.MarketID,
		Type:         domain.TradeType(body.Type),
		Direction:    domain.Direction(body.Direction),
		DollarAmount: body.DollarAmount,
		Shares:       body.Shares,
	})
	if err != nil {
		if te, ok := domain.AsTradeError(err); ok {
			writeJSON(w, tradeErrorStatus(te.Code), tradeErrorResponse{
				Error: te.Message,
				Code:  string(te.Code),
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: execute trade failed",
			slog.String("account_id", body.AccountID),
			slog.String("market_id", body.MarketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "trade execution failed")
		return
	}

	writeJSON(w, http.StatusCreated, tradeResponse{Trade: trade})
}

// tradeErrorStatus maps rejection codes onto HTTP statuses.
func tradeErrorStatus(code domain.TradeErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodePositionNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientFunds, domain.CodeRiskLimitExceeded:
		return http.StatusUnprocessableEntity
	case domain.CodeStaleMarketData, domain.CodeInsufficientLiquidity:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
