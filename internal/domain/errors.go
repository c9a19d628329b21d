package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
)

// TradeErrorCode identifies why a trade request was rejected. Codes are
// stable strings surfaced to the API layer.
type TradeErrorCode string

const (
	CodeValidation            TradeErrorCode = "VALIDATION"
	CodeInsufficientFunds     TradeErrorCode = "INSUFFICIENT_FUNDS"
	CodePositionNotFound      TradeErrorCode = "POSITION_NOT_FOUND"
	CodeRiskLimitExceeded     TradeErrorCode = "RISK_LIMIT_EXCEEDED"
	CodeStaleMarketData       TradeErrorCode = "STALE_MARKET_DATA"
	CodeInsufficientLiquidity TradeErrorCode = "INSUFFICIENT_LIQUIDITY"
)

// TradeError is a typed rejection from the trade path. A rejected trade never
// mutates state; callers can rely on the code for user-facing messaging.
type TradeError struct {
	Code    TradeErrorCode
	Message string
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTradeError builds a TradeError with a formatted message.
func NewTradeError(code TradeErrorCode, format string, args ...any) *TradeError {
	return &TradeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsTradeError unwraps err looking for a TradeError.
func AsTradeError(err error) (*TradeError, bool) {
	var te *TradeError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
