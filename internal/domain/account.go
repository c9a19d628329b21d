package domain

import "time"

// Phase is the evaluation stage an account is progressing through.
type Phase string

const (
	PhaseChallenge    Phase = "challenge"
	PhaseVerification Phase = "verification"
	PhaseFunded       Phase = "funded"
)

// AccountStatus tracks the lifecycle state of an evaluation account.
type AccountStatus string

const (
	AccountStatusPending        AccountStatus = "pending"
	AccountStatusActive         AccountStatus = "active"
	AccountStatusPendingFailure AccountStatus = "pending_failure"
	AccountStatusFailed         AccountStatus = "failed"
	AccountStatusPassed         AccountStatus = "passed"
)

// Terminal reports whether the status is immutable (no further trading or
// evaluation happens once an account fails or passes out of the program).
func (s AccountStatus) Terminal() bool {
	return s == AccountStatusFailed || s == AccountStatusPassed
}

// RuleSet holds the risk parameters an account is evaluated against. The
// drawdown limit is absolute dollars; percentage fields are fractions
// (0.10 == 10%).
type RuleSet struct {
	MaxDrawdown            float64 // static max drawdown below starting balance, in dollars
	DailyLossLimitPct      float64
	ProfitTargetPct        float64
	MinTradingDays         int
	MaxPositionSizePct     float64
	MaxCategoryExposurePct float64
	MinMarketVolume        float64
	FundedInactivityDays   int
}

// Account is one evaluation or funded trading account belonging to a user.
//
// CurrentBalance is cash only; equity adds the mark-to-market value of open
// positions. HighWaterMark ratchets up with every committed balance and is
// never lowered.
type Account struct {
	ID                string
	UserID            string
	Phase             Phase
	Status            AccountStatus
	StartingBalance   float64
	CurrentBalance    float64
	StartOfDayBalance float64
	StartOfDayEquity  float64
	HighWaterMark     float64
	Rules             RuleSet
	PendingFailureAt  *time.Time
	LastDailyResetAt  *time.Time
	ActiveTradingDays int
	LastActivityAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DrawdownFloor is the static level startingBalance minus maxDrawdown that
// anchors the daily drawdown allowance.
func (a Account) DrawdownFloor() float64 {
	return a.StartingBalance - a.Rules.MaxDrawdown
}

// MaxDrawdownAllowance is the loss cushion for the current day. Profit banked
// into the start-of-day balance widens the cushion; losing back to the static
// floor leaves zero allowance, never a negative one.
func (a Account) MaxDrawdownAllowance() float64 {
	allowance := a.StartOfDayBalance - a.DrawdownFloor()
	if allowance < 0 {
		return 0
	}
	return allowance
}

// DailyLossLimit is the dollar loss from the start-of-day balance that
// triggers a soft breach.
func (a Account) DailyLossLimit() float64 {
	return a.Rules.DailyLossLimitPct * a.StartOfDayBalance
}

// ProfitTarget is the equity level required to pass the current phase.
func (a Account) ProfitTarget() float64 {
	return a.StartingBalance * (1 + a.Rules.ProfitTargetPct)
}

// EquitySnapshot is a point-in-time risk summary exposed to the API layer.
type EquitySnapshot struct {
	AccountID             string
	Equity                float64
	Balance               float64
	UnrealizedPnL         float64
	DrawdownUsagePct      float64
	DailyDrawdownUsagePct float64
	ProfitProgressPct     float64
	Timestamp             time.Time
}
