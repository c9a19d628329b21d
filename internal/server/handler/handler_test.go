package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/engine"
	"github.com/polyprop/polyprop/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRules() domain.RuleSet {
	return domain.RuleSet{
		MaxDrawdown:            1000,
		DailyLossLimitPct:      0.05,
		ProfitTargetPct:        0.10,
		MinTradingDays:         0,
		MaxPositionSizePct:     0.25,
		MaxCategoryExposurePct: 0.50,
		MinMarketVolume:        10000,
		FundedInactivityDays:   30,
	}
}

// fakeExecutor returns a canned trade or error from ExecuteTrade.
type fakeExecutor struct {
	trade domain.Trade
	err   error
	got   engine.TradeRequest
}

func (f *fakeExecutor) ExecuteTrade(_ context.Context, req engine.TradeRequest) (domain.Trade, error) {
	f.got = req
	if f.err != nil {
		return domain.Trade{}, f.err
	}
	return f.trade, nil
}

// fakeValuer returns canned equity views.
type fakeValuer struct {
	snap  domain.EquitySnapshot
	views []engine.PositionView
	err   error
}

func (f *fakeValuer) Snapshot(_ context.Context, acct domain.Account) (domain.EquitySnapshot, error) {
	if f.err != nil {
		return domain.EquitySnapshot{}, f.err
	}
	snap := f.snap
	snap.AccountID = acct.ID
	return snap, nil
}

func (f *fakeValuer) OpenPositions(_ context.Context, _ string) ([]engine.PositionView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.views, nil
}

// newAccountMux wires an AccountHandler onto a mux with real route patterns
// so path parameters resolve the same way they do in production.
func newAccountMux(t *testing.T, h *AccountHandler) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/accounts", h.CreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", h.GetAccount)
	mux.HandleFunc("GET /api/accounts/{id}/positions", h.ListPositions)
	mux.HandleFunc("GET /api/accounts/{id}/positions/history", h.ListPositionHistory)
	mux.HandleFunc("GET /api/accounts/{id}/equity", h.GetEquity)
	mux.HandleFunc("GET /api/accounts/{id}/trades", h.ListTrades)
	return mux
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body: %v (body=%q)", err, rec.Body.String())
	}
	return out
}

func TestExecuteTradeSuccess(t *testing.T) {
	exec := &fakeExecutor{
		trade: domain.Trade{
			ID:           "t-1",
			AccountID:    "acct-1",
			MarketID:     "mkt-1",
			Type:         domain.TradeTypeBuy,
			Direction:    domain.DirectionYes,
			FillPrice:    0.57,
			DollarAmount: 570,
			Shares:       1000,
		},
	}
	h := NewTradeHandler(exec, testLogger())

	body := `{"account_id":"acct-1","market_id":"mkt-1","type":"BUY","direction":"YES","dollar_amount":570}`
	req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ExecuteTrade(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%q)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if exec.got.AccountID != "acct-1" || exec.got.Type != domain.TradeTypeBuy {
		t.Errorf("executor received wrong request: %+v", exec.got)
	}
	out := decodeBody(t, rec)
	trade, ok := out["trade"].(map[string]any)
	if !ok {
		t.Fatalf("response missing trade object: %v", out)
	}
	if trade["ID"] != "t-1" {
		t.Errorf("trade ID = %v, want t-1", trade["ID"])
	}
}

func TestExecuteTradeInvalidJSON(t *testing.T) {
	h := NewTradeHandler(&fakeExecutor{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ExecuteTrade(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExecuteTradeErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code       domain.TradeErrorCode
		wantStatus int
	}{
		{domain.CodeValidation, http.StatusBadRequest},
		{domain.CodePositionNotFound, http.StatusNotFound},
		{domain.CodeInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.CodeRiskLimitExceeded, http.StatusUnprocessableEntity},
		{domain.CodeStaleMarketData, http.StatusConflict},
		{domain.CodeInsufficientLiquidity, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			exec := &fakeExecutor{err: domain.NewTradeError(tt.code, "rejected")}
			h := NewTradeHandler(exec, testLogger())

			body := `{"account_id":"acct-1","market_id":"mkt-1","type":"BUY","direction":"YES","dollar_amount":100}`
			req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.ExecuteTrade(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			out := decodeBody(t, rec)
			if out["code"] != string(tt.code) {
				t.Errorf("code = %v, want %s", out["code"], tt.code)
			}
		})
	}
}

func TestExecuteTradeInternalError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("pg down")}
	h := NewTradeHandler(exec, testLogger())

	body := `{"account_id":"acct-1","market_id":"mkt-1","type":"BUY","direction":"YES","dollar_amount":100}`
	req := httptest.NewRequest(http.MethodPost, "/api/trades", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ExecuteTrade(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestCreateAccount(t *testing.T) {
	store := memory.NewStore()
	prov := engine.NewProvisioner(store, testLogger())
	h := NewAccountHandler(store, prov, &fakeValuer{}, testRules(), 10000, testLogger())
	mux := newAccountMux(t, h)

	body := `{"user_id":"user-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%q)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	out := decodeBody(t, rec)
	acct, ok := out["account"].(map[string]any)
	if !ok {
		t.Fatalf("response missing account object: %v", out)
	}
	if acct["UserID"] != "user-1" {
		t.Errorf("UserID = %v, want user-1", acct["UserID"])
	}
	if acct["Phase"] != string(domain.PhaseChallenge) {
		t.Errorf("Phase = %v, want %s", acct["Phase"], domain.PhaseChallenge)
	}
	if got := acct["CurrentBalance"].(float64); got != 10000 {
		t.Errorf("CurrentBalance = %v, want 10000", got)
	}

	// A second live account for the same user is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewReader([]byte(body)))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	store := memory.NewStore()
	prov := engine.NewProvisioner(store, testLogger())
	h := NewAccountHandler(store, prov, &fakeValuer{}, testRules(), 10000, testLogger())
	mux := newAccountMux(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetEquity(t *testing.T) {
	store := memory.NewStore()
	prov := engine.NewProvisioner(store, testLogger())
	valuer := &fakeValuer{
		snap: domain.EquitySnapshot{
			Equity:           10700,
			Balance:          10000,
			UnrealizedPnL:    700,
			DrawdownUsagePct: 0,
		},
	}
	h := NewAccountHandler(store, prov, valuer, testRules(), 10000, testLogger())
	mux := newAccountMux(t, h)

	acct, err := prov.CreateAccount(context.Background(), "user-1", domain.PhaseChallenge, 10000, testRules())
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/"+acct.ID+"/equity", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	out := decodeBody(t, rec)
	snap, ok := out["equity"].(map[string]any)
	if !ok {
		t.Fatalf("response missing equity object: %v", out)
	}
	if snap["Equity"].(float64) != 10700 {
		t.Errorf("Equity = %v, want 10700", snap["Equity"])
	}
	if snap["AccountID"] != acct.ID {
		t.Errorf("AccountID = %v, want %s", snap["AccountID"], acct.ID)
	}
}

func TestListPositionsEmpty(t *testing.T) {
	store := memory.NewStore()
	prov := engine.NewProvisioner(store, testLogger())
	h := NewAccountHandler(store, prov, &fakeValuer{}, testRules(), 10000, testLogger())
	mux := newAccountMux(t, h)

	acct, err := prov.CreateAccount(context.Background(), "user-1", domain.PhaseChallenge, 10000, testRules())
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/"+acct.ID+"/positions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	out := decodeBody(t, rec)
	positions, ok := out["positions"].([]any)
	if !ok {
		t.Fatalf("positions should be an array, got %T", out["positions"])
	}
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0", len(positions))
	}
}
