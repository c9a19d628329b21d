package gamma

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// apiMarket represents a market as returned by the Gamma API.
type apiMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Category      string   `json:"category"`
	Active        flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Tokens        []token  `json:"tokens"`
	Volume        string   `json:"volume"`
	EndDateISO    string   `json:"end_date_iso"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// token is a token entry inside the Gamma API market response.
type token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// toDomainMarket converts an apiMarket into the locally synced metadata row.
func (m *apiMarket) toDomainMarket() domain.Market {
	out := domain.Market{
		ID:       m.ID,
		Question: m.Question,
		Slug:     m.Slug,
		Category: m.Category,
	}
	out.Volume, _ = strconv.ParseFloat(m.Volume, 64)

	switch {
	case m.Closed:
		out.Status = domain.MarketStatusClosed
	case bool(m.Active):
		out.Status = domain.MarketStatusActive
	default:
		out.Status = domain.MarketStatusClosed
	}

	res := m.toResolution()
	if res.IsResolved {
		out.Status = domain.MarketStatusResolved
		if price, ok := res.Price(); ok {
			p := price
			out.ResolutionPrice = &p
		}
		out.WinningOutcome = res.WinningOutcome
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		out.UpdatedAt = t
	}
	return out
}

// toResolution extracts the outcome state. A closed market with a declared
// winner or terminal outcome prices counts as resolved; a closed market
// without either stays unresolved so settlement will not guess.
func (m *apiMarket) toResolution() domain.Resolution {
	res := domain.Resolution{}
	if !m.Closed {
		return res
	}

	for _, t := range m.Tokens {
		if t.Winner {
			outcome := t.Outcome
			res.IsResolved = true
			res.WinningOutcome = &outcome
			return res
		}
	}

	// Fall back to outcome prices: "[\"1\",\"0\"]" style arrays where the
	// first element is the YES price.
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) == 0 {
		return res
	}
	yes, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return res
	}
	if yes == 0 || yes == 1 {
		res.IsResolved = true
		res.ResolutionPrice = &yes
	}
	return res
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
