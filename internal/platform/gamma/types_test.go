package gamma

import (
	"encoding/json"
	"testing"

	"github.com/polyprop/polyprop/internal/domain"
)

func TestToResolution(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		resolved  bool
		wantPrice float64
	}{
		{
			name:      "winner token",
			raw:       `{"id":"m1","closed":true,"tokens":[{"outcome":"Yes","winner":true},{"outcome":"No","winner":false}]}`,
			resolved:  true,
			wantPrice: 1,
		},
		{
			name:      "terminal outcome prices",
			raw:       `{"id":"m1","closed":true,"outcomePrices":"[\"0\",\"1\"]"}`,
			resolved:  true,
			wantPrice: 0,
		},
		{
			name:     "closed without outcome stays unresolved",
			raw:      `{"id":"m1","closed":true,"outcomePrices":"[\"0.42\",\"0.58\"]"}`,
			resolved: false,
		},
		{
			name:     "still trading",
			raw:      `{"id":"m1","closed":false,"active":"true"}`,
			resolved: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m apiMarket
			if err := json.Unmarshal([]byte(tc.raw), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			res := m.toResolution()
			if res.IsResolved != tc.resolved {
				t.Fatalf("resolved = %v, want %v", res.IsResolved, tc.resolved)
			}
			if !tc.resolved {
				return
			}
			price, ok := res.Price()
			if !ok {
				t.Fatal("resolved without a derivable price")
			}
			if price != tc.wantPrice {
				t.Errorf("price = %v, want %v", price, tc.wantPrice)
			}
		})
	}
}

func TestToDomainMarketStatus(t *testing.T) {
	raw := `{"id":"m1","question":"q","slug":"s","category":"politics","active":true,"closed":false,"volume":"123456.7"}`
	var m apiMarket
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := m.toDomainMarket()
	if got.Status != domain.MarketStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.Volume != 123456.7 {
		t.Errorf("volume = %v, want 123456.7", got.Volume)
	}
	if got.Category != "politics" {
		t.Errorf("category = %q", got.Category)
	}
}
