// Package gamma is the REST client for the Polymarket Gamma API, which
// provides market discovery, metadata, and resolution state.
package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
)

// Client is the Gamma API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListMarkets returns a paginated list of markets.
func (c *Client) ListMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("gamma: list markets: %w", err)
	}

	var apiMarkets []apiMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("gamma: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].toDomainMarket())
	}
	return markets, nil
}

// GetMarket returns a single market by its ID.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("gamma: get market %s: %w", id, err)
	}

	var m apiMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Market{}, fmt.Errorf("gamma: decode market: %w", err)
	}
	return m.toDomainMarket(), nil
}

// BatchGetResolutionStatus fetches resolution state for each market. Markets
// that cannot be fetched are omitted rather than failing the whole batch; the
// settlement sweep will see them again next round.
func (c *Client) BatchGetResolutionStatus(ctx context.Context, marketIDs []string) (map[string]domain.Resolution, error) {
	out := make(map[string]domain.Resolution, len(marketIDs))
	for _, id := range marketIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if errors.Is(err, domain.ErrRateLimited) {
				return out, fmt.Errorf("gamma: resolution status %s: %w", id, err)
			}
			continue
		}
		var m apiMarket
		if err := json.Unmarshal(body, &m); err != nil {
			continue
		}
		out[id] = m.toResolution()
	}
	return out, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Compile-time interface check.
var _ domain.ResolutionFeed = (*Client)(nil)
