// Package coingecko is the token-indexed historical price source.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public CoinGecko v3 API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Client queries daily historical snapshots of CoinGecko coins.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	shared     Limiter
}

// Limiter paces requests across processes sharing one API quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// SetSharedLimiter adds a quota gate consulted after the local limiter.
func (c *Client) SetSharedLimiter(l Limiter) {
	c.shared = l
}

// NewClient creates a CoinGecko client paced to requestsPerMinute. A
// non-positive rate disables pacing.
func NewClient(baseURL, apiKey string, requestsPerMinute int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

type historyResponse struct {
	ID         string `json:"id"`
	MarketData *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

// HistoricalPrice returns the price of coin id quoted in vsCurrency on the
// UTC day of at. Unknown coins and days without market data yield
// domain.ErrNotFound.
func (c *Client) HistoricalPrice(ctx context.Context, id string, at time.Time, vsCurrency string) (float64, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	vs := strings.ToLower(strings.TrimSpace(vsCurrency))

	params := url.Values{}
	params.Set("date", at.UTC().Format("02-01-2006"))
	params.Set("localization", "false")
	path := "/coins/" + url.PathEscape(id) + "/history?" + params.Encode()

	body, err := c.doGet(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("coingecko: history %s: %w", id, err)
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("coingecko: decode history %s: %w", id, err)
	}
	if resp.MarketData == nil {
		return 0, fmt.Errorf("coingecko: %s on %s: no market data: %w", id, at.UTC().Format(time.DateOnly), domain.ErrNotFound)
	}
	price, ok := resp.MarketData.CurrentPrice[vs]
	if !ok {
		return 0, fmt.Errorf("coingecko: %s has no %s quote: %w", id, vs, domain.ErrNotFound)
	}
	return price, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if c.shared != nil {
		if err := c.shared.Wait(ctx); err != nil {
			return nil, fmt.Errorf("shared rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
}
