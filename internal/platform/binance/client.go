// Package binance is the candlestick price source.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the Binance spot API root.
const DefaultBaseURL = "https://api.binance.com"

// Options tunes the kline query and the circuit breaker.
type Options struct {
	Interval        string
	Window          time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client reads klines and averages the first candle of the window.
type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a Binance kline client.
func NewClient(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Interval == "" {
		opts.Interval = "3m"
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	failures := opts.BreakerFailures
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "binance-klines",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Unknown symbols are answers, not outages.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrPriceUnavailable) || errors.Is(err, domain.ErrNotFound)
			},
		}),
	}
}

// CandlePrice returns (open+high+low+close)/4 of the first kline of symbol
// in [at, at+window].
func (c *Client) CandlePrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	symbol = strings.ToUpper(symbol)
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.firstKline(ctx, symbol, at)
	})
	if err != nil {
		return 0, fmt.Errorf("binance: klines %s: %w", symbol, err)
	}
	k := v.(kline)
	return (k.open + k.high + k.low + k.close) / 4, nil
}

type kline struct {
	open, high, low, close float64
}

func (c *Client) firstKline(ctx context.Context, symbol string, at time.Time) (kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", c.opts.Interval)
	params.Set("startTime", strconv.FormatInt(at.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(at.Add(c.opts.Window).UnixMilli(), 10))
	params.Set("limit", "1")

	body, err := c.doGet(ctx, "/api/v3/klines?"+params.Encode())
	if err != nil {
		return kline{}, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return kline{}, fmt.Errorf("decode klines: %w", err)
	}
	if len(rows) == 0 {
		return kline{}, fmt.Errorf("%w: no klines for %s at %s", domain.ErrPriceUnavailable, symbol, at.UTC().Format(time.RFC3339))
	}
	row := rows[0]
	if len(row) < 5 {
		return kline{}, fmt.Errorf("decode klines: short row of %d fields", len(row))
	}

	var fields [4]float64
	for i := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return kline{}, fmt.Errorf("decode kline field %d: %w", i+1, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return kline{}, fmt.Errorf("parse kline field %d: %w", i+1, err)
		}
		fields[i] = f
	}
	return kline{open: fields[0], high: fields[1], low: fields[2], close: fields[3]}, nil
}

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

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest:
		// Binance answers 400 for unknown symbols.
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
}
