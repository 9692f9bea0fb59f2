// Package binance is a minimal client for Binance public market data.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cryptoscope/internal/model"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	klinesPath     = "/api/v3/klines"
	maxLimit       = 1000
)

// Config configures a Client.
type Config struct {
	BaseURL        string        // default: https://api.binance.com
	Timeout        time.Duration // per request, default: 10s
	RequestsPerSec float64       // default: 10
	MaxElapsed     time.Duration // total retry budget, default: 30s
}

// Client fetches klines. It implements model.CandleSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxElapsed time.Duration
	log        *slog.Logger
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance: http %d: %s (code %d)", e.StatusCode, e.Msg, e.Code)
	}
	return fmt.Sprintf("binance: http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New creates a client.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
		maxElapsed: cfg.MaxElapsed,
		log:        log.With("component", "binance"),
	}
}

// Klines returns up to limit klines of symbol at interval, oldest first.
// A zero start or end is omitted from the query. With a start set, a limit
// above the per-request maximum is served by paging forward from start.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.RawKline, error) {
	if start.IsZero() || limit <= maxLimit {
		return c.page(ctx, symbol, interval, start, end, limit)
	}
	var out []model.RawKline
	for len(out) < limit {
		n := limit - len(out)
		if n > maxLimit {
			n = maxLimit
		}
		batch, err := c.page(ctx, symbol, interval, start, end, n)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < n {
			break
		}
		start = time.UnixMilli(batch[len(batch)-1].OpenTime + 1)
		if !end.IsZero() && !start.Before(end) {
			break
		}
	}
	return out, nil
}

// page issues a single klines request.
func (c *Client) page(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.RawKline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if limit > 0 {
		if limit > maxLimit {
			limit = maxLimit
		}
		q.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		// endTime is inclusive upstream; windows here are half-open.
		q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	}
	reqURL := c.baseURL + klinesPath + "?" + q.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	return DecodeKlines(body)
}

// get performs a rate-limited GET, retrying transient failures with
// exponential backoff until the context or the retry budget runs out.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.Warn("request failed, retrying", "attempt", attempt, "error", err)
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			json.Unmarshal(raw, apiErr)
			if !apiErr.Temporary() {
				return backoff.Permanent(apiErr)
			}
			c.log.Warn("transient status, retrying", "attempt", attempt, "status", resp.StatusCode)
			return apiErr
		}
		body = raw
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
