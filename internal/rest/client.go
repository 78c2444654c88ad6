// Package rest implements rate-limited, circuit-breaker-guarded REST
// clients for candle history, one per exchange, sharing a common HTTP
// fetch-retry helper.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/metrics"
	"github.com/cryptoedge/candlestream/internal/normalize"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// BanError is returned for HTTP 418/403 (IP ban) responses; callers must
// treat it as fatal and non-retryable rather than sleeping and retrying.
type BanError struct {
	Venue      string
	StatusCode int
}

func (e *BanError) Error() string {
	return fmt.Sprintf("rest: %s returned HTTP %d (ip ban, non-retryable)", e.Venue, e.StatusCode)
}

// Page is one window of candles returned by a ranged fetch.
type Page struct {
	Candles []candle.Candle
	Err     error
}

// Client is the shared REST plumbing every exchange client embeds:
// rate-limited, circuit-broken HTTP GETs with 429 backoff and 418/403
// ban detection.
type Client struct {
	Venue      string
	HTTPClient *http.Client
	Limiter    *ratelimit.Manager
	Breaker    *circuit.Registry

	// TooManyRequestsBackoff is how long to sleep before retrying a 429.
	TooManyRequestsBackoff time.Duration
	MaxRetries             int
}

// NewClient builds the shared REST helper for one exchange.
func NewClient(venue string, limiter *ratelimit.Manager, breaker *circuit.Registry, backoff time.Duration) *Client {
	return &Client{
		Venue:                  venue,
		HTTPClient:             &http.Client{Timeout: 10 * time.Second},
		Limiter:                limiter,
		Breaker:                breaker,
		TooManyRequestsBackoff: backoff,
		MaxRetries:             3,
	}
}

// Get performs a rate-limited, circuit-broken GET against url, retrying on
// HTTP 429 up to MaxRetries times and failing fast (no retry) on 418/403.
func (c *Client) Get(ctx context.Context, marketType, endpoint, url string) ([]byte, error) {
	breaker := c.Breaker.Get(c.Venue, endpoint)
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := c.Limiter.Wait(ctx, c.Venue, marketType); err != nil {
			return nil, fmt.Errorf("rest/%s: rate limit wait: %w", c.Venue, err)
		}
		result, err := breaker.Execute(func() (any, error) {
			return c.doGet(ctx, url)
		})
		if err == nil {
			return result.([]byte), nil
		}
		var ban *BanError
		if isBanError(err, &ban) {
			return nil, err
		}
		if isTooManyRequests(err) {
			metrics.RESTRetries.WithLabelValues(c.Venue, endpoint).Inc()
			log.Warn().Str("venue", c.Venue).Str("endpoint", endpoint).
				Dur("backoff", c.TooManyRequestsBackoff).Msg("rest 429, backing off")
			select {
			case <-time.After(c.TooManyRequestsBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if attempt == c.MaxRetries {
			return nil, err
		}
	}
	return nil, fmt.Errorf("rest/%s: exhausted retries for %s", c.Venue, endpoint)
}

type tooManyRequestsError struct{ url string }

func (e *tooManyRequestsError) Error() string { return "rest: 429 too many requests: " + e.url }

func isTooManyRequests(err error) bool {
	_, ok := err.(*tooManyRequestsError)
	return ok
}

func isBanError(err error, out **BanError) bool {
	be, ok := err.(*BanError)
	if ok {
		*out = be
	}
	return ok
}

func (c *Client) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rest/%s: build request: %w", c.Venue, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest/%s: request: %w", c.Venue, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest/%s: read body: %w", c.Venue, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusTooManyRequests:
		return nil, &tooManyRequestsError{url: url}
	case http.StatusTeapot, http.StatusForbidden:
		return nil, &BanError{Venue: c.Venue, StatusCode: resp.StatusCode}
	default:
		return nil, fmt.Errorf("rest/%s: HTTP %d: %s", c.Venue, resp.StatusCode, string(body))
	}
}

// decodeRows runs each raw row through norm.FromREST, skipping (logging)
// any row that fails to normalize without aborting the whole page.
func decodeRows(norm normalize.Normalizer, rows []any, symbol string, tf timeframe.Timeframe, venue string) []candle.Candle {
	out := make([]candle.Candle, 0, len(rows))
	for _, row := range rows {
		cd, err := norm.FromREST(row, symbol, tf)
		if err != nil {
			log.Warn().Str("venue", venue).Str("symbol", symbol).Err(err).Msg("skipping malformed rest row")
			continue
		}
		if cd == nil {
			continue
		}
		out = append(out, *cd)
	}
	return out
}

func unmarshalRowArray(body []byte) ([]any, error) {
	var rows []any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode row array: %w", err)
	}
	return rows, nil
}

// window is one sequential, chronologically-ordered fetch window for a
// ranged backfill, bounded so it contains at most limit candles.
type window struct {
	From, To time.Time
}

// paginateWindows splits [from, to) into sequential windows of at most
// limit candles each, so callers issue requests in chronological order.
func paginateWindows(from, to time.Time, tf timeframe.Timeframe, limit int) []window {
	if limit <= 0 {
		limit = 1000
	}
	var tfSeconds int64
	switch {
	case tf == timeframe.W1:
		tfSeconds = 7 * 86400
	case tf == timeframe.MN1:
		tfSeconds = 30 * 86400
	default:
		tfSeconds = timeframe.Seconds(tf)
	}
	step := time.Duration(tfSeconds) * time.Second * time.Duration(limit)
	var windows []window
	for cur := from; cur.Before(to); cur = cur.Add(step) {
		end := cur.Add(step)
		if end.After(to) {
			end = to
		}
		windows = append(windows, window{From: cur, To: end})
	}
	return windows
}
