package tiingo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

const (
	sourceName     = "tiingo"
	defaultBaseURL = "https://api.tiingo.com"
	defaultTimeout = 30 * time.Second
	dateLayout     = "2006-01-02"
)

// Client is the primary bulk provider. A batch is served ticker by ticker over
// one authenticated session; tickers Tiingo cannot serve are left out of the
// result so the caller can fall back.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a Tiingo client.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Name implements marketdata.BulkSource.
func (c *Client) Name() string { return sourceName }

// priceRow is one element of the daily prices response.
type priceRow struct {
	Date     string   `json:"date"`
	Open     *float64 `json:"open"`
	High     *float64 `json:"high"`
	Low      *float64 `json:"low"`
	Close    *float64 `json:"close"`
	Volume   *float64 `json:"volume"`
	AdjOpen  *float64 `json:"adjOpen"`
	AdjClose *float64 `json:"adjClose"`
}

// FetchBulk implements marketdata.BulkSource.
//
// Credential and rate-limit errors abort the whole batch. Any other per-ticker
// failure drops that ticker from the result.
func (c *Client) FetchBulk(ctx context.Context, tickers []string, start, end time.Time) (map[string][]marketdata.Bar, error) {
	if c.apiKey == "" {
		return nil, marketdata.NewPermanentError(sourceName, "", marketdata.ErrUnauthorized)
	}

	out := make(map[string][]marketdata.Bar, len(tickers))
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := c.fetchTicker(ctx, ticker, start, end)
		if err != nil {
			if abortsBatch(err) {
				return nil, err
			}
			log.Debug().
				Err(err).
				Str("ticker", ticker).
				Msg("Tiingo could not serve ticker")
			continue
		}
		out[ticker] = bars
	}

	log.Debug().
		Int("requested", len(tickers)).
		Int("served", len(out)).
		Msg("Fetched bulk prices from Tiingo")

	return out, nil
}

func abortsBatch(err error) bool {
	return errors.Is(err, marketdata.ErrUnauthorized) ||
		errors.Is(err, marketdata.ErrRateLimited) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) fetchTicker(ctx context.Context, ticker string, start, end time.Time) ([]marketdata.Bar, error) {
	q := url.Values{}
	q.Set("startDate", start.Format(dateLayout))
	q.Set("endDate", end.Format(dateLayout))
	q.Set("format", "json")
	u := fmt.Sprintf("%s/tiingo/daily/%s/prices?%s", c.baseURL, url.PathEscape(strings.ToLower(ticker)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("tiingo request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, marketdata.NewTransientError(sourceName, ticker, fmt.Errorf("tiingo fetch: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, marketdata.NewTransientError(sourceName, ticker, fmt.Errorf("tiingo read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, marketdata.NewStatusError(sourceName, ticker, resp.StatusCode)
	}

	var rows []priceRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, marketdata.NewPermanentError(sourceName, ticker,
			fmt.Errorf("tiingo decode: %v: %w", err, marketdata.ErrInvalidResponse))
	}
	if len(rows) == 0 {
		return nil, marketdata.ErrNoData
	}

	bars := make([]marketdata.Bar, 0, len(rows))
	for _, r := range rows {
		d, err := parseDate(r.Date)
		if err != nil {
			continue
		}
		b := marketdata.NewBar(d, value(r.Open), value(r.High), value(r.Low), value(r.Close), value(r.Volume))
		b.AdjOpen = value(r.AdjOpen)
		b.AdjClose = value(r.AdjClose)
		bars = append(bars, b)
	}
	return bars, nil
}

// parseDate accepts both "2024-01-02T00:00:00.000Z" and "2024-01-02".
func parseDate(s string) (time.Time, error) {
	if len(s) >= len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	return time.Parse(dateLayout, s)
}

// value returns *p, or NaN for a JSON null.
func value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
