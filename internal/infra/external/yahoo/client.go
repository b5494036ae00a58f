package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

const (
	sourceName     = "yahoo"
	defaultBaseURL = "https://query1.finance.yahoo.com"
	defaultTimeout = 30 * time.Second
)

// Client fetches daily bars from the Yahoo Finance chart API.
type Client struct {
	httpClient *http.Client
	baseURL    string

	// SymbolMap maps internal tickers to Yahoo symbols (e.g. BHP → BHP.AX).
	SymbolMap map[string]string
}

// NewClient creates a Yahoo client.
func NewClient(baseURL string, timeout time.Duration, symbols map[string]string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if symbols == nil {
		symbols = make(map[string]string)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		SymbolMap:  symbols,
	}
}

// Name implements marketdata.TickerSource.
func (c *Client) Name() string { return sourceName }

func (c *Client) yahooSymbol(ticker string) string {
	if mapped, ok := c.SymbolMap[ticker]; ok && mapped != "" {
		return mapped
	}
	return ticker
}

// chartResponse is the response structure from the chart API.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta       chartMeta `json:"meta"`
			Timestamp  []int64   `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []interface{} `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// chartMeta carries the exchange clock the timestamps belong to.
type chartMeta struct {
	GMTOffset            int    `json:"gmtoffset"`
	ExchangeTimezoneName string `json:"exchangeTimezoneName"`
}

// location returns the exchange time zone. Daily bars are stamped at the
// session open in exchange time, so the trading date is the local date.
func (m chartMeta) location() *time.Location {
	if m.ExchangeTimezoneName != "" {
		if loc, err := time.LoadLocation(m.ExchangeTimezoneName); err == nil {
			return loc
		}
	}
	return time.FixedZone("", m.GMTOffset)
}

// tradingDay converts a bar timestamp to its trading date at UTC midnight.
func tradingDay(ts int64, loc *time.Location) time.Time {
	y, mo, d := time.Unix(ts, 0).In(loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// at returns values[i] as a float, NaN when null or out of range.
func at(values []interface{}, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return math.NaN()
	}
	switch n := values[i].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return math.NaN()
	}
}

// FetchTicker implements marketdata.TickerSource. start and end are inclusive.
func (c *Client) FetchTicker(ctx context.Context, ticker string, start, end time.Time) ([]marketdata.Bar, error) {
	symbol := c.yahooSymbol(ticker)

	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprintf("%d", marketdata.Day(start).Unix()))
	q.Set("period2", fmt.Sprintf("%d", marketdata.Day(end).AddDate(0, 0, 1).Unix()))
	q.Set("events", "div,split")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, marketdata.NewTransientError(sourceName, ticker, fmt.Errorf("yahoo fetch: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, marketdata.NewTransientError(sourceName, ticker, fmt.Errorf("yahoo read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, marketdata.NewStatusError(sourceName, ticker, resp.StatusCode)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, marketdata.NewPermanentError(sourceName, ticker,
			fmt.Errorf("yahoo decode: %v: %w", err, marketdata.ErrInvalidResponse))
	}
	if chart.Chart.Error != nil {
		return nil, marketdata.NewPermanentError(sourceName, ticker,
			fmt.Errorf("yahoo api error %s: %s: %w", chart.Chart.Error.Code, chart.Chart.Error.Description, marketdata.ErrInvalidResponse))
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, marketdata.ErrNoData
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	var adj []interface{}
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	loc := result.Meta.location()
	startDay, endDay := marketdata.Day(start), marketdata.Day(end)
	bars := make([]marketdata.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		d := tradingDay(ts, loc)
		if d.Before(startDay) || d.After(endDay) {
			continue
		}
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if math.IsNaN(o) && math.IsNaN(h) && math.IsNaN(l) && math.IsNaN(cl) {
			continue // null bars (holidays etc.)
		}
		b := marketdata.NewBar(d, o, h, l, cl, at(quote.Volume, i))
		b.AdjClose = at(adj, i)
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, marketdata.ErrNoData
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	log.Debug().
		Str("ticker", ticker).
		Str("symbol", symbol).
		Int("count", len(bars)).
		Msg("Fetched daily bars from Yahoo")

	return bars, nil
}
