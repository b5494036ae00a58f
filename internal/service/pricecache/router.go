package pricecache

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

var krxCode = regexp.MustCompile(`^\d{6}$`)

// IsKRXCode reports whether ticker is a 6-digit Korea Exchange code.
func IsKRXCode(ticker string) bool {
	return krxCode.MatchString(ticker)
}

type route struct {
	match  func(string) bool
	source marketdata.TickerSource
}

// RoutedTickerSource sends each ticker to the first matching source, or to the
// fallback.
type RoutedTickerSource struct {
	routes   []route
	fallback marketdata.TickerSource
}

// NewRoutedTickerSource creates a router around fallback.
func NewRoutedTickerSource(fallback marketdata.TickerSource) *RoutedTickerSource {
	return &RoutedTickerSource{fallback: fallback}
}

// Route adds a source for tickers matching match.
func (r *RoutedTickerSource) Route(match func(string) bool, source marketdata.TickerSource) *RoutedTickerSource {
	r.routes = append(r.routes, route{match: match, source: source})
	return r
}

// Name joins the names of all sources.
func (r *RoutedTickerSource) Name() string {
	names := []string{r.fallback.Name()}
	for _, rt := range r.routes {
		names = append(names, rt.source.Name())
	}
	return strings.Join(names, "+")
}

// SourceFor returns the source that serves ticker.
func (r *RoutedTickerSource) SourceFor(ticker string) marketdata.TickerSource {
	for _, rt := range r.routes {
		if rt.match(ticker) {
			return rt.source
		}
	}
	return r.fallback
}

// FetchTicker implements marketdata.TickerSource.
func (r *RoutedTickerSource) FetchTicker(ctx context.Context, ticker string, start, end time.Time) ([]marketdata.Bar, error) {
	return r.SourceFor(ticker).FetchTicker(ctx, ticker, start, end)
}
