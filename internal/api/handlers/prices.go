package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/api/response"
	"github.com/wonny/marketcache/internal/domain/marketdata"
	"github.com/wonny/marketcache/internal/service/pricecache"
)

// PriceLoader is the part of pricecache.Loader the handlers use.
type PriceLoader interface {
	FetchPrices(ctx context.Context, tickers []string, useCache bool) (*pricecache.Prices, error)
	Status(ctx context.Context) (*pricecache.CacheStatus, error)
}

// LatestReader reads closes published after the last persisted cycle.
type LatestReader interface {
	LatestClose(ctx context.Context, ticker string) (marketdata.LatestPrice, bool, error)
}

// PricesHandler serves cached price tables
type PricesHandler struct {
	loader PriceLoader
	latest LatestReader // optional
}

// NewPricesHandler creates a new PricesHandler. latest may be nil, in which
// case GetLatest always goes through the loader.
func NewPricesHandler(loader PriceLoader, latest LatestReader) *PricesHandler {
	return &PricesHandler{loader: loader, latest: latest}
}

// PricesResponse is a price request result. Values are aligned with Dates;
// null marks a missing value.
type PricesResponse struct {
	RunID     string                            `json:"run_id"`
	State     marketdata.CacheState             `json:"state"`
	Persisted bool                              `json:"persisted"`
	Dates     []string                          `json:"dates"`
	Open      map[string][]*float64             `json:"open"`
	Close     map[string][]*float64             `json:"close"`
	Outcomes  []marketdata.FetchOutcome         `json:"outcomes"`
	Failed    []string                          `json:"failed,omitempty"`
	Latest    map[string]marketdata.LatestPrice `json:"latest"`
}

// GetPrices brings the requested tickers up to date and returns their tables
// GET /api/prices?tickers=AAPL,005930[&use_cache=false]
func (h *PricesHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	tickers := splitTickers(r.URL.Query().Get("tickers"))
	if len(tickers) == 0 {
		response.BadRequest(w, r, "tickers query parameter is required")
		return
	}

	useCache := true
	if v := r.URL.Query().Get("use_cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(w, r, "use_cache must be a boolean")
			return
		}
		useCache = b
	}

	prices, err := h.loader.FetchPrices(r.Context(), tickers, useCache)
	if errors.Is(err, marketdata.ErrNoTickers) {
		response.BadRequest(w, r, err.Error())
		return
	}
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	response.Success(w, r, newPricesResponse(prices))
}

// GetLatest returns the last cached close of one ticker. The published close
// is served when present; otherwise the ticker is brought up to date first.
// GET /api/prices/{ticker}/latest
func (h *PricesHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	if ticker == "" {
		response.BadRequest(w, r, "ticker is required")
		return
	}

	if h.latest != nil {
		lp, ok, err := h.latest.LatestClose(r.Context(), ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Published close unavailable, using loader")
		}
		if err == nil && ok {
			response.Success(w, r, lp)
			return
		}
	}

	prices, err := h.loader.FetchPrices(r.Context(), []string{ticker}, true)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	lp, ok := latestCloses(prices)[ticker]
	if !ok {
		log.Debug().Str("ticker", ticker).Msg("No close available")
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no close available for "+ticker, "")
		return
	}

	response.Success(w, r, lp)
}

// GetStatus reports the cache state
// GET /api/status
func (h *PricesHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.loader.Status(r.Context())
	if err != nil {
		response.InternalError(w, r, err)
		return
	}
	response.Success(w, r, st)
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func newPricesResponse(p *pricecache.Prices) *PricesResponse {
	dates := p.Close.Dates()

	resp := &PricesResponse{
		RunID:     p.RunID.String(),
		State:     p.State,
		Persisted: p.Persisted,
		Dates:     make([]string, len(dates)),
		Open:      tableValues(p.Open, dates),
		Close:     tableValues(p.Close, dates),
		Outcomes:  p.Outcomes,
		Failed:    p.Failed(),
		Latest:    latestCloses(p),
	}
	for i, d := range dates {
		resp.Dates[i] = d.Format("2006-01-02")
	}
	return resp
}

func latestCloses(p *pricecache.Prices) map[string]marketdata.LatestPrice {
	snap := &marketdata.Snapshot{Open: p.Open, Close: p.Close}
	return snap.LatestCloses()
}

func tableValues(t *marketdata.PriceTable, dates []time.Time) map[string][]*float64 {
	out := make(map[string][]*float64, t.Width())
	for _, ticker := range t.Tickers() {
		values := make([]*float64, len(dates))
		for i, d := range dates {
			if v, ok := t.Get(ticker, d); ok {
				values[i] = &v
			}
		}
		out[ticker] = values
	}
	return out
}
