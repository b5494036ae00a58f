package naver

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

const (
	sourceName      = "naver"
	defaultBaseURL  = "https://finance.naver.com"
	defaultTimeout  = 30 * time.Second
	defaultMaxPages = 500 // 10 rows per page, ~20 years

	// DefaultPageInterval is the pause between sise_day pages of one ticker.
	DefaultPageInterval = 150 * time.Millisecond
)

// Client 네이버 금융 일봉 클라이언트 (KRX 6자리 종목코드)
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	maxPages   int

	pageInterval time.Duration
	wait         func(ctx context.Context, d time.Duration) error
}

// NewClient 클라이언트 생성
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		maxPages:  defaultMaxPages,

		pageInterval: DefaultPageInterval,
		wait:         waitContext,
	}
}

// WithPageInterval sets the pause between pages. Zero disables pacing.
func (c *Client) WithPageInterval(d time.Duration) *Client {
	if d < 0 {
		d = 0
	}
	c.pageInterval = d
	return c
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name implements marketdata.TickerSource.
func (c *Client) Name() string { return sourceName }

// =============================================================================
// Daily Prices
// =============================================================================

// FetchTicker 일봉 데이터 수집 (start ~ end, 양끝 포함)
//
// sise_day.naver는 최신순 10행씩 페이지를 반환한다. start 이전 날짜가 나오거나
// 마지막 페이지에 도달하면 중단한다. 페이지 사이에는 pageInterval만큼 쉰다.
// 네이버 가격은 수정주가가 아니다.
func (c *Client) FetchTicker(ctx context.Context, code string, start, end time.Time) ([]marketdata.Bar, error) {
	start, end = marketdata.Day(start), marketdata.Day(end)

	var bars []marketdata.Bar
	var prevFirst time.Time

	for page := 1; page <= c.maxPages; page++ {
		if page > 1 && c.pageInterval > 0 {
			if err := c.wait(ctx, c.pageInterval); err != nil {
				return nil, err
			}
		}
		rows, err := c.fetchPage(ctx, code, page)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		// 마지막 페이지를 넘기면 네이버는 마지막 페이지를 다시 준다
		if rows[0].Date.Equal(prevFirst) {
			break
		}
		prevFirst = rows[0].Date

		reachedStart := false
		for _, b := range rows {
			if b.Date.Before(start) {
				reachedStart = true
				continue
			}
			if b.Date.After(end) {
				continue
			}
			bars = append(bars, b)
		}
		if reachedStart {
			break
		}
	}

	if len(bars) == 0 {
		return nil, marketdata.ErrNoData
	}

	// 오래된 순으로 정렬
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	log.Debug().
		Str("stock_code", code).
		Int("count", len(bars)).
		Msg("Fetched daily prices from Naver")

	return bars, nil
}

// fetchPage sise_day 한 페이지 파싱 (최신순)
func (c *Client) fetchPage(ctx context.Context, code string, page int) ([]marketdata.Bar, error) {
	url := fmt.Sprintf("%s/item/sise_day.naver?code=%s&page=%d", c.baseURL, code, page)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, marketdata.NewTransientError(sourceName, code, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, marketdata.NewStatusError(sourceName, code, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, marketdata.NewPermanentError(sourceName, code, fmt.Errorf("parse html: %w", marketdata.ErrInvalidResponse))
	}

	var bars []marketdata.Bar

	// 테이블 파싱
	doc.Find("table.type2 tr").Each(func(i int, s *goquery.Selection) {
		// 헤더 행 건너뛰기
		if s.Find("th").Length() > 0 {
			return
		}

		tds := s.Find("td")
		if tds.Length() < 7 {
			return
		}

		dateStr := strings.TrimSpace(tds.Eq(0).Text())
		if dateStr == "" {
			return
		}
		tradeDate, err := time.Parse("2006.01.02", dateStr)
		if err != nil {
			return
		}

		// 날짜, 종가, 전일비, 시가, 고가, 저가, 거래량
		bars = append(bars, marketdata.NewBar(
			tradeDate,
			parseNumber(tds.Eq(3).Text()),
			parseNumber(tds.Eq(4).Text()),
			parseNumber(tds.Eq(5).Text()),
			parseNumber(tds.Eq(1).Text()),
			parseNumber(tds.Eq(6).Text()),
		))
	})

	return bars, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

var digits = regexp.MustCompile(`\d+`)

// parseNumber 숫자 문자열 파싱 (콤마 제거). 숫자가 없으면 NaN.
func parseNumber(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	m := digits.FindString(s)
	if m == "" {
		return math.NaN()
	}

	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return math.NaN()
	}
	return n
}
