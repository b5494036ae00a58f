package pricecache

import (
	"math"
	"time"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

// ValidateBar applies the row sanity checks. Zero volume is accepted: days
// without trades are common and valid.
func ValidateBar(b marketdata.Bar) (bool, string) {
	if b.Date.IsZero() {
		return false, "missing date"
	}

	required := []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
		{"volume", b.Volume},
	}
	for _, f := range required {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return false, "missing " + f.name
		}
	}

	if b.High < b.Low {
		return false, "high < low"
	}
	if b.Close > b.High || b.Close < b.Low {
		return false, "close outside high/low range"
	}
	if b.Open > b.High || b.Open < b.Low {
		return false, "open outside high/low range"
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return false, "non-positive price"
	}

	return true, ""
}

// tickerData is one ticker's validated rows, ready to enter the tables.
type tickerData struct {
	open     marketdata.Column
	close    marketdata.Column
	rows     int
	rejected int
	issues   []marketdata.QualityIssue
}

// buildColumns validates bars and converts the survivors into adjusted open
// and close columns. For duplicate dates the later row wins.
func buildColumns(ticker string, bars []marketdata.Bar) tickerData {
	data := tickerData{
		open:  marketdata.Column{Ticker: ticker, Values: make(map[time.Time]float64)},
		close: marketdata.Column{Ticker: ticker, Values: make(map[time.Time]float64)},
	}

	for _, b := range bars {
		if ok, reason := ValidateBar(b); !ok {
			data.rejected++
			data.issues = append(data.issues, marketdata.QualityIssue{
				Ticker: ticker,
				Date:   marketdata.Day(b.Date),
				Reason: reason,
			})
			continue
		}

		d := marketdata.Day(b.Date)
		adjOpen, adjClose := b.AdjustedOpen(), b.AdjustedClose()
		if !marketdata.ValidPrice(adjOpen) || !marketdata.ValidPrice(adjClose) {
			data.rejected++
			data.issues = append(data.issues, marketdata.QualityIssue{
				Ticker: ticker,
				Date:   d,
				Reason: "invalid adjusted price",
			})
			continue
		}
		if _, dup := data.close.Values[d]; !dup {
			data.rows++
		}
		data.open.Values[d] = adjOpen
		data.close.Values[d] = adjClose
	}

	return data
}
