package marketdata

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Request errors
	ErrNoTickers = errors.New("no tickers requested")

	// Provider errors
	ErrTickerNotFound  = errors.New("ticker not found")
	ErrUnauthorized    = errors.New("provider rejected credentials")
	ErrInvalidResponse = errors.New("invalid response from provider")
	ErrRateLimited     = errors.New("provider rate limit exceeded")
	ErrTimeout         = errors.New("provider timeout")
	ErrNoData          = errors.New("no data available for the given period")

	// Cache errors
	ErrCacheUnreadable = errors.New("cache snapshot unreadable")
	ErrPersistFailed   = errors.New("cache snapshot persist failed")
)

// ErrorKind is the error taxonomy used for retry and reporting decisions.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"    // retried under the retry policy
	KindPermanent   ErrorKind = "permanent"    // fails the ticker immediately
	KindDataQuality ErrorKind = "data_quality" // row dropped, never ticker-level
	KindPersistence ErrorKind = "persistence"  // logged and swallowed
)

// SourceError wraps a provider failure with an explicit kind.
type SourceError struct {
	Source     string
	Ticker     string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	msg := e.Source
	if e.Ticker != "" {
		msg += " " + e.Ticker
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable.
func NewTransientError(source, ticker string, err error) *SourceError {
	return &SourceError{Source: source, Ticker: ticker, Kind: KindTransient, Err: err}
}

// NewPermanentError marks err as not retryable.
func NewPermanentError(source, ticker string, err error) *SourceError {
	return &SourceError{Source: source, Ticker: ticker, Kind: KindPermanent, Err: err}
}

// NewStatusError classifies an HTTP status: 5xx and 429 are transient,
// everything else permanent.
func NewStatusError(source, ticker string, status int) *SourceError {
	kind := KindPermanent
	var err error
	switch {
	case status == 429:
		kind, err = KindTransient, ErrRateLimited
	case status >= 500:
		kind, err = KindTransient, fmt.Errorf("server error")
	case status == 401 || status == 403:
		err = ErrUnauthorized
	case status == 404:
		err = ErrTickerNotFound
	default:
		err = fmt.Errorf("unexpected status")
	}
	return &SourceError{Source: source, Ticker: ticker, Kind: kind, StatusCode: status, Err: err}
}
