package pricecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wonny/marketcache/internal/domain/marketdata"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Classify maps an error onto the transient/permanent taxonomy.
// An explicit SourceError kind always wins.
func Classify(err error) marketdata.ErrorKind {
	if err == nil {
		return ""
	}

	var srcErr *marketdata.SourceError
	if errors.As(err, &srcErr) && srcErr.Kind != "" {
		return srcErr.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return marketdata.KindPermanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, marketdata.ErrTimeout),
		errors.Is(err, marketdata.ErrRateLimited),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return marketdata.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return marketdata.KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return marketdata.KindTransient
	}

	return marketdata.KindPermanent
}

// RetryPolicy retries transient failures with capped exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	Classifier func(error) marketdata.ErrorKind
	Sleep      Sleeper
}

// DefaultRetryPolicy returns 3 retries at 1s, 2s, 4s capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Classifier: Classify,
		Sleep:      SleepContext,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay), attempt starting at 0.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Classify applies the policy's classifier.
func (p RetryPolicy) Classify(err error) marketdata.ErrorKind {
	if p.Classifier == nil {
		return Classify(err)
	}
	return p.Classifier(err)
}

// IsTransient reports whether err is worth retrying.
func (p RetryPolicy) IsTransient(err error) bool {
	return p.Classify(err) == marketdata.KindTransient
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

// Retry runs op until it succeeds, fails permanently, or MaxRetries retries
// have been spent.
func Retry[T any](ctx context.Context, p RetryPolicy, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !p.IsTransient(err) {
			return zero, err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		log.Warn().
			Err(err).
			Str("call", name).
			Int("attempt", attempt+1).
			Int("max_retries", p.MaxRetries).
			Dur("delay", delay).
			Msg("Transient provider error, retrying")

		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry wait: %w", err)
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
