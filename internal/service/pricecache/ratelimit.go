package pricecache

import (
	"context"
	"sync"
	"time"
)

// DefaultMinRequestInterval is the per-ticker cooldown between provider calls.
const DefaultMinRequestInterval = 1500 * time.Millisecond

// TickerLimiter spaces provider calls for the same ticker by a minimum
// interval. Tickers never wait on each other.
type TickerLimiter struct {
	interval time.Duration
	now      func() time.Time
	sleep    Sleeper

	mu   sync.Mutex
	next map[string]time.Time // earliest allowed start of the next call
}

// NewTickerLimiter creates a limiter with the given cooldown.
func NewTickerLimiter(interval time.Duration) *TickerLimiter {
	return &TickerLimiter{
		interval: interval,
		now:      time.Now,
		sleep:    SleepContext,
		next:     make(map[string]time.Time),
	}
}

// WithClock replaces the time source and sleeper (tests).
func (l *TickerLimiter) WithClock(now func() time.Time, sleep Sleeper) *TickerLimiter {
	l.now = now
	l.sleep = sleep
	return l
}

// reserve books the next slot for ticker and returns how long to wait for it.
func (l *TickerLimiter) reserve(ticker string, now time.Time) time.Duration {
	start := now
	if next, ok := l.next[ticker]; ok && next.After(now) {
		start = next
	}
	l.next[ticker] = start.Add(l.interval)
	return start.Sub(now)
}

// Wait blocks until ticker may be called again.
func (l *TickerLimiter) Wait(ctx context.Context, ticker string) error {
	return l.WaitAll(ctx, []string{ticker})
}

// WaitAll reserves a slot for every ticker of a batch call and waits for the
// latest of them.
func (l *TickerLimiter) WaitAll(ctx context.Context, tickers []string) error {
	if l == nil || l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	var wait time.Duration
	for _, ticker := range tickers {
		if d := l.reserve(ticker, now); d > wait {
			wait = d
		}
	}
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return l.sleep(ctx, wait)
}
