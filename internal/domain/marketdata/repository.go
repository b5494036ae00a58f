package marketdata

import (
	"context"
	"time"
)

// =============================================================================
// Provider Interfaces
// =============================================================================

// BulkSource is the primary provider: many tickers over a date range in one
// call. Tickers it cannot serve are simply absent from the result.
type BulkSource interface {
	Name() string
	FetchBulk(ctx context.Context, tickers []string, start, end time.Time) (map[string][]Bar, error)
}

// TickerSource is the secondary provider: one ticker at a time, start and end
// inclusive.
type TickerSource interface {
	Name() string
	FetchTicker(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error)
}

// =============================================================================
// Storage Interfaces
// =============================================================================

// SnapshotStore persists the open/close snapshot.
type SnapshotStore interface {
	// Load returns the stored snapshot. A missing store is an empty snapshot;
	// a corrupt part is dropped and logged.
	Load(ctx context.Context) (*Snapshot, error)

	// Save overwrites the stored snapshot wholesale.
	Save(ctx context.Context, snap *Snapshot) error
}

// RunRecorder keeps fetch run history and rejected rows.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *FetchRun, issues []QualityIssue) error
	RecentRuns(ctx context.Context, limit int) ([]*FetchRun, error)
	// RejectionsByTicker counts rejected rows per ticker over the last runs.
	RejectionsByTicker(ctx context.Context, lastRuns int) (map[string]int, error)
}

// PricePublisher exposes the latest closes to downstream readers.
type PricePublisher interface {
	PublishLatest(ctx context.Context, closes map[string]LatestPrice) error
}
