package postgres

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// schemaDDL creates the run-history tables. Statements are idempotent.
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS market`,
	`CREATE TABLE IF NOT EXISTS market.fetch_runs (
		id                UUID PRIMARY KEY,
		run_type          TEXT        NOT NULL,
		tickers_processed INTEGER     NOT NULL DEFAULT 0,
		tickers_succeeded INTEGER     NOT NULL DEFAULT 0,
		tickers_failed    INTEGER     NOT NULL DEFAULT 0,
		rows_fetched      INTEGER     NOT NULL DEFAULT 0,
		rows_rejected     INTEGER     NOT NULL DEFAULT 0,
		persisted         BOOLEAN     NOT NULL DEFAULT FALSE,
		status            TEXT        NOT NULL,
		error_message     TEXT,
		started_at        TIMESTAMPTZ NOT NULL,
		finished_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_runs_started_at ON market.fetch_runs (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS market.data_quality_log (
		id          BIGSERIAL PRIMARY KEY,
		run_id      UUID        NOT NULL REFERENCES market.fetch_runs (id) ON DELETE CASCADE,
		ticker      TEXT        NOT NULL,
		trade_date  DATE        NOT NULL,
		reason      TEXT        NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_quality_log_ticker ON market.data_quality_log (ticker, trade_date)`,
}

// EnsureSchema creates the market schema tables if they are missing.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	log.Debug().Msg("Run history schema ready")
	return nil
}
