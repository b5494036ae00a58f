package marketdata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/marketcache/internal/domain/marketdata"
	"github.com/wonny/marketcache/internal/infra/database/postgres"
)

// FetchRunRepository PostgreSQL 실행 이력 저장소
// (market.fetch_runs, market.data_quality_log)
type FetchRunRepository struct {
	db *pgxpool.Pool
}

// NewFetchRunRepository 생성자
func NewFetchRunRepository(db *pgxpool.Pool) *FetchRunRepository {
	return &FetchRunRepository{db: db}
}

const insertRunSQL = `
	INSERT INTO market.fetch_runs (
		id, run_type, tickers_processed, tickers_succeeded, tickers_failed,
		rows_fetched, rows_rejected, persisted, status, error_message,
		started_at, finished_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)
`

const insertIssueSQL = `
	INSERT INTO market.data_quality_log (run_id, ticker, trade_date, reason)
	VALUES ($1, $2, $3, $4)
`

// RecordRun 실행 요약과 거부된 행을 한 트랜잭션으로 저장
func (r *FetchRunRepository) RecordRun(ctx context.Context, run *marketdata.FetchRun, issues []marketdata.QualityIssue) error {
	ctx = postgres.WithRunID(ctx, run.ID.String())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(insertRunSQL,
		run.ID,
		run.RunType,
		run.TickersProcessed,
		run.TickersSucceeded,
		run.TickersFailed,
		run.RowsFetched,
		run.RowsRejected,
		run.Persisted,
		string(run.Status),
		run.ErrorMessage,
		run.StartedAt,
		run.FinishedAt,
	)
	for _, issue := range issues {
		batch.Queue(insertIssueSQL, run.ID, issue.Ticker, issue.Date, issue.Reason)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record run: %w", err)
	}
	return nil
}

// RecentRuns 최근 실행 이력 조회
func (r *FetchRunRepository) RecentRuns(ctx context.Context, limit int) ([]*marketdata.FetchRun, error) {
	query := `
		SELECT id, run_type, tickers_processed, tickers_succeeded, tickers_failed,
		       rows_fetched, rows_rejected, persisted, status, error_message,
		       started_at, finished_at
		FROM market.fetch_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent fetch runs: %w", err)
	}
	defer rows.Close()

	var runs []*marketdata.FetchRun
	for rows.Next() {
		var run marketdata.FetchRun
		var status string
		err := rows.Scan(
			&run.ID,
			&run.RunType,
			&run.TickersProcessed,
			&run.TickersSucceeded,
			&run.TickersFailed,
			&run.RowsFetched,
			&run.RowsRejected,
			&run.Persisted,
			&status,
			&run.ErrorMessage,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fetch run: %w", err)
		}
		run.Status = marketdata.RunStatus(status)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch runs: %w", err)
	}

	return runs, nil
}

// RejectionsByTicker 종목별 거부 행 수 (최근 n회 실행 기준)
func (r *FetchRunRepository) RejectionsByTicker(ctx context.Context, lastRuns int) (map[string]int, error) {
	query := `
		SELECT q.ticker, COUNT(*)
		FROM market.data_quality_log q
		JOIN (
			SELECT id FROM market.fetch_runs ORDER BY started_at DESC LIMIT $1
		) recent ON recent.id = q.run_id
		GROUP BY q.ticker
	`

	rows, err := r.db.Query(ctx, query, lastRuns)
	if err != nil {
		return nil, fmt.Errorf("count rejections: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var ticker string
		var n int
		if err := rows.Scan(&ticker, &n); err != nil {
			return nil, fmt.Errorf("scan rejection count: %w", err)
		}
		out[ticker] = n
	}
	return out, rows.Err()
}
