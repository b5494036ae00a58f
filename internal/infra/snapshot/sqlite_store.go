package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

// SQLiteStore keeps the snapshot in a single SQLite file. Column order and
// empty columns survive a round trip through price_columns.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer per process
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: log.With().Str("component", "snapshot_sqlite_store").Str("path", path).Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_columns (
			field    TEXT    NOT NULL,
			ticker   TEXT    NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (field, ticker)
		)`,
		`CREATE TABLE IF NOT EXISTS price_cells (
			field  TEXT NOT NULL,
			ticker TEXT NOT NULL,
			date   TEXT NOT NULL,
			value  REAL NOT NULL,
			PRIMARY KEY (field, ticker, date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements marketdata.SnapshotStore. A table that cannot be read is
// logged and comes back empty.
func (s *SQLiteStore) Load(ctx context.Context) (*marketdata.Snapshot, error) {
	snap := marketdata.NewSnapshot()
	for _, f := range marketdata.Fields {
		t, err := s.loadTable(ctx, f)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("field", string(f)).
				Msg("Cache table unreadable, treating as missing")
			continue
		}
		snap.SetTable(f, t)
	}
	snap.Align()
	return snap, nil
}

func (s *SQLiteStore) loadTable(ctx context.Context, f marketdata.Field) (*marketdata.PriceTable, error) {
	t := marketdata.NewPriceTable()

	cols, err := s.db.QueryContext(ctx,
		`SELECT ticker FROM price_columns WHERE field = ? ORDER BY position`, string(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
	}
	for cols.Next() {
		var ticker string
		if err := cols.Scan(&ticker); err != nil {
			cols.Close()
			return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
		}
		t.AddColumn(ticker)
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
	}

	cells, err := s.db.QueryContext(ctx,
		`SELECT ticker, date, value FROM price_cells WHERE field = ?`, string(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
	}
	defer cells.Close()

	for cells.Next() {
		var ticker, date string
		var v float64
		if err := cells.Scan(&ticker, &date, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
		}
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
		}
		t.Set(ticker, d, v)
	}
	if err := cells.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", marketdata.ErrCacheUnreadable, err)
	}
	return t, nil
}

// Save implements marketdata.SnapshotStore. The stored snapshot is replaced
// wholesale in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *marketdata.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", marketdata.ErrPersistFailed, err)
	}
	defer tx.Rollback()

	if err := saveTables(ctx, tx, snap); err != nil {
		return fmt.Errorf("%w: %v", marketdata.ErrPersistFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", marketdata.ErrPersistFailed, err)
	}

	s.logger.Debug().
		Int("tickers", snap.Close.Width()).
		Int("dates", snap.Close.Len()).
		Msg("Cache snapshot saved")
	return nil
}

func saveTables(ctx context.Context, tx *sql.Tx, snap *marketdata.Snapshot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_cells`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_columns`); err != nil {
		return err
	}

	colStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_columns (field, ticker, position) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer colStmt.Close()

	cellStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_cells (field, ticker, date, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer cellStmt.Close()

	for _, f := range marketdata.Fields {
		for i, c := range snap.Table(f).Columns() {
			if _, err := colStmt.ExecContext(ctx, string(f), c.Ticker, i); err != nil {
				return err
			}
			for d, v := range c.Values {
				if _, err := cellStmt.ExecContext(ctx, string(f), c.Ticker, d.Format(dateLayout), v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
