package snapshot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/domain/marketdata"
)

const dateLayout = "2006-01-02"

// FileStore keeps each field as a wide CSV file: a "date" column followed by
// one column per ticker, empty cells for nulls.
//
//	<dir>/prices_open.csv
//	<dir>/prices_close.csv
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: log.With().Str("component", "snapshot_file_store").Str("dir", dir).Logger(),
	}
}

// Path returns the file holding field f.
func (s *FileStore) Path(f marketdata.Field) string {
	return filepath.Join(s.dir, fmt.Sprintf("prices_%s.csv", f))
}

// Load implements marketdata.SnapshotStore. Missing files give an empty
// table; an unreadable file is logged and also gives an empty table, so its
// tickers come back degraded.
func (s *FileStore) Load(ctx context.Context) (*marketdata.Snapshot, error) {
	snap := marketdata.NewSnapshot()
	for _, f := range marketdata.Fields {
		t, err := s.loadTable(s.Path(f))
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			s.logger.Warn().
				Err(err).
				Str("field", string(f)).
				Msg("Cache file unreadable, treating as missing")
			continue
		}
		snap.SetTable(f, t)
	}
	snap.Align()
	return snap, nil
}

func (s *FileStore) loadTable(path string) (*marketdata.PriceTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	t, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Save implements marketdata.SnapshotStore. Each file is written to a temp
// file and renamed into place.
func (s *FileStore) Save(ctx context.Context, snap *marketdata.Snapshot) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: create cache dir: %v", marketdata.ErrPersistFailed, err)
	}

	for _, f := range marketdata.Fields {
		if err := s.writeAtomic(s.Path(f), snap.Table(f)); err != nil {
			return fmt.Errorf("%w: %s: %v", marketdata.ErrPersistFailed, f, err)
		}
	}

	s.logger.Debug().
		Int("tickers", snap.Close.Width()).
		Int("dates", snap.Close.Len()).
		Msg("Cache snapshot saved")
	return nil
}

func (s *FileStore) writeAtomic(path string, t *marketdata.PriceTable) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteCSV writes t in wide format.
func WriteCSV(w io.Writer, t *marketdata.PriceTable) error {
	cw := csv.NewWriter(w)
	tickers := t.Tickers()

	header := append([]string{"date"}, tickers...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, d := range t.Dates() {
		record[0] = d.Format(dateLayout)
		for i, ticker := range tickers {
			record[i+1] = ""
			if v, ok := t.Get(ticker, d); ok {
				record[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a wide-format table. Duplicate ticker columns are rejected.
func ReadCSV(r io.Reader) (*marketdata.PriceTable, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return marketdata.NewPriceTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", marketdata.ErrCacheUnreadable, err)
	}
	if len(header) == 0 || header[0] != "date" {
		return nil, fmt.Errorf("%w: first column must be date", marketdata.ErrCacheUnreadable)
	}

	t := marketdata.NewPriceTable()
	tickers := append([]string(nil), header[1:]...)
	for _, ticker := range tickers {
		if ticker == "" || t.HasTicker(ticker) {
			return nil, fmt.Errorf("%w: bad or duplicate column %q", marketdata.ErrCacheUnreadable, ticker)
		}
		t.AddColumn(ticker)
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", marketdata.ErrCacheUnreadable, line, err)
		}

		d, err := time.Parse(dateLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", marketdata.ErrCacheUnreadable, line, err)
		}
		for i, cell := range record[1:] {
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", marketdata.ErrCacheUnreadable, line, err)
			}
			t.Set(tickers[i], d, v)
		}
	}
	return t, nil
}
