// Package sqlite caches fetched candles in a local SQLite database so the
// backtest can replay them and the service can survive a cold exchange.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"signal-engine/internal/model"
)

// Store is a candle cache backed by a single SQLite file.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Ensure the Store implements the CandleStore interface.
var _ model.CandleStore = (*Store)(nil)

// New opens the database at path with WAL mode and creates the schema.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With().Str("component", "sqlite").Logger()
	log.Info().Str("path", path).Msg("opened database")
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol   TEXT    NOT NULL,
			interval TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL,
			PRIMARY KEY (symbol, interval, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// SaveCandles upserts candles in a single transaction. A candle with the same
// (symbol, interval, ts) as a stored one replaces it.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Interval, c.TS.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", c.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	s.log.Debug().Int("count", len(candles)).Dur("took", time.Since(start)).Msg("committed candles")
	return nil
}

// ReadCandles returns the newest limit candles for symbol and interval,
// oldest first. A non-positive limit returns every stored candle.
func (s *Store) ReadCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, interval, ts, open, high, low, close, volume FROM (
			SELECT * FROM candles
			WHERE symbol = ? AND interval = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsMilli int64
		var volume sql.NullFloat64
		if err := rows.Scan(&c.Symbol, &c.Interval, &tsMilli, &c.Open, &c.High, &c.Low, &c.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.UnixMilli(tsMilli).UTC()
		c.Volume = volume.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
