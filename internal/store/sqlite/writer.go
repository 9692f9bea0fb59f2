// Package sqlite persists detector state, alert history and the latest
// snapshot of every key so a restarted engine resumes where it stopped.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"cryptoscope/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/cryptoscope.db"
}

// Store is a single-connection SQLite store.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_state (
			symbol    TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status    TEXT NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		);

		CREATE TABLE IF NOT EXISTS alert_events (
			id        TEXT    PRIMARY KEY,
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			kind      TEXT    NOT NULL,
			rsi       REAL    NOT NULL,
			at        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alert_events_at ON alert_events (at);

		CREATE TABLE IF NOT EXISTS snapshots (
			symbol      TEXT    NOT NULL,
			timeframe   TEXT    NOT NULL,
			data        TEXT    NOT NULL,
			computed_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		);
	`)
	return err
}

// SaveAlertState replaces the stored state as a whole in one transaction.
func (s *Store) SaveAlertState(ctx context.Context, state model.AlertState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_state`); err != nil {
		return fmt.Errorf("sqlite clear alert_state: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alert_state (symbol, timeframe, status) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for k, st := range state {
		if _, err := stmt.ExecContext(ctx, k.Symbol, k.Timeframe, string(st)); err != nil {
			return fmt.Errorf("sqlite insert alert_state %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// RecordEvent appends an alert event to the history. Recording the same
// event ID twice is a no-op.
func (s *Store) RecordEvent(ctx context.Context, ev model.AlertEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alert_events (id, symbol, timeframe, kind, rsi, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Symbol, ev.Timeframe, string(ev.Kind), ev.RSI, ev.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert event: %w", err)
	}
	return nil
}

// SaveSnapshots upserts the latest snapshot of every given key in one
// transaction.
func (s *Store) SaveSnapshots(ctx context.Context, snaps []model.SymbolSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO snapshots (symbol, timeframe, data, computed_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for i := range snaps {
		sn := &snaps[i]
		if _, err := stmt.ExecContext(ctx, sn.Key.Symbol, sn.Key.Timeframe, string(sn.JSON()), sn.ComputedAt.UnixMilli()); err != nil {
			return fmt.Errorf("sqlite insert snapshot %s: %w", sn.Key, err)
		}
	}
	return tx.Commit()
}

// PruneEvents keeps only the newest keep events.
func (s *Store) PruneEvents(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_events WHERE id NOT IN (SELECT id FROM alert_events ORDER BY at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("sqlite prune events: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
