package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cryptoscope/internal/model"
)

// LoadAlertState returns the persisted detector state. Rows with an unknown
// status are skipped.
func (s *Store) LoadAlertState(ctx context.Context) (model.AlertState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, timeframe, status FROM alert_state`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query alert_state: %w", err)
	}
	defer rows.Close()

	state := model.AlertState{}
	for rows.Next() {
		var k model.SeriesKey
		var st string
		if err := rows.Scan(&k.Symbol, &k.Timeframe, &st); err != nil {
			return nil, fmt.Errorf("sqlite scan alert_state: %w", err)
		}
		status := model.AlertStatus(st)
		if !status.Valid() {
			s.log.Warn("skipping unknown alert status", "key", k.String(), "status", st)
			continue
		}
		state[k] = status
	}
	return state, rows.Err()
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, kind, rsi, at
		FROM alert_events
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query alert_events: %w", err)
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var ev model.AlertEvent
		var kind string
		var at int64
		if err := rows.Scan(&ev.ID, &ev.Symbol, &ev.Timeframe, &kind, &ev.RSI, &at); err != nil {
			return nil, fmt.Errorf("sqlite scan alert_events: %w", err)
		}
		ev.Kind = model.AlertStatus(kind)
		ev.At = time.UnixMilli(at).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LoadSnapshots returns the last saved snapshot of every key, ordered by key.
func (s *Store) LoadSnapshots(ctx context.Context) ([]model.SymbolSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM snapshots ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.SymbolSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan snapshots: %w", err)
		}
		var sn model.SymbolSnapshot
		if err := json.Unmarshal([]byte(data), &sn); err != nil {
			return nil, fmt.Errorf("sqlite decode snapshot: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}
