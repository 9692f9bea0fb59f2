package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the refresh service from concrete collaborators
// (Binance, SQLite, Redis). The engine core never imports them.

// CandleSource supplies raw klines for a symbol and interval.
type CandleSource interface {
	// Klines returns up to limit klines ordered by open time. A zero start or
	// end leaves that side of the range open.
	Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]RawKline, error)
}

// AlertStateStore persists the edge detector state between restarts.
type AlertStateStore interface {
	// LoadAlertState returns the last saved state. Returns an empty state if none exists.
	LoadAlertState(ctx context.Context) (AlertState, error)

	// SaveAlertState replaces the stored state as a whole.
	SaveAlertState(ctx context.Context, state AlertState) error
}

// EventRecorder keeps alert history for the alert sink.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev AlertEvent) error
}

// SnapshotPublisher pushes installed results to external readers.
type SnapshotPublisher interface {
	// PublishSnapshots writes every snapshot of a cycle in one batch.
	PublishSnapshots(ctx context.Context, snaps []SymbolSnapshot) error

	// PublishEvent announces a single alert event.
	PublishEvent(ctx context.Context, ev AlertEvent) error
}
