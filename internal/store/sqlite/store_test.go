package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"cryptoscope/internal/model"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	btc = model.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	eth = model.SeriesKey{Symbol: "ETHUSDT", Timeframe: "15m"}
)

func TestAlertState_FullReplace(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	empty, err := s.LoadAlertState(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty state, got %v %v", empty, err)
	}

	if err := s.SaveAlertState(ctx, model.AlertState{btc: model.StatusOverbought, eth: model.StatusOversold}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAlertState(ctx, model.AlertState{btc: model.StatusNeutral}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadAlertState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[btc] != model.StatusNeutral {
		t.Fatalf("expected only btc=neutral, got %v", got)
	}
}

func TestAlertState_SkipsUnknownStatus(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if _, err := s.db.Exec(`INSERT INTO alert_state VALUES ('X', '1h', 'bogus')`); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadAlertState(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected bogus row skipped, got %v %v", got, err)
	}
}

func TestEvents_RecordAndRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		ev := model.AlertEvent{ID: id, Symbol: "BTCUSDT", Timeframe: "1h", RSI: 70 + float64(i), Kind: model.StatusOverbought, At: base.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	// Duplicate delivery is ignored.
	if err := s.RecordEvent(ctx, model.AlertEvent{ID: "a", Symbol: "BTCUSDT", Timeframe: "1h", Kind: model.StatusOverbought, At: base}); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("expected [c b], got %+v", got)
	}
	if !got[0].At.Equal(base.Add(2*time.Minute)) || got[0].RSI != 72 || got[0].Kind != model.StatusOverbought {
		t.Errorf("round trip mismatch: %+v", got[0])
	}

	if err := s.PruneEvents(ctx, 1); err != nil {
		t.Fatal(err)
	}
	all, _ := s.RecentEvents(ctx, 10)
	if len(all) != 1 || all[0].ID != "c" {
		t.Fatalf("expected only newest after prune, got %+v", all)
	}
}

func TestSnapshots_Upsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	first := []model.SymbolSnapshot{
		{Key: btc, Candles: 10, LastClose: 1, ComputedAt: at},
		{Key: eth, Candles: 5, LastClose: 2, ComputedAt: at},
	}
	if err := s.SaveSnapshots(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshots(ctx, []model.SymbolSnapshot{{Key: btc, Candles: 11, LastClose: 3, ComputedAt: at.Add(time.Minute)}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadSnapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].Key != btc || got[0].Candles != 11 || got[0].LastClose != 3 {
		t.Errorf("btc not replaced: %+v", got[0])
	}
	if got[1].Key != eth || got[1].Candles != 5 {
		t.Errorf("eth changed: %+v", got[1])
	}
}
