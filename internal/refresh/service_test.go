package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"cryptoscope/internal/calendar"
	"cryptoscope/internal/metrics"
	"cryptoscope/internal/model"
	"cryptoscope/internal/notification"

	"github.com/prometheus/client_golang/prometheus"
)

var now = time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC) // a Wednesday

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// hourly builds n closed hourly klines ending before now, closes from fn.
func hourly(n int, fn func(i int) float64) []model.RawKline {
	out := make([]model.RawKline, n)
	first := now.Add(-time.Duration(n) * time.Hour)
	for i := range out {
		ot := first.Add(time.Duration(i) * time.Hour)
		c := fn(i)
		f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
		out[i] = model.RawKline{
			OpenTime:     ot.UnixMilli(),
			CloseTime:    ot.Add(time.Hour).UnixMilli() - 1,
			Open:         f(c),
			High:         f(c + 1),
			Low:          f(c - 1),
			Close:        f(c),
			Volume:       "10",
			TakerBuyBase: "4",
		}
	}
	return out
}

func rising(i int) float64  { return 100 + float64(i) }
func falling(i int) float64 { return 200 - float64(i) }

type fakeSource struct {
	mu       sync.Mutex
	primary  map[string][]model.RawKline // "SYMBOL:tf"
	fail     map[string]error
	htfCalls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		primary:  map[string][]model.RawKline{},
		fail:     map[string]error{},
		htfCalls: map[string]int{},
	}
}

func (f *fakeSource) Klines(_ context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.RawKline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !start.IsZero() {
		f.htfCalls[symbol]++
		// Like the exchange: klines of the requested interval opening in
		// [start, end), at most limit of them.
		step, ok := calendar.IntervalDuration(interval)
		if !ok {
			return nil, fmt.Errorf("unknown interval %q", interval)
		}
		var out []model.RawKline
		for t := start; t.Before(end) && len(out) < limit; t = t.Add(step) {
			out = append(out, model.RawKline{
				OpenTime: t.UnixMilli(), CloseTime: t.Add(step).UnixMilli() - 1,
				Open: "100", High: "110", Low: "90", Close: strconv.Itoa(95 + t.Day()%10),
				Volume: "5", TakerBuyBase: "2",
			})
		}
		return out, nil
	}
	key := symbol + ":" + interval
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.primary[key], nil
}

func (f *fakeSource) set(key string, klines []model.RawKline, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primary[key] = klines
	f.fail[key] = err
}

type memStore struct {
	mu     sync.Mutex
	state  model.AlertState
	events []model.AlertEvent
	snaps  map[model.SeriesKey]model.SymbolSnapshot
}

func newMemStore() *memStore { return &memStore{snaps: map[model.SeriesKey]model.SymbolSnapshot{}} }

func (m *memStore) LoadAlertState(context.Context) (model.AlertState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *memStore) SaveAlertState(_ context.Context, s model.AlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
	return nil
}

func (m *memStore) RecordEvent(_ context.Context, ev model.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) SaveSnapshots(_ context.Context, snaps []model.SymbolSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.snaps[s.Key] = s
	}
	return nil
}

func (m *memStore) LoadSnapshots(context.Context) ([]model.SymbolSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SymbolSnapshot
	for _, s := range m.snaps {
		out = append(out, s)
	}
	return out, nil
}

type recorder struct {
	mu        sync.Mutex
	alerts    []model.AlertEvent
	snapshots int
	sent      []notification.Alert
}

func (r *recorder) BroadcastAlert(ev model.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, ev)
}

func (r *recorder) BroadcastSnapshots(snaps []model.SymbolSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots += len(snaps)
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return nil
}

type fixture struct {
	svc   *Service
	src   *fakeSource
	store *memStore
	rec   *recorder
	m     *metrics.Metrics
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, symbols, tfs []string) *fixture {
	t.Helper()
	f := &fixture{src: newFakeSource(), store: newMemStore(), rec: &recorder{}, reg: prometheus.NewRegistry()}
	f.m = metrics.New(f.reg)
	svc, err := New(Config{
		Symbols:     symbols,
		Timeframes:  tfs,
		HTFInterval: "1d",
		Workers:     3,
	}, Deps{
		Source:   f.src,
		Store:    f.store,
		Notifier: f.rec,
		Metrics:  f.m,
		Health:   metrics.NewHealthStatus(time.Minute),
		Log:      quietLog(),
	})
	if err != nil {
		t.Fatal(err)
	}
	svc.SetBroadcaster(f.rec)
	svc.now = func() time.Time { return now }
	f.svc = svc
	return f
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					match = true
				}
			}
			if match {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Symbols: []string{"BTCUSDT"}, Timeframes: []string{"1h"}}, Deps{}); err == nil {
		t.Error("expected error without source")
	}
	if _, err := New(Config{}, Deps{Source: newFakeSource()}); err == nil {
		t.Error("expected error without keys")
	}
}

func TestRunCycle_InstallsSnapshotsAndAlerts(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT", "ETHUSDT"}, []string{"1h"})
	f.src.set("BTCUSDT:1h", hourly(60, rising), nil)
	f.src.set("ETHUSDT:1h", hourly(60, falling), nil)

	cycle := f.svc.RunCycle(context.Background())
	if cycle == nil || cycle.ID == "" {
		t.Fatal("expected an installed cycle with an id")
	}
	if cycle.Len() != 2 || len(cycle.Failures) != 0 {
		t.Fatalf("snapshots=%d failures=%v", cycle.Len(), cycle.Failures)
	}

	btc, ok := cycle.Snapshot(model.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"})
	if !ok {
		t.Fatal("missing BTC snapshot")
	}
	if r, _ := btc.Oscillators.LatestRSI(); r.Value != 100 {
		t.Errorf("monotonic rise should give RSI 100, got %f", r.Value)
	}
	if btc.Profile == nil {
		t.Error("expected a primary profile")
	}
	if !btc.HTF.Weekly.Present() || !btc.HTF.Monthly.Present() {
		t.Errorf("expected HTF levels, got %+v", btc.HTF)
	}

	state := f.svc.AlertState()
	if state[btc.Key] != model.StatusOverbought {
		t.Errorf("btc status %s", state[btc.Key])
	}
	if state[model.SeriesKey{Symbol: "ETHUSDT", Timeframe: "1h"}] != model.StatusOversold {
		t.Errorf("eth status not oversold: %v", state)
	}

	// Events reach every sink once the dispatcher drains.
	f.svc.drain(context.Background())
	if len(f.rec.alerts) != 2 || len(f.rec.sent) != 2 || len(f.store.events) != 2 {
		t.Fatalf("broadcast=%d notified=%d recorded=%d", len(f.rec.alerts), len(f.rec.sent), len(f.store.events))
	}
	if f.rec.snapshots != 2 {
		t.Errorf("expected 2 snapshot broadcasts, got %d", f.rec.snapshots)
	}
	if f.store.state[btc.Key] != model.StatusOverbought {
		t.Errorf("alert state not persisted: %v", f.store.state)
	}
	if len(f.store.snaps) != 2 {
		t.Errorf("snapshots not persisted: %d", len(f.store.snaps))
	}
	if got := counterValue(t, f.reg, "scope_alerts_total", "overbought"); got != 1 {
		t.Errorf("overbought alerts counter = %f", got)
	}
}

func TestRunCycle_NoRepeatAlerts(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, []string{"1h"})
	f.src.set("BTCUSDT:1h", hourly(60, rising), nil)

	f.svc.RunCycle(context.Background())
	f.svc.RunCycle(context.Background())
	f.svc.drain(context.Background())

	if len(f.rec.alerts) != 1 {
		t.Fatalf("staying overbought must not re-alert, got %d events", len(f.rec.alerts))
	}
}

func TestRunCycle_FailureIsolationKeepsPrevious(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT", "ETHUSDT"}, []string{"1h"})
	f.src.set("BTCUSDT:1h", hourly(60, rising), nil)
	f.src.set("ETHUSDT:1h", hourly(60, falling), nil)
	first := f.svc.RunCycle(context.Background())
	ethKey := model.SeriesKey{Symbol: "ETHUSDT", Timeframe: "1h"}
	prevETH, _ := first.Snapshot(ethKey)

	// ETH fails to fetch, BTC gets new data.
	f.src.set("ETHUSDT:1h", nil, errors.New("connection reset"))
	f.src.set("BTCUSDT:1h", hourly(61, rising), nil)
	second := f.svc.RunCycle(context.Background())

	if len(second.Failures) != 1 || second.Failures[0].Key != ethKey {
		t.Fatalf("expected one ETH failure, got %+v", second.Failures)
	}
	if second.Failures[0].Reason != metrics.ReasonFetch {
		t.Errorf("reason = %s, want fetch", second.Failures[0].Reason)
	}
	eth, ok := second.Snapshot(ethKey)
	if !ok || eth.Candles != prevETH.Candles || !eth.ComputedAt.Equal(prevETH.ComputedAt) {
		t.Errorf("failed key should keep its previous snapshot")
	}
	btc, _ := second.Snapshot(model.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"})
	if btc.Candles != 61 {
		t.Errorf("BTC not refreshed: %d candles", btc.Candles)
	}
	// The failed key keeps its alert status.
	if f.svc.AlertState()[ethKey] != model.StatusOversold {
		t.Errorf("failed key lost its status")
	}
	if got := counterValue(t, f.reg, "scope_key_failures_total", metrics.ReasonFetch); got != 1 {
		t.Errorf("fetch failures counter = %f", got)
	}
}

func TestRunCycle_FailureReasons(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT", "ETHUSDT"}, []string{"1h"})

	bad := hourly(30, rising)
	bad[10].High = "1" // high below low
	f.src.set("BTCUSDT:1h", bad, nil)
	f.src.set("ETHUSDT:1h", nil, nil)

	cycle := f.svc.RunCycle(context.Background())
	reasons := map[string]string{}
	for _, fl := range cycle.Failures {
		reasons[fl.Key.Symbol] = fl.Reason
	}
	if reasons["BTCUSDT"] != metrics.ReasonMalformed {
		t.Errorf("BTC reason = %q, want malformed", reasons["BTCUSDT"])
	}
	if reasons["ETHUSDT"] != metrics.ReasonEmpty {
		t.Errorf("ETH reason = %q, want empty", reasons["ETHUSDT"])
	}
	if cycle.Len() != 0 {
		t.Errorf("no snapshot expected, got %d", cycle.Len())
	}
}

func TestRunCycle_HTFFetchedOncePerSymbol(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, []string{"15m", "1h", "4h"})
	for _, tf := range []string{"15m", "1h", "4h"} {
		f.src.set("BTCUSDT:"+tf, hourly(40, rising), nil)
	}
	f.svc.RunCycle(context.Background())
	// One request per window, shared by all three timeframes.
	if n := f.src.htfCalls["BTCUSDT"]; n != 2 {
		t.Fatalf("expected 2 HTF requests, got %d", n)
	}
}

func TestFetchHTF_CompleteWindowsLateInMonth(t *testing.T) {
	src := newFakeSource()
	svc, err := New(Config{
		Symbols:     []string{"BTCUSDT"},
		Timeframes:  []string{"1h"},
		HTFInterval: "1h",
	}, Deps{Source: src, Log: quietLog()})
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	week, month := calendar.PreviousWeek(at), calendar.PreviousMonth(at)
	w := svc.fetchHTF(context.Background(), "BTCUSDT", week, month)

	if len(w.weekly) != 168 {
		t.Errorf("weekly: got %d hourly klines, want 168", len(w.weekly))
	}
	if len(w.monthly) != 720 {
		t.Errorf("monthly: got %d hourly klines, want 720", len(w.monthly))
	}
	if len(w.weekly) > 0 && w.weekly[0].OpenTime != week.From.UnixMilli() {
		t.Errorf("weekly starts at %d, want %d", w.weekly[0].OpenTime, week.From.UnixMilli())
	}
	if n := len(w.monthly); n > 0 && w.monthly[n-1].OpenTime != month.To.Add(-time.Hour).UnixMilli() {
		t.Errorf("monthly ends at %d", w.monthly[n-1].OpenTime)
	}
}

func TestFetchHTF_FailureLeavesBothWindowsEmpty(t *testing.T) {
	svc, err := New(Config{
		Symbols:     []string{"BTCUSDT"},
		Timeframes:  []string{"1h"},
		HTFInterval: "1h",
	}, Deps{Source: failingHTF{}, Log: quietLog()})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	w := svc.fetchHTF(context.Background(), "BTCUSDT", calendar.PreviousWeek(at), calendar.PreviousMonth(at))
	if w.weekly != nil || w.monthly != nil {
		t.Errorf("expected empty windows, got %d/%d", len(w.weekly), len(w.monthly))
	}
}

// failingHTF serves the week and rejects the month.
type failingHTF struct{}

func (failingHTF) Klines(_ context.Context, _, _ string, start, end time.Time, _ int) ([]model.RawKline, error) {
	if end.Sub(start) > 7*24*time.Hour {
		return nil, errors.New("upstream unavailable")
	}
	return []model.RawKline{{OpenTime: start.UnixMilli(), CloseTime: start.Add(time.Hour).UnixMilli() - 1}}, nil
}

func TestNew_RejectsUnknownHTFInterval(t *testing.T) {
	_, err := New(Config{Symbols: []string{"BTCUSDT"}, Timeframes: []string{"1h"}, HTFInterval: "2d"}, Deps{Source: newFakeSource()})
	if err == nil {
		t.Error("expected error for unknown HTF interval")
	}
}

func TestRunCycle_DropsFormingKline(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, []string{"1h"})
	klines := hourly(40, rising)
	forming := klines[len(klines)-1]
	forming.OpenTime = now.UnixMilli()
	forming.CloseTime = now.Add(time.Hour).UnixMilli() - 1
	f.src.set("BTCUSDT:1h", append(klines, forming), nil)

	cycle := f.svc.RunCycle(context.Background())
	snap, _ := cycle.Snapshot(model.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"})
	if snap.Candles != 40 {
		t.Fatalf("forming kline should be dropped, got %d candles", snap.Candles)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, []string{"1h"})
	btc := model.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	f.store.state = model.AlertState{btc: model.StatusOverbought}
	f.store.snaps[btc] = model.SymbolSnapshot{Key: btc, Candles: 7}
	f.store.snaps[model.SeriesKey{Symbol: "OLD", Timeframe: "1h"}] = model.SymbolSnapshot{}

	if err := f.svc.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.svc.Snapshots(); len(got) != 1 || got[0].Candles != 7 {
		t.Fatalf("restored snapshots = %+v", got)
	}

	// Restored overbought: a rising window must not alert again.
	f.src.set("BTCUSDT:1h", hourly(60, rising), nil)
	f.svc.RunCycle(context.Background())
	f.svc.drain(context.Background())
	if len(f.rec.alerts) != 0 {
		t.Fatalf("expected no alert after restore, got %d", len(f.rec.alerts))
	}
}

func TestEnqueue_Overflow(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, []string{"1h"})
	capacity := f.svc.ring.Cap()
	events := make([]model.AlertEvent, capacity+3)
	for i := range events {
		events[i] = model.AlertEvent{ID: strconv.Itoa(i), Symbol: "BTCUSDT", Timeframe: "1h", Kind: model.StatusOverbought}
	}
	f.svc.enqueue(events)
	if got := counterValue(t, f.reg, "scope_ringbuf_overflow_total", ""); got != 3 {
		t.Errorf("overflow counter = %f, want 3", got)
	}
	f.svc.drain(context.Background())
	if len(f.rec.alerts) != capacity {
		t.Errorf("delivered %d, want %d", len(f.rec.alerts), capacity)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, []string{"1h"})
	f.src.set("BTCUSDT:1h", hourly(60, rising), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for f.svc.Current().ID == "" || f.svc.Current().ID == "restored" {
		if time.Now().After(deadline) {
			t.Fatal("first cycle did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.alerts) != 1 {
		t.Errorf("pending alert not delivered on shutdown: %d", len(f.rec.alerts))
	}
}
