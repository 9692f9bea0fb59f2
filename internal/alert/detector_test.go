package alert

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"cryptoscope/internal/model"
)

var (
	btc1h = model.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	eth1h = model.SeriesKey{Symbol: "ETHUSDT", Timeframe: "1h"}
	at    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func feed(d *Detector, key model.SeriesKey, values []float64) []model.AlertEvent {
	var all []model.AlertEvent
	for _, v := range values {
		all = append(all, d.Evaluate([]model.Reading{{Key: key, RSI: v}}, at)...)
	}
	return all
}

func TestDetector_OverboughtEdges(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	events := feed(d, btc1h, []float64{65, 72, 75, 68, 71})

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	for i, want := range []float64{72, 71} {
		ev := events[i]
		if ev.Kind != model.StatusOverbought {
			t.Errorf("event %d: kind %s, want overbought", i, ev.Kind)
		}
		if ev.RSI != want {
			t.Errorf("event %d: rsi %f, want %f", i, ev.RSI, want)
		}
		if ev.Symbol != "BTCUSDT" || ev.Timeframe != "1h" {
			t.Errorf("event %d: wrong key %s:%s", i, ev.Symbol, ev.Timeframe)
		}
		if ev.ID == "" {
			t.Errorf("event %d: missing id", i)
		}
	}
	if events[0].ID == events[1].ID {
		t.Error("event ids must be unique")
	}
	if got := d.Status(btc1h); got != model.StatusOverbought {
		t.Errorf("final status %s, want overbought", got)
	}
}

func TestDetector_OversoldEdges(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	events := feed(d, btc1h, []float64{30, 25, 31, 29, 80, 10})

	kinds := make([]model.AlertStatus, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	want := []model.AlertStatus{
		model.StatusOversold,   // 30 (inclusive bound)
		model.StatusOversold,   // 29 after neutral 31
		model.StatusOverbought, // 80
		model.StatusOversold,   // 10 directly from overbought
	}
	if len(kinds) != len(want) {
		t.Fatalf("got kinds %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got kinds %v, want %v", kinds, want)
		}
	}
}

func TestDetector_InclusiveThresholds(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		rsi  float64
		want model.AlertStatus
	}{
		{70, model.StatusOverbought},
		{69.999, model.StatusNeutral},
		{30, model.StatusOversold},
		{30.001, model.StatusNeutral},
		{50, model.StatusNeutral},
		{100, model.StatusOverbought},
		{0, model.StatusOversold},
	}
	for _, tt := range tests {
		if got := th.Classify(tt.rsi); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.rsi, got, tt.want)
		}
	}
}

func TestDetector_MultiKeyAndMissingReadings(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	ev := d.Evaluate([]model.Reading{{Key: btc1h, RSI: 75}, {Key: eth1h, RSI: 20}}, at)
	if len(ev) != 2 {
		t.Fatalf("expected 2 events, got %d", len(ev))
	}
	if ev[0].Key() != btc1h || ev[1].Key() != eth1h {
		t.Errorf("events not in reading order: %+v", ev)
	}

	// ETH has no reading this cycle: it stays oversold.
	ev = d.Evaluate([]model.Reading{{Key: btc1h, RSI: 50}}, at)
	if len(ev) != 0 {
		t.Fatalf("expected no events, got %+v", ev)
	}
	state := d.State()
	if state[btc1h] != model.StatusNeutral {
		t.Errorf("btc status %s, want neutral", state[btc1h])
	}
	if state[eth1h] != model.StatusOversold {
		t.Errorf("eth status %s, want oversold", state[eth1h])
	}

	// Still oversold on the next reading: no new event.
	if ev := d.Evaluate([]model.Reading{{Key: eth1h, RSI: 15}}, at); len(ev) != 0 {
		t.Errorf("steady oversold must not fire, got %+v", ev)
	}
}

func TestDetector_Restore(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	d.Restore(model.AlertState{
		btc1h: model.StatusOverbought,
		eth1h: model.AlertStatus("bogus"),
	})

	if len(d.State()) != 1 {
		t.Fatalf("expected invalid status to be dropped, got %v", d.State())
	}
	// Restored overbought: a high reading is not a new edge.
	if ev := d.Evaluate([]model.Reading{{Key: btc1h, RSI: 80}}, at); len(ev) != 0 {
		t.Errorf("expected no event after restore, got %+v", ev)
	}
}

func TestDetector_StateIsImmutableGeneration(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	d.Evaluate([]model.Reading{{Key: btc1h, RSI: 80}}, at)
	before := d.State()

	d.Evaluate([]model.Reading{{Key: btc1h, RSI: 10}}, at)
	if before[btc1h] != model.StatusOverbought {
		t.Errorf("previous generation was mutated: %s", before[btc1h])
	}
	if d.State()[btc1h] != model.StatusOversold {
		t.Errorf("new generation not installed")
	}
}

func TestDetector_ConcurrentReadersSeeWholeGenerations(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	keys := make([]model.SeriesKey, 50)
	for i := range keys {
		keys[i] = model.SeriesKey{Symbol: "SYM" + strconv.Itoa(i), Timeframe: "5m"}
	}

	// Every cycle moves all keys to the same status, so a reader must never
	// see two different statuses at once.
	values := []float64{80, 20}
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				state := d.State()
				var first model.AlertStatus
				for _, s := range state {
					if first == "" {
						first = s
					} else if s != first {
						t.Errorf("mixed generation: %s and %s", first, s)
						return
					}
				}
			}
		}()
	}

	for cycle := 0; cycle < 200; cycle++ {
		readings := make([]model.Reading, len(keys))
		for i, k := range keys {
			readings[i] = model.Reading{Key: k, RSI: values[cycle%2]}
		}
		d.Evaluate(readings, at)
	}
	close(stop)
	wg.Wait()
}
