package kline

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"cryptoscope/internal/model"
)

var base = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func raw(i int, open, high, low, closeP, vol, buy string) model.RawKline {
	ot := base.Add(time.Duration(i) * time.Hour)
	return model.RawKline{
		OpenTime:     ot.UnixMilli(),
		Open:         open,
		High:         high,
		Low:          low,
		Close:        closeP,
		Volume:       vol,
		CloseTime:    ot.Add(time.Hour - time.Millisecond).UnixMilli(),
		TakerBuyBase: buy,
		Trades:       42,
	}
}

func TestNormalize_ParsesDecimalStrings(t *testing.T) {
	in := []model.RawKline{
		raw(0, "0.00012300", "0.00012500", "0.00012000", "0.00012400", "1500.5", "700.25"),
		raw(1, "0.00012400", "0.00012600", "0.00012300", "0.00012550", "900", "900"),
	}
	out, err := Normalize(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(out))
	}
	if got := out[0].Close.String(); got != "0.000124" {
		t.Errorf("close: got %s, want 0.000124", got)
	}
	if got := out[0].TakerBuyVolume.String(); got != "700.25" {
		t.Errorf("taker buy: got %s, want 700.25", got)
	}
	if !out[0].OpenTime.Equal(base) {
		t.Errorf("open time: got %v, want %v", out[0].OpenTime, base)
	}
	if out[0].OpenTime.Location() != time.UTC {
		t.Errorf("expected UTC open time, got %v", out[0].OpenTime.Location())
	}
	if out[1].Trades != 42 {
		t.Errorf("trades: got %d, want 42", out[1].Trades)
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	out, err := Normalize(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty series, got %d", len(out))
	}

	if _, err := NormalizeNonEmpty(nil); !errors.Is(err, model.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalize_RejectsMalformed(t *testing.T) {
	ok := raw(0, "10", "12", "9", "11", "5", "2")

	tests := []struct {
		name string
		in   []model.RawKline
	}{
		{"high below low", []model.RawKline{raw(0, "10", "8", "9", "9", "5", "2")}},
		{"open above high", []model.RawKline{raw(0, "13", "12", "9", "11", "5", "2")}},
		{"close below low", []model.RawKline{raw(0, "10", "12", "9", "8.99", "5", "2")}},
		{"taker buy above volume", []model.RawKline{raw(0, "10", "12", "9", "11", "5", "5.01")}},
		{"negative taker buy", []model.RawKline{raw(0, "10", "12", "9", "11", "5", "-1")}},
		{"negative volume", []model.RawKline{raw(0, "10", "12", "9", "11", "-5", "0")}},
		{"unparseable price", []model.RawKline{raw(0, "ten", "12", "9", "11", "5", "2")}},
		{"duplicate open time", []model.RawKline{ok, ok}},
		{"out of order", []model.RawKline{raw(1, "10", "12", "9", "11", "5", "2"), ok}},
		{"open not before close", func() []model.RawKline {
			r := ok
			r.CloseTime = r.OpenTime
			return []model.RawKline{r}
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.in)
			if !errors.Is(err, model.ErrMalformedCandle) {
				t.Fatalf("expected ErrMalformedCandle, got %v", err)
			}
		})
	}
}

func TestNormalize_ReportsIndex(t *testing.T) {
	in := []model.RawKline{
		raw(0, "10", "12", "9", "11", "5", "2"),
		raw(1, "10", "12", "9", "11", "5", "2"),
		raw(2, "10", "8", "9", "9", "5", "2"),
	}
	_, err := Normalize(in)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "candle " + strconv.Itoa(2)
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should mention %q", err, want)
	}
}
