// Package kline converts raw exchange klines into validated candle series.
package kline

import (
	"fmt"
	"time"

	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// Normalize parses and validates raw klines. An empty input yields an empty
// series; use NormalizeNonEmpty when at least one candle is required.
//
// Every violation is reported as model.ErrMalformedCandle naming the index.
func Normalize(raw []model.RawKline) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(raw))
	for i := range raw {
		c, err := parse(&raw[i])
		if err != nil {
			return nil, fmt.Errorf("%w: candle %d: %v", model.ErrMalformedCandle, i, err)
		}
		if err := validate(&c); err != nil {
			return nil, fmt.Errorf("%w: candle %d: %v", model.ErrMalformedCandle, i, err)
		}
		if i > 0 {
			prev := &candles[i-1]
			if !c.OpenTime.After(prev.OpenTime) {
				return nil, fmt.Errorf("%w: candle %d: open time %s not after %s",
					model.ErrMalformedCandle, i, c.OpenTime.Format(time.RFC3339), prev.OpenTime.Format(time.RFC3339))
			}
			if !c.CloseTime.After(prev.CloseTime) {
				return nil, fmt.Errorf("%w: candle %d: close time %s not after %s",
					model.ErrMalformedCandle, i, c.CloseTime.Format(time.RFC3339), prev.CloseTime.Format(time.RFC3339))
			}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// NormalizeNonEmpty is Normalize but fails with model.ErrEmptyInput on zero klines.
func NormalizeNonEmpty(raw []model.RawKline) ([]model.Candle, error) {
	if len(raw) == 0 {
		return nil, model.ErrEmptyInput
	}
	return Normalize(raw)
}

func parse(r *model.RawKline) (model.Candle, error) {
	var c model.Candle
	fields := []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"open", r.Open, &c.Open},
		{"high", r.High, &c.High},
		{"low", r.Low, &c.Low},
		{"close", r.Close, &c.Close},
		{"volume", r.Volume, &c.Volume},
		{"taker buy volume", r.TakerBuyBase, &c.TakerBuyVolume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.in)
		if err != nil {
			return c, fmt.Errorf("parse %s %q: %v", f.name, f.in, err)
		}
		*f.out = d
	}
	c.OpenTime = time.UnixMilli(r.OpenTime).UTC()
	c.CloseTime = time.UnixMilli(r.CloseTime).UTC()
	c.Trades = r.Trades
	return c, nil
}

func validate(c *model.Candle) error {
	switch {
	case c.High.LessThan(c.Low):
		return fmt.Errorf("high %s below low %s", c.High, c.Low)
	case c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High):
		return fmt.Errorf("open %s outside [%s, %s]", c.Open, c.Low, c.High)
	case c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High):
		return fmt.Errorf("close %s outside [%s, %s]", c.Close, c.Low, c.High)
	case c.Volume.IsNegative():
		return fmt.Errorf("negative volume %s", c.Volume)
	case c.TakerBuyVolume.IsNegative() || c.TakerBuyVolume.GreaterThan(c.Volume):
		return fmt.Errorf("taker buy volume %s outside [0, %s]", c.TakerBuyVolume, c.Volume)
	case !c.OpenTime.Before(c.CloseTime):
		return fmt.Errorf("open time %d not before close time %d", c.OpenTime.UnixMilli(), c.CloseTime.UnixMilli())
	case c.Trades < 0:
		return fmt.Errorf("negative trade count %d", c.Trades)
	}
	return nil
}
