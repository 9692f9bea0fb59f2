package refresh

import (
	"time"

	"cryptoscope/internal/alert"
	"cryptoscope/internal/engine"
	"cryptoscope/internal/model"
)

// Config controls what the service tracks and how often it refreshes.
type Config struct {
	Symbols     []string
	Timeframes  []string
	CandleLimit int    // primary window length per key
	HTFInterval string // interval of the weekly/monthly windows

	Schedule     string // cron spec or descriptor, e.g. "@every 30s"
	Workers      int
	FetchTimeout time.Duration
	RingCapacity int

	Engine     engine.Options
	Thresholds alert.Thresholds
}

func (c Config) withDefaults() Config {
	if c.CandleLimit <= 0 {
		c.CandleLimit = 500
	}
	if c.HTFInterval == "" {
		c.HTFInterval = "1h"
	}
	if c.Schedule == "" {
		c.Schedule = "@every 30s"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 1024
	}
	if c.Thresholds == (alert.Thresholds{}) {
		c.Thresholds = alert.DefaultThresholds
	}
	return c
}

// Keys returns every tracked (symbol, timeframe) pair, symbol-major.
func (c Config) Keys() []model.SeriesKey {
	keys := make([]model.SeriesKey, 0, len(c.Symbols)*len(c.Timeframes))
	for _, sym := range c.Symbols {
		for _, tf := range c.Timeframes {
			keys = append(keys, model.SeriesKey{Symbol: sym, Timeframe: tf})
		}
	}
	return keys
}
