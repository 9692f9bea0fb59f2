package refresh

import (
	"context"
	"sync"
	"time"

	"cryptoscope/internal/calendar"
	"cryptoscope/internal/engine"
	"cryptoscope/internal/kline"
	"cryptoscope/internal/logger"
	"cryptoscope/internal/model"
)

// htfWindows holds one symbol's previous-week and previous-month klines.
type htfWindows struct {
	weekly, monthly []model.RawKline
}

// keyResult is the outcome of analyzing one key.
type keyResult struct {
	snap model.SymbolSnapshot
	err  error
}

// analyzeAll fans keys out to a bounded worker pool. results[i] belongs to
// keys[i]. A failing key never affects another.
func (s *Service) analyzeAll(ctx context.Context, keys []model.SeriesKey, now time.Time) []keyResult {
	week := calendar.PreviousWeek(now)
	month := calendar.PreviousMonth(now)

	// One HTF fetch per symbol, shared by all of its timeframes.
	htf := make(map[string]func() htfWindows)
	for _, k := range keys {
		if _, ok := htf[k.Symbol]; ok {
			continue
		}
		sym := k.Symbol
		htf[sym] = sync.OnceValue(func() htfWindows {
			return s.fetchHTF(ctx, sym, week, month)
		})
	}

	results := make([]keyResult, len(keys))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := s.cfg.Workers
	if workers > len(keys) {
		workers = len(keys)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.analyzeKey(ctx, keys[i], htf[keys[i].Symbol], now)
			}
		}()
	}

	for i := range keys {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// analyzeKey fetches the primary window of key and runs the engine on it.
func (s *Service) analyzeKey(ctx context.Context, key model.SeriesKey, htf func() htfWindows, now time.Time) (res keyResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("key analysis panicked", append(logger.LogWithCycle(ctx), "key", key.String(), "panic", r)...)
			res = keyResult{err: errPanic}
		}
	}()

	primary, err := s.fetch(ctx, key.Symbol, key.Timeframe, time.Time{}, time.Time{}, s.cfg.CandleLimit)
	if err != nil {
		return keyResult{err: err}
	}
	primary = kline.Closed(primary, now)

	w := htf()
	snap, err := engine.Analyze(engine.Input{
		Key:     key,
		Primary: primary,
		Weekly:  w.weekly,
		Monthly: w.monthly,
		Now:     now,
	}, s.cfg.Engine)
	return keyResult{snap: snap, err: err}
}

// fetchHTF fetches the previous week and month as two bounded requests, each
// sized to hold its whole window. A failure degrades both to empty windows,
// which yield absent HTF levels.
func (s *Service) fetchHTF(ctx context.Context, symbol string, week, month calendar.Window) htfWindows {
	var out htfWindows
	for _, w := range []struct {
		win  calendar.Window
		dest *[]model.RawKline
	}{{week, &out.weekly}, {month, &out.monthly}} {
		raw, err := s.fetch(ctx, symbol, s.cfg.HTFInterval, w.win.From, w.win.To, w.win.MaxKlines(s.htfStep))
		if err != nil {
			s.log.Warn("htf fetch failed, levels absent", append(logger.LogWithCycle(ctx), "symbol", symbol, "window", w.win.String(), "error", err)...)
			return htfWindows{}
		}
		*w.dest = w.win.Filter(raw)
	}
	return out
}

func (s *Service) fetch(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.RawKline, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	began := time.Now()
	raw, err := s.src.Klines(fctx, symbol, interval, start, end, limit)
	if s.metrics != nil {
		s.metrics.FetchDur.Observe(time.Since(began).Seconds())
	}
	if err != nil {
		return nil, &fetchError{err: err}
	}
	return raw, nil
}
