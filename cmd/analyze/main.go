// Command analyze runs the indicator engine over a Binance kline dump and
// prints the resulting snapshot as JSON.
//
//	curl -s 'https://api.binance.com/api/v3/klines?symbol=BTCUSDT&interval=1h&limit=500' \
//	  | analyze -symbol BTCUSDT -tf 1h
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"cryptoscope/internal/calendar"
	"cryptoscope/internal/engine"
	"cryptoscope/internal/kline"
	"cryptoscope/internal/logger"
	"cryptoscope/internal/model"
	"cryptoscope/pkg/binance"
)

func main() {
	var (
		file    = flag.String("file", "-", "kline JSON file, - for stdin")
		htfFile = flag.String("htf", "", "optional kline JSON file covering the previous month and week")
		symbol  = flag.String("symbol", "BTCUSDT", "symbol label")
		tf      = flag.String("tf", "1h", "timeframe label")
		res     = flag.Int("resolution", 48, "primary profile buckets")
		htfRes  = flag.Int("htf-resolution", 12, "weekly/monthly profile buckets")
		at      = flag.String("now", "", "reference time (RFC3339) for the HTF windows, default now")
		pretty  = flag.Bool("pretty", false, "indent output")
	)
	flag.Parse()
	log := logger.InitWriter(os.Stderr, "analyze", logger.ParseLevel("warn"))

	now := time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Error("invalid -now", "error", err)
			os.Exit(2)
		}
		now = t.UTC()
	}

	primary, err := readKlines(*file)
	if err != nil {
		log.Error("read klines", "error", err)
		os.Exit(1)
	}

	in := engine.Input{
		Key:     model.SeriesKey{Symbol: *symbol, Timeframe: *tf},
		Primary: kline.Closed(primary, now),
		Now:     now,
	}
	if *htfFile != "" {
		raw, err := readKlines(*htfFile)
		if err != nil {
			log.Error("read htf klines", "error", err)
			os.Exit(1)
		}
		in.Weekly = calendar.PreviousWeek(now).Filter(raw)
		in.Monthly = calendar.PreviousMonth(now).Filter(raw)
	}

	snap, err := engine.Analyze(in, engine.Options{Resolution: *res, HTFResolution: *htfRes})
	if err != nil {
		log.Error("analyze", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(snap); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readKlines(path string) ([]model.RawKline, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return binance.DecodeKlines(body)
}
