package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"cryptoscope/internal/model"
)

// DecodeKlines decodes the /api/v3/klines array-of-arrays body:
//
//	[openTime, "open", "high", "low", "close", "volume", closeTime,
//	 "quoteVolume", trades, "takerBuyBase", "takerBuyQuote", "ignore"]
//
// Field values are not validated here; that is the normalizer's job.
func DecodeKlines(body []byte) ([]model.RawKline, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	out := make([]model.RawKline, 0, len(rows))
	for i, row := range rows {
		k, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("binance: kline %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func decodeRow(row []json.RawMessage) (model.RawKline, error) {
	var k model.RawKline
	if len(row) < 11 {
		return k, fmt.Errorf("expected at least 11 fields, got %d", len(row))
	}
	var err error
	if k.OpenTime, err = intField(row[0]); err != nil {
		return k, fmt.Errorf("open time: %w", err)
	}
	if k.CloseTime, err = intField(row[6]); err != nil {
		return k, fmt.Errorf("close time: %w", err)
	}
	if k.Trades, err = intField(row[8]); err != nil {
		return k, fmt.Errorf("trades: %w", err)
	}
	strs := []*string{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for j, dst := range strs {
		if *dst, err = strField(row[1+j]); err != nil {
			return k, fmt.Errorf("field %d: %w", 1+j, err)
		}
	}
	if k.QuoteVolume, err = strField(row[7]); err != nil {
		return k, fmt.Errorf("quote volume: %w", err)
	}
	if k.TakerBuyBase, err = strField(row[9]); err != nil {
		return k, fmt.Errorf("taker buy base: %w", err)
	}
	if k.TakerBuyQuote, err = strField(row[10]); err != nil {
		return k, fmt.Errorf("taker buy quote: %w", err)
	}
	return k, nil
}

func intField(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	s, err := strField(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// strField accepts both "1.5" and 1.5; Binance quotes decimals but some
// mirrors do not.
func strField(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("not a string or number: %s", raw)
	}
	return n.String(), nil
}
