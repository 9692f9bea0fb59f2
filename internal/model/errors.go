package model

import "errors"

var (
	// ErrMalformedCandle reports an ordering, bounds or parse violation in a candle series.
	ErrMalformedCandle = errors.New("malformed candle")

	// ErrEmptyInput reports that no candles were supplied where at least one is required.
	ErrEmptyInput = errors.New("empty candle input")

	// ErrInsufficientData reports a window too small or flat to build a volume profile.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidResolution reports a volume profile resolution below 2.
	ErrInvalidResolution = errors.New("invalid profile resolution")
)
