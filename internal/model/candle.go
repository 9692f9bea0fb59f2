package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawKline is an exchange kline record as delivered by a candle source.
// Numeric fields keep their wire string form; times are Unix milliseconds.
type RawKline struct {
	OpenTime      int64  `json:"open_time"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	CloseTime     int64  `json:"close_time"`
	QuoteVolume   string `json:"quote_volume"`
	Trades        int64  `json:"trades"`
	TakerBuyBase  string `json:"taker_buy_base"`
	TakerBuyQuote string `json:"taker_buy_quote"`
}

// Candle is a normalized OHLCV candle. Prices and volumes are decimals so
// validation compares exact wire values; indicators convert to float64.
type Candle struct {
	OpenTime       time.Time       `json:"open_time"`
	CloseTime      time.Time       `json:"close_time"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	Volume         decimal.Decimal `json:"volume"`
	TakerBuyVolume decimal.Decimal `json:"taker_buy_volume"`
	Trades         int64           `json:"trades"`
}

// CloseFloat returns the close price as float64.
func (c *Candle) CloseFloat() float64 { return c.Close.InexactFloat64() }
