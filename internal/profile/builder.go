// Package profile builds volume-by-price histograms over candle windows and
// derives their reference levels (POC, value area high/low).
package profile

import (
	"fmt"

	"cryptoscope/internal/model"
)

const (
	// DefaultResolution is the bucket count of the primary profile.
	DefaultResolution = 48

	// HTFResolution is the coarser bucket count used for weekly/monthly levels.
	HTFResolution = 12

	// ValueAreaShare is the share of total volume the value area must hold.
	ValueAreaShare = 0.70
)

// Build buckets the window into resolution equal-width price levels between
// the lowest low and the highest high. Each candle's whole volume goes to the
// bucket holding its close; taker-buy volume is the buy side and the rest is
// the sell side.
//
// Returns model.ErrInsufficientData for fewer than 2 candles or a zero price
// range, and model.ErrInvalidResolution for resolution < 2.
func Build(candles []model.Candle, resolution int) (model.VolumeProfile, error) {
	if resolution < 2 {
		return model.VolumeProfile{}, fmt.Errorf("%w: %d", model.ErrInvalidResolution, resolution)
	}
	if len(candles) < 2 {
		return model.VolumeProfile{}, fmt.Errorf("%w: %d candles", model.ErrInsufficientData, len(candles))
	}

	priceMin := candles[0].Low.InexactFloat64()
	priceMax := candles[0].High.InexactFloat64()
	for i := 1; i < len(candles); i++ {
		if lo := candles[i].Low.InexactFloat64(); lo < priceMin {
			priceMin = lo
		}
		if hi := candles[i].High.InexactFloat64(); hi > priceMax {
			priceMax = hi
		}
	}
	if priceMax == priceMin {
		return model.VolumeProfile{}, fmt.Errorf("%w: zero price range at %g", model.ErrInsufficientData, priceMin)
	}

	width := (priceMax - priceMin) / float64(resolution)
	buckets := make([]model.VolumeBucket, resolution)
	for i := range buckets {
		buckets[i].PriceLevel = priceMin + width*(float64(i)+0.5)
	}

	for i := range candles {
		c := &candles[i]
		idx := bucketIndex(c.CloseFloat(), priceMin, width, resolution)

		vol := c.Volume.InexactFloat64()
		buy := c.TakerBuyVolume.InexactFloat64()
		sell := c.Volume.Sub(c.TakerBuyVolume).InexactFloat64()

		b := &buckets[idx]
		b.Volume += vol
		b.BuyVolume += buy
		b.SellVolume += sell
	}

	poc := pointOfControl(buckets)
	lo, hi := valueArea(buckets, poc, ValueAreaShare)

	return model.VolumeProfile{
		Buckets:         buckets,
		POC:             buckets[poc].PriceLevel,
		VAH:             buckets[hi].PriceLevel,
		VAL:             buckets[lo].PriceLevel,
		MaxBucketVolume: buckets[poc].Volume,
		PriceMin:        priceMin,
		PriceMax:        priceMax,
	}, nil
}

// bucketIndex maps a price to its bucket. The top edge (price == max) belongs
// to the last bucket.
func bucketIndex(price, priceMin, width float64, resolution int) int {
	idx := int((price - priceMin) / width)
	if idx < 0 {
		return 0
	}
	if idx >= resolution {
		return resolution - 1
	}
	return idx
}

// pointOfControl returns the index of the highest-volume bucket. Ties go to
// the lowest price.
func pointOfControl(buckets []model.VolumeBucket) int {
	poc := 0
	for i := 1; i < len(buckets); i++ {
		if buckets[i].Volume > buckets[poc].Volume {
			poc = i
		}
	}
	return poc
}
