package profile

import "cryptoscope/internal/model"

// valueArea grows a contiguous bucket range outward from poc until it holds
// at least share of the total volume or covers every bucket. Each step takes
// the neighbour with more volume; ties extend downward. Returns the final
// inclusive [lo, hi] bucket indices.
func valueArea(buckets []model.VolumeBucket, poc int, share float64) (lo, hi int) {
	total := 0.0
	for _, b := range buckets {
		total += b.Volume
	}
	target := total * share

	lo, hi = poc, poc
	acc := buckets[poc].Volume
	last := len(buckets) - 1

	for acc < target && (lo > 0 || hi < last) {
		switch {
		case lo == 0:
			hi++
			acc += buckets[hi].Volume
		case hi == last:
			lo--
			acc += buckets[lo].Volume
		case buckets[hi+1].Volume > buckets[lo-1].Volume:
			hi++
			acc += buckets[hi].Volume
		default:
			lo--
			acc += buckets[lo].Volume
		}
	}
	return lo, hi
}
