package model

// VolumeBucket is one price level of a volume profile.
type VolumeBucket struct {
	PriceLevel float64 `json:"price_level"` // bucket midpoint
	Volume     float64 `json:"volume"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
}

// VolumeProfile is a histogram of traded volume by price over a candle window.
// Buckets are ordered by ascending PriceLevel.
type VolumeProfile struct {
	Buckets         []VolumeBucket `json:"buckets"`
	POC             float64        `json:"poc"`
	VAH             float64        `json:"vah"`
	VAL             float64        `json:"val"`
	MaxBucketVolume float64        `json:"max_bucket_volume"`
	PriceMin        float64        `json:"price_min"`
	PriceMax        float64        `json:"price_max"`
}

// TotalVolume sums the volume of every bucket.
func (p *VolumeProfile) TotalVolume() float64 {
	total := 0.0
	for _, b := range p.Buckets {
		total += b.Volume
	}
	return total
}

// Summary reduces the profile to its reference levels.
func (p *VolumeProfile) Summary() ProfileSummary {
	poc, vah, val := p.POC, p.VAH, p.VAL
	return ProfileSummary{POC: &poc, VAH: &vah, VAL: &val}
}

// ProfileSummary carries the reference levels of a profile.
// Nil fields mean the window had no usable data.
type ProfileSummary struct {
	POC *float64 `json:"poc,omitempty"`
	VAH *float64 `json:"vah,omitempty"`
	VAL *float64 `json:"val,omitempty"`
}

// Present reports whether the summary carries levels.
func (s ProfileSummary) Present() bool { return s.POC != nil }

// HTFLevels are previous-week and previous-month reference levels.
type HTFLevels struct {
	Weekly  ProfileSummary `json:"weekly"`
	Monthly ProfileSummary `json:"monthly"`
}
