package profile

import (
	"errors"

	"cryptoscope/internal/model"
)

// Aggregate builds coarse profiles over the previous-week and previous-month
// windows. A window without enough data yields an absent summary rather than
// an error, since newly listed symbols have no such history.
//
// Any other failure (an invalid resolution) is returned.
func Aggregate(weekly, monthly []model.Candle, resolution int) (model.HTFLevels, error) {
	w, err := summarize(weekly, resolution)
	if err != nil {
		return model.HTFLevels{}, err
	}
	m, err := summarize(monthly, resolution)
	if err != nil {
		return model.HTFLevels{}, err
	}
	return model.HTFLevels{Weekly: w, Monthly: m}, nil
}

func summarize(candles []model.Candle, resolution int) (model.ProfileSummary, error) {
	vp, err := Build(candles, resolution)
	if errors.Is(err, model.ErrInsufficientData) {
		return model.ProfileSummary{}, nil
	}
	if err != nil {
		return model.ProfileSummary{}, err
	}
	return vp.Summary(), nil
}
