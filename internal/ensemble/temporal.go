package ensemble

import (
	"github.com/smukkama/floodwatch/internal/calc"
)

const (
	temporalModelName = "LSTM-Flood-v2.1"
	temporalLookback  = 72
	temporalWindow    = 24
)

// Horizons holds flood probabilities for the 6h, 12h and 24h horizons
type Horizons struct {
	H6  float64 `json:"6h"`
	H12 float64 `json:"12h"`
	H24 float64 `json:"24h"`
}

// TemporalFeatures are the series features the temporal estimator extracts
type TemporalFeatures struct {
	RainfallTrend       float64 `json:"rainfall_trend"`
	RainfallIntensityMM float64 `json:"rainfall_intensity_mm"`
	Cumulative24hMM     float64 `json:"cumulative_24h_mm"`
	Cumulative72hMM     float64 `json:"cumulative_72h_mm"`
}

// TemporalResult is the output of the temporal estimator
type TemporalResult struct {
	Model        string           `json:"model"`
	Predictions  Horizons         `json:"predictions"`
	FeaturesUsed TemporalFeatures `json:"features_used"`
	Confidence   float64          `json:"confidence"`
}

// TemporalEstimator turns hourly rainfall and discharge series into
// multi-horizon flood probabilities.
type TemporalEstimator struct{}

// NewTemporalEstimator creates a temporal estimator
func NewTemporalEstimator() *TemporalEstimator {
	return &TemporalEstimator{}
}

// Predict estimates flood probabilities from the hourly series. A rainfall
// series shorter than 24 points is replaced by 24 zero readings. Humidity
// is accepted for interface symmetry and does not affect the estimate.
func (t *TemporalEstimator) Predict(rainfall, discharge, humidity []float64) TemporalResult {
	if len(rainfall) < temporalWindow {
		rainfall = make([]float64, temporalWindow)
	}
	window := calc.Tail(rainfall, temporalLookback)

	trend := rainfallTrend(calc.Tail(rainfall, temporalWindow))
	intensity := calc.Max(calc.Tail(rainfall, 6))
	cum24 := calc.Sum(calc.Tail(rainfall, temporalWindow))
	cum72 := calc.Sum(window)

	base := calc.Clamp01(
		(intensity/50)*0.3 +
			(cum24/150)*0.4 +
			(trend+1)*0.15 +
			(cum72/400)*0.15,
	)

	if len(discharge) > 0 {
		dischargeFactor := min(1.0, calc.Max(calc.Tail(discharge, 6))/1000)
		base = base*0.7 + dischargeFactor*0.3
	}

	return TemporalResult{
		Model: temporalModelName,
		Predictions: Horizons{
			H6:  calc.Round(min(0.95, base*1.2), 3),
			H12: calc.Round(min(0.95, base*1.0), 3),
			H24: calc.Round(min(0.95, base*0.85), 3),
		},
		FeaturesUsed: TemporalFeatures{
			RainfallTrend:       calc.Round(trend, 3),
			RainfallIntensityMM: calc.Round(intensity, 1),
			Cumulative24hMM:     calc.Round(cum24, 1),
			Cumulative72hMM:     calc.Round(cum72, 1),
		},
		Confidence: calc.Round(0.75+(float64(len(window))/temporalLookback)*0.15, 2),
	}
}

// rainfallTrend is the least-squares slope of the series divided by 5 and
// limited to [-1, 1].
func rainfallTrend(series []float64) float64 {
	n := len(series)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := calc.Mean(series)

	num, den := 0.0, 0.0
	for i, y := range series {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return calc.Clamp(num/den/5, -1, 1)
}
