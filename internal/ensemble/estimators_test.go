package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/floodwatch/internal/model"
)

func rampRainfall() []float64 {
	series := make([]float64, 0, 30)
	for i := 0; i < 24; i++ {
		series = append(series, float64(i%5))
	}
	return append(series, 10, 12, 15, 20, 25, 30)
}

func TestTemporalEstimator_ZeroSeries(t *testing.T) {
	res := NewTemporalEstimator().Predict(make([]float64, 24), nil, nil)

	// Only the trend term contributes: (0+1)*0.15
	assert.Equal(t, 0.18, res.Predictions.H6)
	assert.Equal(t, 0.15, res.Predictions.H12)
	assert.Equal(t, 0.128, res.Predictions.H24)
	assert.Equal(t, 0.0, res.FeaturesUsed.RainfallTrend)
	assert.Equal(t, 0.0, res.FeaturesUsed.Cumulative24hMM)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestTemporalEstimator_ShortSeriesIsDefaulted(t *testing.T) {
	short := NewTemporalEstimator().Predict([]float64{50, 50, 50}, nil, nil)
	zero := NewTemporalEstimator().Predict(make([]float64, 24), nil, nil)

	assert.Equal(t, zero, short)
}

func TestTemporalEstimator_RampWithDischarge(t *testing.T) {
	res := NewTemporalEstimator().Predict(rampRainfall(), []float64{400, 600, 800}, nil)

	assert.Equal(t, "LSTM-Flood-v2.1", res.Model)
	assert.Equal(t, 0.95, res.Predictions.H6)
	assert.Equal(t, 0.807, res.Predictions.H12)
	assert.Equal(t, 0.686, res.Predictions.H24)
	assert.Equal(t, 0.169, res.FeaturesUsed.RainfallTrend)
	assert.Equal(t, 30.0, res.FeaturesUsed.RainfallIntensityMM)
	assert.Equal(t, 148.0, res.FeaturesUsed.Cumulative24hMM)
	assert.Equal(t, 158.0, res.FeaturesUsed.Cumulative72hMM)
	assert.Equal(t, 0.81, res.Confidence)
}

func TestTemporalEstimator_HorizonsCapped(t *testing.T) {
	heavy := make([]float64, 72)
	for i := range heavy {
		heavy[i] = float64(i * 3)
	}
	res := NewTemporalEstimator().Predict(heavy, []float64{5000}, nil)

	for _, p := range []float64{res.Predictions.H6, res.Predictions.H12, res.Predictions.H24} {
		assert.LessOrEqual(t, p, 0.95)
		assert.GreaterOrEqual(t, p, 0.0)
	}
	assert.Equal(t, 0.6, res.FeaturesUsed.RainfallTrend)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestTabularEstimator_Defaults(t *testing.T) {
	res := NewTabularEstimator().Predict(DefaultTabularFeatures())

	assert.Equal(t, 0.259, res.RiskScore)
	assert.Equal(t, RiskMedium, res.RiskClass)
	assert.Equal(t, 0.55, res.Confidence)

	require.Len(t, res.FeatureImportance, 8)
	assert.Equal(t, "elevation", res.FeatureImportance[0].Feature)
	assert.Equal(t, 0.08, res.FeatureImportance[0].Contribution)
	assert.Equal(t, "soil_moisture", res.FeatureImportance[1].Feature)
	assert.Equal(t, "distance_to_river", res.FeatureImportance[2].Feature)
	// zero contributions keep their table order
	assert.Equal(t, "rainfall_24h", res.FeatureImportance[6].Feature)
	assert.Equal(t, "rainfall_intensity", res.FeatureImportance[7].Feature)
}

func TestTabularEstimator_LowBucket(t *testing.T) {
	f := DefaultTabularFeatures()
	f.Elevation = 800
	f.DistanceToRiver = 5000

	res := NewTabularEstimator().Predict(f)

	assert.Equal(t, RiskLow, res.RiskClass)
	assert.Less(t, res.RiskScore, 0.25)
	assert.Equal(t, 0.7, res.Confidence)
	assert.Equal(t, ClassProbabilities{Low: 0.7, Medium: 0.2, High: 0.08, Severe: 0.02}, res.ClassProbabilities)
}

func TestTabularEstimator_TermsAreCapped(t *testing.T) {
	f := TabularFeatures{
		Rainfall24h:         1000,
		RainfallIntensity:   500,
		SoilMoisture:        400,
		Elevation:           -100,
		DistanceToRiver:     0,
		HistoricalFloodFreq: 3,
		DrainageDensity:     2,
		Urbanization:        5,
	}
	res := NewTabularEstimator().Predict(f)

	assert.Equal(t, 1.0, res.RiskScore)
	assert.Equal(t, RiskSevere, res.RiskClass)
	assert.Equal(t, 0.65, res.Confidence)
}

func TestClassifyRisk_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLow},
		{0.2499, RiskLow},
		{0.25, RiskMedium},
		{0.4999, RiskMedium},
		{0.5, RiskHigh},
		{0.7499, RiskHigh},
		{0.75, RiskSevere},
		{1, RiskSevere},
	}
	prev := -1
	for _, tc := range cases {
		got := ClassifyRisk(tc.score)
		assert.Equal(t, tc.want, got, "score %v", tc.score)
		assert.GreaterOrEqual(t, got.Rank(), prev)
		prev = got.Rank()
	}
}

func TestSpatialEstimator_NoUpstream(t *testing.T) {
	res := NewSpatialPropagationEstimator().Predict(nil)

	assert.Equal(t, 0.0, res.PropagationProbability)
	assert.Equal(t, 0.3, res.Confidence)
	assert.Nil(t, res.EstimatedArrivalHours)
	assert.Equal(t, "No upstream data available", res.Message)
}

func TestSpatialEstimator_TwoStations(t *testing.T) {
	res := NewSpatialPropagationEstimator().Predict([]model.UpstreamStation{
		{FloodRisk: 0.8, DistanceKm: model.Float(20)},
		{FloodRisk: 0.4, DistanceKm: model.Float(60)},
	})

	assert.Equal(t, 0.589, res.PropagationProbability)
	require.NotNil(t, res.EstimatedArrivalHours)
	assert.Equal(t, 4.0, *res.EstimatedArrivalHours)
	assert.Equal(t, 2, res.UpstreamStationsAnalyzed)
	assert.Equal(t, 0.8, res.MaxUpstreamRisk)
	assert.Equal(t, 0.64, res.Confidence)
	require.NotNil(t, res.GraphFeatures)
	assert.Equal(t, 3, res.GraphFeatures.NodesAnalyzed)
	assert.Equal(t, 20.0, res.GraphFeatures.MinDistanceKm)
}

func TestSpatialEstimator_DefaultDistanceAndCaps(t *testing.T) {
	stations := make([]model.UpstreamStation, 15)
	for i := range stations {
		stations[i] = model.UpstreamStation{FloodRisk: 1, DistanceKm: model.Float(0)}
	}
	res := NewSpatialPropagationEstimator().Predict(stations)
	assert.Equal(t, 0.95, res.PropagationProbability)
	assert.Equal(t, 0.8, res.Confidence)

	res = NewSpatialPropagationEstimator().Predict([]model.UpstreamStation{{FloodRisk: 0.5}})
	require.NotNil(t, res.EstimatedArrivalHours)
	assert.Equal(t, 10.0, *res.EstimatedArrivalHours)
	assert.Equal(t, 50.0, res.GraphFeatures.MinDistanceKm)
}
