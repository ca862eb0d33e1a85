// Package ensemble fuses the temporal, tabular and spatial flood estimators
// into a single calibrated flood probability.
package ensemble

import (
	"fmt"
	"strings"
	"time"

	"github.com/smukkama/floodwatch/internal/calc"
	"github.com/smukkama/floodwatch/internal/model"
)

// Weights are the fixed ensemble weights of the three estimators
type Weights struct {
	Temporal float64 `json:"lstm"`
	Tabular  float64 `json:"xgboost"`
	Spatial  float64 `json:"gnn"`
}

// DefaultWeights returns the ensemble weights; they sum to 1
func DefaultWeights() Weights {
	return Weights{Temporal: 0.40, Tabular: 0.45, Spatial: 0.15}
}

// Input is everything the predictor needs for one location. History and
// Upstream are optional.
type Input struct {
	Location model.Location
	Weather  model.Weather
	History  *model.FloodHistory
	Upstream []model.UpstreamStation
}

// EnsembleOutput is the fused prediction
type EnsembleOutput struct {
	FloodProbability     float64   `json:"flood_probability"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Confidence           float64   `json:"confidence"`
	PredictionsByHorizon Horizons  `json:"predictions_by_horizon"`
}

// ModelOutputs holds the raw result of every estimator
type ModelOutputs struct {
	Temporal TemporalResult `json:"lstm"`
	Tabular  TabularResult  `json:"xgboost"`
	Spatial  SpatialResult  `json:"gnn"`
}

// Uncertainty summarises disagreement and input coverage
type Uncertainty struct {
	ModelDisagreement float64  `json:"model_disagreement"`
	DataQualityScore  float64  `json:"data_quality_score"`
	Limitations       []string `json:"limitations"`
}

// Prediction is produced fresh for every call and never retained
type Prediction struct {
	Timestamp          time.Time      `json:"timestamp"`
	Location           model.Location `json:"location"`
	Ensemble           EnsembleOutput `json:"ensemble_prediction"`
	ModelOutputs       ModelOutputs   `json:"model_outputs"`
	Reasoning          string         `json:"reasoning"`
	RecommendedActions []string       `json:"recommended_actions"`
	Uncertainty        Uncertainty    `json:"uncertainty"`
}

// Predictor is the ensemble flood predictor. It holds no per-call state
// and is safe for concurrent use.
type Predictor struct {
	temporal *TemporalEstimator
	tabular  *TabularEstimator
	spatial  *SpatialPropagationEstimator
	weights  Weights
	now      func() time.Time
}

// Option configures a Predictor
type Option func(*Predictor)

// WithClock overrides the clock used to timestamp predictions
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) { p.now = now }
}

// NewPredictor creates an ensemble predictor with the default weights
func NewPredictor(opts ...Option) *Predictor {
	p := &Predictor{
		temporal: NewTemporalEstimator(),
		tabular:  NewTabularEstimator(),
		spatial:  NewSpatialPropagationEstimator(),
		weights:  DefaultWeights(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Weights returns the ensemble weights
func (p *Predictor) Weights() Weights {
	return p.weights
}

// Predict runs the three estimators and fuses their outputs
func (p *Predictor) Predict(in Input) *Prediction {
	temporal := p.temporal.Predict(in.Weather.RainfallHourly, in.Weather.DischargeHourly, in.Weather.HumidityHourly)
	tabular := p.tabular.Predict(tabularFeaturesFor(in))
	spatial := p.spatial.Predict(in.Upstream)

	w := p.weights
	prob24 := temporal.Predictions.H24*w.Temporal +
		tabular.RiskScore*w.Tabular +
		spatial.PropagationProbability*w.Spatial
	prob24 = calc.Clamp01(prob24)
	risk := ClassifyRisk(prob24)

	raw := []float64{temporal.Predictions.H24, tabular.RiskScore, spatial.PropagationProbability}
	disagreement := calc.StdDev(raw)
	agreementBonus := max(0, 0.15-disagreement)

	confidence := 0.0
	confidence += temporal.Confidence * w.Temporal
	confidence += tabular.Confidence * w.Tabular
	confidence += spatial.Confidence * w.Spatial
	confidence += agreementBonus

	return &Prediction{
		Timestamp: p.now(),
		Location:  in.Location,
		Ensemble: EnsembleOutput{
			FloodProbability: calc.Round(prob24, 3),
			RiskLevel:        risk,
			Confidence:       calc.Round(min(0.95, confidence), 2),
			PredictionsByHorizon: Horizons{
				H6:  calc.Round(calc.Clamp01(temporal.Predictions.H6*0.9+tabular.RiskScore*0.1), 3),
				H12: calc.Round(calc.Clamp01(temporal.Predictions.H12*0.7+tabular.RiskScore*0.3), 3),
				H24: calc.Round(prob24, 3),
			},
		},
		ModelOutputs: ModelOutputs{
			Temporal: temporal,
			Tabular:  tabular,
			Spatial:  spatial,
		},
		Reasoning:          reasoning(temporal, tabular, spatial),
		RecommendedActions: RecommendedActions(risk),
		Uncertainty: Uncertainty{
			ModelDisagreement: calc.Round(disagreement, 3),
			DataQualityScore:  calc.Round(dataQuality(in.Weather), 2),
			Limitations:       limitations(in.Weather, in.Upstream),
		},
	}
}

// tabularFeaturesFor derives the tabular feature set from the raw inputs
func tabularFeaturesFor(in Input) TabularFeatures {
	f := DefaultTabularFeatures()
	rainfall := in.Weather.RainfallHourly
	f.Rainfall24h = calc.Sum(calc.Tail(rainfall, temporalWindow))
	f.RainfallIntensity = calc.Max(calc.Tail(rainfall, 6))
	f.SoilMoisture = in.Weather.SoilMoistureOrDefault()
	f.Elevation = in.Location.ElevationOrDefault()
	f.Slope = in.Location.SlopeOrDefault()
	f.DistanceToRiver = in.Location.DistanceToRiverOrDefault()
	f.HistoricalFloodFreq = in.History.FloodFrequencyOrDefault()
	f.DrainageDensity = in.Location.DrainageDensityOrDefault()
	f.Urbanization = in.Location.UrbanizationOrDefault()
	return f
}

func reasoning(temporal TemporalResult, tabular TabularResult, spatial SpatialResult) string {
	var reasons []string

	if temporal.Predictions.H24 > 0.5 {
		reasons = append(reasons, fmt.Sprintf(
			"Time-series analysis shows elevated rainfall pattern with %.1fmm in 24h",
			temporal.FeaturesUsed.Cumulative24hMM))
	}

	top := tabular.FeatureImportance
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) > 0 {
		parts := make([]string, len(top))
		for i, fc := range top {
			parts[i] = fmt.Sprintf("%s: %.2f", fc.Feature, fc.Contribution)
		}
		reasons = append(reasons, "Key risk factors: "+strings.Join(parts, ", "))
	}

	if spatial.PropagationProbability > 0.3 {
		arrival := "N/A"
		if spatial.EstimatedArrivalHours != nil {
			arrival = fmt.Sprintf("%.1f", *spatial.EstimatedArrivalHours)
		}
		reasons = append(reasons, fmt.Sprintf(
			"Upstream flood risk detected, potential arrival in %s hours", arrival))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "Current conditions indicate normal flood risk levels")
	}
	return strings.Join(reasons, " | ")
}

var recommendedActions = map[RiskLevel][]string{
	RiskSevere: {
		"🚨 IMMEDIATE: Evacuate to designated safe zones",
		"🏥 Prepare emergency medical supplies",
		"📱 Keep emergency contacts accessible",
		"🚗 Clear evacuation routes",
		"💧 Move to higher ground immediately",
	},
	RiskHigh: {
		"⚠️ Monitor official alerts continuously",
		"🎒 Prepare emergency go-bag",
		"📍 Identify nearest evacuation centers",
		"🔌 Charge all communication devices",
		"💊 Stock essential medications",
	},
	RiskMedium: {
		"📻 Stay tuned to weather updates",
		"🏠 Secure outdoor items",
		"📋 Review family emergency plan",
		"🔦 Check emergency supplies",
		"🚰 Store drinking water",
	},
	RiskLow: {
		"✅ Normal precautions apply",
		"📱 Keep weather app notifications on",
		"🗓️ Be aware of seasonal patterns",
	},
}

// RecommendedActions returns the ordered action list for a risk level.
// Unknown levels get the Low list.
func RecommendedActions(level RiskLevel) []string {
	actions, ok := recommendedActions[level]
	if !ok {
		actions = recommendedActions[RiskLow]
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

func dataQuality(w model.Weather) float64 {
	score := 0.5
	if len(w.RainfallHourly) > 0 {
		score += 0.2
	}
	if len(w.DischargeHourly) > 0 {
		score += 0.15
	}
	if w.HasSoilMoisture() {
		score += 0.1
	}
	if len(w.RainfallHourly) >= temporalLookback {
		score += 0.05
	}
	return min(1.0, score)
}

func limitations(w model.Weather, upstream []model.UpstreamStation) []string {
	var out []string
	if len(w.DischargeHourly) == 0 {
		out = append(out, "River discharge data not available")
	}
	if len(upstream) == 0 {
		out = append(out, "Upstream station network data limited")
	}
	if len(w.RainfallHourly) < 48 {
		out = append(out, "Limited historical rainfall data (<48 hours)")
	}
	if !w.HasSoilMoisture() {
		out = append(out, "Soil moisture data estimated")
	}
	if len(out) == 0 {
		return []string{"Data coverage adequate for prediction"}
	}
	return out
}
