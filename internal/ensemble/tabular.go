package ensemble

import (
	"sort"

	"github.com/smukkama/floodwatch/internal/calc"
)

const tabularModelName = "XGBoost-FloodRisk-v3.0"

// RiskLevel is the discrete flood risk classification
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
	RiskSevere RiskLevel = "Severe"
)

var riskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskSevere}

// Rank orders risk levels from 0 (Low) to 3 (Severe); unknown levels rank -1
func (r RiskLevel) Rank() int {
	for i, l := range riskLevels {
		if l == r {
			return i
		}
	}
	return -1
}

// ClassifyRisk buckets a score at the 0.25 / 0.50 / 0.75 boundaries.
// Boundaries are inclusive on the upper class.
func ClassifyRisk(score float64) RiskLevel {
	switch {
	case score >= 0.75:
		return RiskSevere
	case score >= 0.50:
		return RiskHigh
	case score >= 0.25:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TabularFeatures is the flat feature set for the tabular estimator.
// Use DefaultTabularFeatures as the starting point; every field has a default.
type TabularFeatures struct {
	Rainfall24h         float64 `json:"rainfall_24h"`
	RainfallIntensity   float64 `json:"rainfall_intensity"`
	SoilMoisture        float64 `json:"soil_moisture"`
	Elevation           float64 `json:"elevation"`
	Slope               float64 `json:"slope"`
	DistanceToRiver     float64 `json:"distance_to_river"`
	HistoricalFloodFreq float64 `json:"historical_flood_freq"`
	DrainageDensity     float64 `json:"drainage_density"`
	Urbanization        float64 `json:"urbanization"`
}

// DefaultTabularFeatures returns the feature set used when nothing is known
func DefaultTabularFeatures() TabularFeatures {
	return TabularFeatures{
		Rainfall24h:         0,
		RainfallIntensity:   0,
		SoilMoisture:        50,
		Elevation:           100,
		Slope:               5,
		DistanceToRiver:     1000,
		HistoricalFloodFreq: 0.1,
		DrainageDensity:     0.5,
		Urbanization:        0.3,
	}
}

// FeatureContribution is the weighted contribution of one feature to the risk score
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// ClassProbabilities is the fixed class-probability vector of a risk bucket
type ClassProbabilities struct {
	Low    float64 `json:"Low"`
	Medium float64 `json:"Medium"`
	High   float64 `json:"High"`
	Severe float64 `json:"Severe"`
}

func (p ClassProbabilities) max() float64 {
	return calc.Max([]float64{p.Low, p.Medium, p.High, p.Severe})
}

var classTable = map[RiskLevel]ClassProbabilities{
	RiskLow:    {Low: 0.7, Medium: 0.2, High: 0.08, Severe: 0.02},
	RiskMedium: {Low: 0.2, Medium: 0.55, High: 0.2, Severe: 0.05},
	RiskHigh:   {Low: 0.05, Medium: 0.2, High: 0.55, Severe: 0.2},
	RiskSevere: {Low: 0.02, Medium: 0.08, High: 0.25, Severe: 0.65},
}

// TabularResult is the output of the tabular estimator
type TabularResult struct {
	Model              string                `json:"model"`
	RiskClass          RiskLevel             `json:"risk_class"`
	RiskScore          float64               `json:"risk_score"`
	ClassProbabilities ClassProbabilities    `json:"class_probabilities"`
	FeatureImportance  []FeatureContribution `json:"feature_importance"`
	Confidence         float64               `json:"confidence"`
}

type weightedTerm struct {
	feature string
	weight  float64
	term    func(TabularFeatures) float64
}

// tabularTerms lists the weighted terms in importance order. Weights sum to 1.
// Slope is carried in the feature set but does not enter the score.
var tabularTerms = []weightedTerm{
	{"rainfall_24h", 0.25, func(f TabularFeatures) float64 { return min(1, f.Rainfall24h/100) }},
	{"rainfall_intensity", 0.20, func(f TabularFeatures) float64 { return min(1, f.RainfallIntensity/30) }},
	{"soil_moisture", 0.15, func(f TabularFeatures) float64 { return f.SoilMoisture / 100 }},
	{"elevation", 0.10, func(f TabularFeatures) float64 { return max(0, 1-f.Elevation/500) }},
	{"distance_to_river", 0.12, func(f TabularFeatures) float64 { return max(0, 1-f.DistanceToRiver/2000) }},
	{"historical_flood_freq", 0.10, func(f TabularFeatures) float64 { return f.HistoricalFloodFreq }},
	{"drainage_density", 0.05, func(f TabularFeatures) float64 { return f.DrainageDensity }},
	{"urbanization", 0.03, func(f TabularFeatures) float64 { return f.Urbanization }},
}

// TabularEstimator classifies flood risk from a flat feature set
type TabularEstimator struct{}

// NewTabularEstimator creates a tabular estimator
func NewTabularEstimator() *TabularEstimator {
	return &TabularEstimator{}
}

// Predict scores the features and returns the bucketed class
func (t *TabularEstimator) Predict(features TabularFeatures) TabularResult {
	score := 0.0
	contributions := make([]FeatureContribution, 0, len(tabularTerms))
	for _, wt := range tabularTerms {
		c := calc.Clamp01(wt.term(features)) * wt.weight
		score += c
		contributions = append(contributions, FeatureContribution{
			Feature:      wt.feature,
			Contribution: calc.Round(c, 4),
		})
	}

	sort.SliceStable(contributions, func(i, j int) bool {
		return abs(contributions[i].Contribution) > abs(contributions[j].Contribution)
	})

	class := ClassifyRisk(score)
	probs := classTable[class]

	return TabularResult{
		Model:              tabularModelName,
		RiskClass:          class,
		RiskScore:          calc.Round(score, 3),
		ClassProbabilities: probs,
		FeatureImportance:  contributions,
		Confidence:         calc.Round(probs.max(), 2),
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
