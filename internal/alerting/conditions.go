package alerting

import (
	"github.com/smukkama/floodwatch/internal/anomaly"
	"github.com/smukkama/floodwatch/internal/model"
)

// Condition names
const (
	ConditionHighFloodProbability = "high_flood_probability"
	ConditionAnomalyDetected      = "anomaly_detected"
	ConditionHeavyRainfall        = "heavy_rainfall_forecast"
	ConditionEarlyWarnings        = "early_warning_signals"
)

// Thresholds are the fixed trigger levels of the alert conditions
type Thresholds struct {
	FloodProbabilityHigh float64 `json:"flood_probability_high"`
	AnomalyScoreTrigger  float64 `json:"anomaly_score_trigger"`
	Rainfall24h          float64 `json:"rainfall_90th_percentile"`
	ConfidenceMinimum    float64 `json:"confidence_minimum"`
}

// DefaultThresholds returns the standard trigger levels
func DefaultThresholds() Thresholds {
	return Thresholds{
		FloodProbabilityHigh: 0.72,
		AnomalyScoreTrigger:  0.6,
		Rainfall24h:          50,
		ConfidenceMinimum:    0.6,
	}
}

const (
	weightHighProbability = 0.35
	weightAnomaly         = 0.25
	weightHeavyRainfall   = 0.25
	weightEarlyWarnings   = 0.15

	lowConfidencePenalty = 0.7
)

var regionalFactors = map[model.RegionType]float64{
	model.RegionDefault:  1.0,
	model.RegionCoastal:  1.2,
	model.RegionRiverine: 1.15,
	model.RegionUrban:    1.1,
	model.RegionHilly:    0.95,
}

// CalibrationFactor returns the divisor applied to the flood probability
// threshold for a region. Unknown regions use 1.0.
func CalibrationFactor(region model.RegionType) float64 {
	if f, ok := regionalFactors[region]; ok {
		return f
	}
	return 1.0
}

// Condition is one satisfied alert condition
type Condition struct {
	Condition string  `json:"condition"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
}

// signals are the inputs the conditions are evaluated on
type signals struct {
	probability   float64
	confidence    float64
	anomalyScore  float64
	rainfall24h   float64
	earlyWarnings []anomaly.EarlyWarning
	region        model.RegionType
	nearRiver     bool
}

// evaluateConditions returns the satisfied conditions in evaluation order
func evaluateConditions(t Thresholds, s signals) []Condition {
	conditions := []Condition{}

	threshold := t.FloodProbabilityHigh / CalibrationFactor(s.region)
	if s.probability > threshold {
		conditions = append(conditions, Condition{ConditionHighFloodProbability, s.probability, threshold, weightHighProbability})
	}
	if s.anomalyScore > t.AnomalyScoreTrigger {
		conditions = append(conditions, Condition{ConditionAnomalyDetected, s.anomalyScore, t.AnomalyScoreTrigger, weightAnomaly})
	}
	if s.rainfall24h > t.Rainfall24h {
		conditions = append(conditions, Condition{ConditionHeavyRainfall, s.rainfall24h, t.Rainfall24h, weightHeavyRainfall})
	}
	if len(s.earlyWarnings) > 0 {
		conditions = append(conditions, Condition{ConditionEarlyWarnings, float64(len(s.earlyWarnings)), 1, weightEarlyWarnings})
	}
	return conditions
}

// alertScore sums the condition weights and applies the low confidence
// penalty.
func alertScore(t Thresholds, conditions []Condition, confidence float64) float64 {
	score := 0.0
	for _, c := range conditions {
		score += c.Weight
	}
	if confidence < t.ConfidenceMinimum {
		score *= lowConfidencePenalty
	}
	return score
}

// ClassifySeverity maps an alert score and condition count to a severity.
// Rules are checked from the most severe down; the first match wins.
func ClassifySeverity(score float64, conditionCount int) Severity {
	switch {
	case score >= 0.75 && conditionCount >= 3:
		return SeverityCritical
	case score >= 0.6 || (score >= 0.5 && conditionCount >= 3):
		return SeveritySevere
	case score >= 0.4 || conditionCount >= 2:
		return SeverityWarning
	case score >= 0.2 || conditionCount >= 1:
		return SeverityWatch
	default:
		return SeverityInfo
	}
}

// resolveType picks the alert type by priority: a rainfall surge makes a
// flash flood, then river overflow, heavy rainfall and plain flood.
func resolveType(s signals) Type {
	for _, w := range s.earlyWarnings {
		if w.Type == anomaly.WarningRainfallSurge {
			return TypeFlashFlood
		}
	}
	switch {
	case s.nearRiver && s.probability > 0.6:
		return TypeRiverOverflow
	case s.rainfall24h > 80 && s.probability < 0.5:
		return TypeHeavyRainfall
	default:
		return TypeFlood
	}
}
