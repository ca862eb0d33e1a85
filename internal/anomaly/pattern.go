package anomaly

import (
	"math"
	"time"

	"github.com/smukkama/floodwatch/internal/calc"
)

// Pattern feature names
const (
	PatternFeatureRainfall = "rainfall"
	PatternFeatureHumidity = "humidity"
	PatternFeaturePressure = "pressure"
)

// Canonical pattern names
const (
	PatternDrySeason = "dry_season"
	PatternMonsoon   = "monsoon"
	PatternPreFlood  = "pre_flood"
)

const (
	patternModelName        = "Autoencoder-FloodAnomaly-v1.0"
	reconstructionThreshold = 0.15
	patternLength           = 8
	preFloodMatchThreshold  = 0.6
	// neutralSimilarity is used when no feature overlaps a pattern
	neutralSimilarity = 0.5
	emptyFeatureError = 0.5
)

type canonicalPattern struct {
	name     string
	features map[string][]float64
}

// canonicalPatterns are compared in this order; ties keep the earlier one
var canonicalPatterns = []canonicalPattern{
	{PatternDrySeason, map[string][]float64{
		PatternFeatureRainfall: {0, 0, 0, 0, 0.5, 1, 0.5, 0},
		PatternFeatureHumidity: {40, 42, 45, 50, 55, 52, 48, 45},
		PatternFeaturePressure: {1013, 1013, 1012, 1012, 1013, 1013, 1014, 1013},
	}},
	{PatternMonsoon, map[string][]float64{
		PatternFeatureRainfall: {5, 8, 15, 20, 25, 18, 10, 8},
		PatternFeatureHumidity: {75, 80, 85, 90, 92, 88, 82, 78},
		PatternFeaturePressure: {1008, 1006, 1004, 1002, 1003, 1005, 1007, 1008},
	}},
	{PatternPreFlood, map[string][]float64{
		PatternFeatureRainfall: {10, 20, 35, 50, 60, 55, 45, 40},
		PatternFeatureHumidity: {85, 90, 95, 98, 98, 95, 92, 88},
		PatternFeaturePressure: {1002, 998, 995, 992, 990, 992, 995, 998},
	}},
}

// PatternWarning is the early-warning section of a pattern result
type PatternWarning struct {
	Triggered    bool    `json:"triggered"`
	PatternMatch string  `json:"pattern_match,omitempty"`
	Confidence   float64 `json:"confidence"`
	Message      string  `json:"message,omitempty"`
}

// PatternResult is the output of the pattern scorer. BestMatchingPattern
// is empty when no pattern has a positive similarity.
type PatternResult struct {
	Model                       string             `json:"model"`
	ReconstructionError         float64            `json:"reconstruction_error"`
	IsAnomalous                 bool               `json:"is_anomalous"`
	Threshold                   float64            `json:"threshold"`
	BestMatchingPattern         string             `json:"best_matching_pattern,omitempty"`
	PatternSimilarity           float64            `json:"pattern_similarity"`
	FeatureReconstructionErrors map[string]float64 `json:"feature_reconstruction_errors"`
	EarlyWarning                PatternWarning     `json:"early_warning"`
	Timestamp                   time.Time          `json:"timestamp"`
}

// PatternScorer matches recent series against canonical seasonal patterns
type PatternScorer struct {
	threshold float64
	now       func() time.Time
}

// NewPatternScorer creates a pattern scorer
func NewPatternScorer(now func() time.Time) *PatternScorer {
	if now == nil {
		now = time.Now
	}
	return &PatternScorer{threshold: reconstructionThreshold, now: now}
}

// Score finds the closest canonical pattern and reports how far the
// input is from it.
func (p *PatternScorer) Score(ts TimeSeries) PatternResult {
	normalized := normalizeSeries(ts.patternInputs())

	var (
		best           *canonicalPattern
		bestSimilarity float64
	)
	for i := range canonicalPatterns {
		sim := similarity(normalized, canonicalPatterns[i])
		if sim > bestSimilarity {
			bestSimilarity = sim
			best = &canonicalPatterns[i]
		}
	}

	reconstruction := 1 - bestSimilarity
	errors := make(map[string]float64)
	warning := PatternWarning{Confidence: calc.Round(bestSimilarity, 2)}
	bestName := ""

	if best != nil {
		bestName = best.name
		for _, s := range normalized {
			if pattern, ok := best.features[s.name]; ok {
				errors[s.name] = calc.Round(meanSquaredError(s.values, pattern), 3)
			}
		}
		warning.PatternMatch = best.name
		if best.name == PatternPreFlood && bestSimilarity > preFloodMatchThreshold {
			warning.Triggered = true
			warning.Message = "Current conditions matching pre-flood pattern"
		}
	}

	return PatternResult{
		Model:                       patternModelName,
		ReconstructionError:         calc.Round(reconstruction, 3),
		IsAnomalous:                 reconstruction > p.threshold,
		Threshold:                   p.threshold,
		BestMatchingPattern:         bestName,
		PatternSimilarity:           calc.Round(bestSimilarity, 3),
		FeatureReconstructionErrors: errors,
		EarlyWarning:                warning,
		Timestamp:                   p.now(),
	}
}

// normalizeSeries divides each series by its largest absolute value and
// keeps the last patternLength points.
func normalizeSeries(inputs []namedSeries) []namedSeries {
	out := make([]namedSeries, 0, len(inputs))
	for _, s := range inputs {
		scale := 0.0
		for _, v := range s.values {
			scale = max(scale, math.Abs(v))
		}
		if scale == 0 {
			scale = 1
		}
		tail := calc.Tail(s.values, patternLength)
		values := make([]float64, len(tail))
		for i, v := range tail {
			values[i] = v / scale
		}
		out = append(out, namedSeries{name: s.name, values: values})
	}
	return out
}

// similarity is the mean non-negative cosine similarity over the features
// the input shares with the pattern.
func similarity(inputs []namedSeries, pattern canonicalPattern) float64 {
	var sims []float64
	for _, s := range inputs {
		ref, ok := pattern.features[s.name]
		if !ok || len(s.values) > len(ref) {
			continue
		}
		ref = ref[:len(s.values)]

		dot, normA, normB := 0.0, 0.0, 0.0
		for i := range s.values {
			dot += s.values[i] * ref[i]
			normA += s.values[i] * s.values[i]
			normB += ref[i] * ref[i]
		}
		normA, normB = math.Sqrt(normA), math.Sqrt(normB)
		if normA == 0 {
			normA = 1
		}
		if normB == 0 {
			normB = 1
		}
		sims = append(sims, max(0, dot/(normA*normB)))
	}
	if len(sims) == 0 {
		return neutralSimilarity
	}
	return calc.Mean(sims)
}

func meanSquaredError(input, pattern []float64) float64 {
	n := min(len(input), len(pattern))
	if n == 0 {
		return emptyFeatureError
	}
	sq := 0.0
	for i := 0; i < n; i++ {
		d := input[i] - pattern[i]
		sq += d * d
	}
	return min(1.0, sq/float64(n))
}
