package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/smukkama/floodwatch/internal/calc"
)

// Baseline feature names
const (
	FeatureRainfallHourly = "rainfall_hourly"
	FeatureDischarge      = "discharge"
	FeatureWaterLevel     = "water_level"
	FeatureHumidity       = "humidity"
	FeaturePressureChange = "pressure_change"
)

const (
	statisticalModelName = "IsolationForest-v2.0"
	outlierThreshold     = 0.6
	highSeverityScore    = 0.8
	zEpsilon             = 0.001
	seriesLookback       = 6
)

// Baseline is the normal operating range of one feature
type Baseline struct {
	Mean      float64
	Std       float64
	MaxNormal float64
	// maxNormalText is MaxNormal as it appears in descriptions
	maxNormalText string
}

type namedBaseline struct {
	feature string
	Baseline
}

var baselines = []namedBaseline{
	{FeatureRainfallHourly, Baseline{Mean: 2.5, Std: 5.0, MaxNormal: 25, maxNormalText: "25"}},
	{FeatureDischarge, Baseline{Mean: 150, Std: 80, MaxNormal: 500, maxNormalText: "500"}},
	{FeatureWaterLevel, Baseline{Mean: 2.0, Std: 0.8, MaxNormal: 5.0, maxNormalText: "5.0"}},
	{FeatureHumidity, Baseline{Mean: 65, Std: 15, MaxNormal: 95, maxNormalText: "95"}},
	{FeaturePressureChange, Baseline{Mean: 0, Std: 3, MaxNormal: 10, maxNormalText: "10"}},
}

// Baselines returns the baseline table keyed by feature
func Baselines() map[string]Baseline {
	out := make(map[string]Baseline, len(baselines))
	for _, b := range baselines {
		out[b.feature] = b.Baseline
	}
	return out
}

// FeatureScore is the outlier score of one feature. Series features carry
// MaxValue and MeanValue, scalar features carry Value.
type FeatureScore struct {
	Score        float64  `json:"score"`
	MaxValue     *float64 `json:"max_value,omitempty"`
	MeanValue    *float64 `json:"mean_value,omitempty"`
	Value        *float64 `json:"value,omitempty"`
	BaselineMean float64  `json:"baseline_mean"`
	IsAnomaly    bool     `json:"is_anomaly"`
}

// Outlier is a feature whose score crossed the outlier threshold
type Outlier struct {
	Feature     string  `json:"feature"`
	Score       float64 `json:"score"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
}

// StatisticalResult is the output of the statistical scorer
type StatisticalResult struct {
	Model               string                  `json:"model"`
	OverallAnomalyScore float64                 `json:"overall_anomaly_score"`
	IsAnomalous         bool                    `json:"is_anomalous"`
	FeatureScores       map[string]FeatureScore `json:"feature_scores"`
	AnomaliesDetected   []Outlier               `json:"anomalies_detected"`
	Confidence          float64                 `json:"confidence"`
	Timestamp           time.Time               `json:"timestamp"`
}

// StatisticalScorer scores readings by their z-score against fixed baselines
type StatisticalScorer struct {
	now func() time.Time
}

// NewStatisticalScorer creates a statistical scorer
func NewStatisticalScorer(now func() time.Time) *StatisticalScorer {
	if now == nil {
		now = time.Now
	}
	return &StatisticalScorer{now: now}
}

func zScore(v float64, b Baseline) float64 {
	d := v - b.Mean
	if d < 0 {
		d = -d
	}
	return d / (b.Std + zEpsilon)
}

// Score computes per-feature and overall outlier scores. Unset readings
// and empty series are skipped.
func (s *StatisticalScorer) Score(readings CurrentReadings) StatisticalResult {
	scores := make(map[string]FeatureScore)
	outliers := []Outlier{}
	// feature scores carry three decimals; summing them as integer
	// thousandths makes the mean independent of feature order
	thousandths := 0

	for _, b := range baselines {
		r := readings.byFeature(b.feature)
		if !r.IsSet() {
			continue
		}

		var (
			score float64
			fs    FeatureScore
			desc  string
		)
		if r.IsSeries() {
			if len(r.Values()) == 0 {
				continue
			}
			recent := calc.Tail(r.Values(), seriesLookback)
			maxVal := calc.Max(recent)
			meanVal := calc.Mean(recent)
			score = min(1.0, (zScore(maxVal, b.Baseline)*0.6+zScore(meanVal, b.Baseline)*0.4)/4)
			fs.MaxValue = ptr(calc.Round(maxVal, 2))
			fs.MeanValue = ptr(calc.Round(meanVal, 2))
			desc = fmt.Sprintf("%s showing unusual pattern: %.1f vs normal max %s",
				b.feature, maxVal, b.maxNormalText)
		} else {
			score = min(1.0, zScore(r.Value(), b.Baseline)/4)
			fs.Value = ptr(calc.Round(r.Value(), 2))
			desc = fmt.Sprintf("%s at %.1f, significantly above normal (%.1f)",
				b.feature, r.Value(), b.Mean)
		}

		fs.Score = calc.Round(score, 3)
		fs.BaselineMean = b.Mean
		fs.IsAnomaly = score > outlierThreshold
		scores[b.feature] = fs
		thousandths += int(math.Round(fs.Score * 1000))

		if fs.IsAnomaly {
			severity := "medium"
			if score > highSeverityScore {
				severity = "high"
			}
			outliers = append(outliers, Outlier{
				Feature:     b.feature,
				Score:       fs.Score,
				Severity:    severity,
				Description: desc,
			})
		}
	}

	overall := 0.0
	if len(scores) > 0 {
		overall = float64(thousandths) / (1000 * float64(len(scores)))
	}

	return StatisticalResult{
		Model:               statisticalModelName,
		OverallAnomalyScore: calc.Round(overall, 3),
		IsAnomalous:         overall > 0.5,
		FeatureScores:       scores,
		AnomaliesDetected:   outliers,
		Confidence:          calc.Round(0.8-overall*0.2, 2),
		Timestamp:           s.now(),
	}
}

func ptr(v float64) *float64 { return &v }
