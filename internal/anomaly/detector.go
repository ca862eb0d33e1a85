// Package anomaly detects unusual sensor readings and precursor weather
// patterns. A Detector keeps a rolling score history per instance and is
// safe for concurrent use.
package anomaly

import (
	"fmt"
	"sync"
	"time"

	"github.com/smukkama/floodwatch/internal/calc"
)

// Level is the anomaly alert level
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWatch    Level = "watch"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Rank orders levels from normal (0) to critical (3)
func (l Level) Rank() int {
	switch l {
	case LevelWatch:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// ClassifyLevel maps a combined score onto an alert level
func ClassifyLevel(score float64) Level {
	switch {
	case score >= 0.7:
		return LevelCritical
	case score >= 0.5:
		return LevelWarning
	case score >= 0.3:
		return LevelWatch
	default:
		return LevelNormal
	}
}

var levelMessages = map[Level]string{
	LevelCritical: "🚨 CRITICAL: Multiple anomaly indicators triggered",
	LevelWarning:  "⚠️ WARNING: Unusual patterns detected in environmental data",
	LevelWatch:    "👁️ WATCH: Minor anomalies detected, monitoring closely",
	LevelNormal:   "✅ All readings within normal parameters",
}

var levelActions = map[Level]string{
	LevelCritical: "Initiate emergency response protocols immediately",
	LevelWarning:  "Increase monitoring frequency, prepare contingency plans",
	LevelWatch:    "Continue monitoring, no immediate action required",
	LevelNormal:   "Maintain standard monitoring schedule",
}

// RecommendedAction returns the action text for a level
func RecommendedAction(l Level) string {
	if a, ok := levelActions[l]; ok {
		return a
	}
	return levelActions[LevelNormal]
}

// Early warning types
const (
	WarningRainfallSurge = "rainfall_surge"
	WarningPatternMatch  = "pattern_match"
)

// EarlyWarning is a discrete precursor event
type EarlyWarning struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Trend directions
const (
	TrendStable     = "stable"
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
)

// Trend summarizes how the combined score moved over the last samples
type Trend struct {
	Direction string  `json:"direction"`
	Change    float64 `json:"change"`
	Samples   int     `json:"samples,omitempty"`
}

// Sample is one entry of the rolling score history
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// Result is the combined output of one detection
type Result struct {
	Timestamp            time.Time         `json:"timestamp"`
	CombinedAnomalyScore float64           `json:"combined_anomaly_score"`
	AlertLevel           Level             `json:"alert_level"`
	AlertMessage         string            `json:"alert_message"`
	IsAnomalous          bool              `json:"is_anomalous"`
	IsolationForest      StatisticalResult `json:"isolation_forest"`
	Autoencoder          *PatternResult    `json:"autoencoder"`
	EarlyWarnings        []EarlyWarning    `json:"early_warnings"`
	Trend                Trend             `json:"trend"`
	RecommendedAction    string            `json:"recommended_action"`
}

const (
	// DefaultHistorySize is the capacity of the rolling score history
	DefaultHistorySize = 100
	trendWindow        = 5
	trendThreshold     = 0.1
	surgeMinimumMMh    = 10.0
)

// Detector combines the statistical and pattern scorers
type Detector struct {
	statistical *StatisticalScorer
	pattern     *PatternScorer
	now         func() time.Time

	mu       sync.Mutex
	history  []Sample
	capacity int
}

// Option configures a Detector
type Option func(*Detector)

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithHistorySize sets the rolling history capacity
func WithHistorySize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// NewDetector creates a detector with an empty history
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		now:      time.Now,
		capacity: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.statistical = NewStatisticalScorer(d.now)
	d.pattern = NewPatternScorer(d.now)
	d.history = make([]Sample, 0, d.capacity)
	return d
}

// Detect scores the current readings, and the series when given, and
// records the combined score in the history. A series with no values is
// treated as absent.
func (d *Detector) Detect(current CurrentReadings, series *TimeSeries) *Result {
	stat := d.statistical.Score(current)
	if series.IsEmpty() {
		series = nil
	}

	var pat *PatternResult
	combined := stat.OverallAnomalyScore
	if series != nil {
		r := d.pattern.Score(*series)
		pat = &r
		combined = stat.OverallAnomalyScore*0.5 + r.ReconstructionError*0.5
	}

	level := ClassifyLevel(combined)
	warnings := []EarlyWarning{}
	if series != nil {
		if w, ok := rainfallSurge(series.RainfallHourly); ok {
			warnings = append(warnings, w)
		}
	}
	if pat != nil && pat.EarlyWarning.Triggered {
		warnings = append(warnings, EarlyWarning{
			Type:     WarningPatternMatch,
			Severity: "high",
			Message:  pat.EarlyWarning.Message,
		})
	}

	now := d.now()
	trend := d.record(Sample{Timestamp: now, Score: combined})

	return &Result{
		Timestamp:            now,
		CombinedAnomalyScore: calc.Round(combined, 3),
		AlertLevel:           level,
		AlertMessage:         levelMessages[level],
		IsAnomalous:          combined > 0.5,
		IsolationForest:      stat,
		Autoencoder:          pat,
		EarlyWarnings:        warnings,
		Trend:                trend,
		RecommendedAction:    RecommendedAction(level),
	}
}

// History returns a copy of the rolling score history, oldest first
func (d *Detector) History() []Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sample, len(d.history))
	copy(out, d.history)
	return out
}

// record appends a sample, evicting the oldest at capacity, and returns
// the trend including it.
func (d *Detector) record(s Sample) Trend {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) == d.capacity {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, s)

	if len(d.history) < trendWindow {
		return Trend{Direction: TrendStable, Change: 0}
	}
	recent := d.history[len(d.history)-trendWindow:]
	first := (recent[0].Score + recent[1].Score) / 2
	last := (recent[trendWindow-2].Score + recent[trendWindow-1].Score) / 2
	change := last - first

	direction := TrendStable
	switch {
	case change > trendThreshold:
		direction = TrendIncreasing
	case change < -trendThreshold:
		direction = TrendDecreasing
	}
	return Trend{
		Direction: direction,
		Change:    calc.Round(change, 3),
		Samples:   len(d.history),
	}
}

// rainfallSurge fires when the last three hours average more than twice
// the three hours before them and more than 10 mm/h.
func rainfallSurge(rainfall []float64) (EarlyWarning, bool) {
	if len(rainfall) < 6 {
		return EarlyWarning{}, false
	}
	n := len(rainfall)
	recent := calc.Sum(rainfall[n-3:]) / 3
	older := calc.Sum(rainfall[n-6:n-3]) / 3
	if recent > older*2 && recent > surgeMinimumMMh {
		return EarlyWarning{
			Type:     WarningRainfallSurge,
			Severity: "high",
			Message:  fmt.Sprintf("Rainfall intensity doubled in last 3 hours (%.1f→%.1f mm/h)", older, recent),
		}, true
	}
	return EarlyWarning{}, false
}
