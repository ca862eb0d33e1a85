// Package alerting turns flood predictions and anomaly results into
// escalation-aware alerts. An Engine owns the active alert registry and
// the audit history for its whole lifetime; all methods are safe for
// concurrent use.
package alerting

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/anomaly"
	"github.com/smukkama/floodwatch/internal/ensemble"
	"github.com/smukkama/floodwatch/internal/model"
)

const (
	// DefaultHistorySize is the capacity of the audit history
	DefaultHistorySize = 1000
	// AlertLifetime is how long an alert stays valid
	AlertLifetime = 24 * time.Hour
	// NearbyRadiusDegrees is the get-active filter radius in raw degrees,
	// roughly 50km near the equator.
	NearbyRadiusDegrees = 0.5
)

// AlertLocation is the location block of an alert
type AlertLocation struct {
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	District      string   `json:"district,omitempty"`
	State         string   `json:"state,omitempty"`
	AffectedAreas []string `json:"affected_areas"`
}

// Key returns the registry key of the location
func (l AlertLocation) Key() string {
	return model.LocationKey(l.Latitude, l.Longitude)
}

// Metrics are the headline numbers behind an alert
type Metrics struct {
	FloodProbability float64 `json:"flood_probability"`
	Confidence       float64 `json:"confidence"`
	AnomalyScore     float64 `json:"anomaly_score"`
	ConditionsMet    int     `json:"conditions_met"`
}

// Escalation relates an alert to the previous one at the same location.
// From, To and PreviousAlertID are set on escalated and de-escalated
// alerts; Level is set on new and maintained ones.
type Escalation struct {
	Type            EscalationType `json:"type"`
	From            Severity       `json:"from,omitempty"`
	To              Severity       `json:"to,omitempty"`
	PreviousAlertID string         `json:"previous_alert_id,omitempty"`
	Level           Severity       `json:"level,omitempty"`
}

// Alert is a complete alert record
type Alert struct {
	AlertID            string               `json:"alert_id"`
	Timestamp          time.Time            `json:"timestamp"`
	Expires            time.Time            `json:"expires"`
	Severity           Severity             `json:"severity"`
	Type               Type                 `json:"type"`
	Title              string               `json:"title"`
	Description        string               `json:"description"`
	Location           AlertLocation        `json:"location"`
	Metrics            Metrics              `json:"metrics"`
	ConditionsAnalysis []Condition          `json:"conditions_analysis"`
	Predictions        ensemble.Horizons    `json:"predictions"`
	Instructions       []Instruction        `json:"instructions"`
	Resources          Resources            `json:"resources"`
	SMSPayload         string               `json:"sms_payload"`
	AIReasoning        string               `json:"ai_reasoning"`
	Uncertainty        ensemble.Uncertainty `json:"uncertainty"`
	Status             Status               `json:"status"`
	Acknowledged       bool                 `json:"acknowledged"`
	AcknowledgedAt     *time.Time           `json:"acknowledged_at,omitempty"`
	ClearedAt          *time.Time           `json:"cleared_at,omitempty"`
	Escalation         Escalation           `json:"escalation"`
}

// Summary is the audit history entry of an alert
type Summary struct {
	AlertID   string        `json:"alert_id"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  Severity      `json:"severity"`
	Type      Type          `json:"type"`
	Location  AlertLocation `json:"location"`
}

// Request carries everything one alert evaluation needs
type Request struct {
	Location   model.Location
	Prediction *ensemble.Prediction
	Anomaly    *anomaly.Result
	Forecast   model.Forecast
}

// EngineStatus is a snapshot of the engine state
type EngineStatus struct {
	ActiveAlerts int        `json:"active_alerts"`
	HistorySize  int        `json:"history_size"`
	Thresholds   Thresholds `json:"thresholds"`
}

// Engine generates alerts and tracks the active alert per location
type Engine struct {
	thresholds Thresholds
	resources  ResourceDirectory
	now        func() time.Time
	logger     *zap.Logger
	capacity   int

	mu      sync.Mutex
	active  map[string]*Alert
	order   []string
	history []Summary
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the time source for alert timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithResourceDirectory replaces the static resource directory
func WithResourceDirectory(d ResourceDirectory) Option {
	return func(e *Engine) {
		if d != nil {
			e.resources = d
		}
	}
}

// WithHistorySize sets the audit history capacity
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// NewEngine creates an engine with an empty registry
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		thresholds: DefaultThresholds(),
		resources:  StaticDirectory{},
		now:        time.Now,
		logger:     zap.NewNop(),
		capacity:   DefaultHistorySize,
		active:     make(map[string]*Alert),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the condition thresholds
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Generate evaluates the conditions for a request, composes the alert,
// resolves its escalation against the active alert at the same location
// and replaces that registry entry.
func (e *Engine) Generate(req Request) *Alert {
	pred := req.Prediction
	if pred == nil {
		pred = &ensemble.Prediction{}
	}
	anom := req.Anomaly
	if anom == nil {
		anom = &anomaly.Result{}
	}

	sig := signals{
		probability:   pred.Ensemble.FloodProbability,
		confidence:    pred.Ensemble.Confidence,
		anomalyScore:  anom.CombinedAnomalyScore,
		rainfall24h:   req.Forecast.Rainfall24h,
		earlyWarnings: anom.EarlyWarnings,
		region:        req.Location.Region(),
		nearRiver:     req.Location.NearRiver,
	}

	conditions := evaluateConditions(e.thresholds, sig)
	score := alertScore(e.thresholds, conditions, sig.confidence)
	severity := ClassifySeverity(score, len(conditions))
	alertType := resolveType(sig)

	ts := e.now()
	alert := &Alert{
		AlertID:     alertID(ts, req.Location.District),
		Timestamp:   ts,
		Expires:     ts.Add(AlertLifetime),
		Severity:    severity,
		Type:        alertType,
		Title:       title(severity, alertType),
		Description: description(conditions, pred.Ensemble),
		Location: AlertLocation{
			Latitude:      req.Location.Latitude,
			Longitude:     req.Location.Longitude,
			District:      req.Location.District,
			State:         req.Location.State,
			AffectedAreas: affectedAreas(req.Location, pred.ModelOutputs.Spatial),
		},
		Metrics: Metrics{
			FloodProbability: pred.Ensemble.FloodProbability,
			Confidence:       pred.Ensemble.Confidence,
			AnomalyScore:     anom.CombinedAnomalyScore,
			ConditionsMet:    len(conditions),
		},
		ConditionsAnalysis: conditions,
		Predictions:        pred.Ensemble.PredictionsByHorizon,
		Instructions:       Instructions(severity),
		Resources:          lookupResources(e.resources, req.Location),
		SMSPayload:         smsPayload(severity, req.Location, pred.Ensemble.FloodProbability),
		AIReasoning:        pred.Reasoning,
		Uncertainty:        pred.Uncertainty,
		Status:             StatusActive,
	}

	e.mu.Lock()
	key := alert.Location.Key()
	alert.Escalation = escalate(e.active[key], alert)
	e.put(key, alert)
	e.appendHistory(alert)
	// the registry entry is shared with Acknowledge once unlocked
	out := *alert
	e.mu.Unlock()

	e.logger.Info("alert generated",
		zap.String("alert_id", out.AlertID),
		zap.String("location_key", key),
		zap.String("severity", string(out.Severity)),
		zap.String("type", string(out.Type)),
		zap.String("escalation", string(out.Escalation.Type)),
		zap.Float64("alert_score", score),
	)

	return &out
}

func escalate(existing, next *Alert) Escalation {
	if existing == nil {
		return Escalation{Type: EscalationNew, Level: next.Severity}
	}
	switch next.Severity.Compare(existing.Severity) {
	case 1:
		return Escalation{Type: EscalationEscalated, From: existing.Severity, To: next.Severity, PreviousAlertID: existing.AlertID}
	case -1:
		return Escalation{Type: EscalationDeescalated, From: existing.Severity, To: next.Severity, PreviousAlertID: existing.AlertID}
	default:
		return Escalation{Type: EscalationMaintained, Level: next.Severity}
	}
}

// put replaces the registry entry for key. A replaced key keeps its
// position in the listing order. Callers hold e.mu.
func (e *Engine) put(key string, a *Alert) {
	if _, ok := e.active[key]; !ok {
		e.order = append(e.order, key)
	}
	e.active[key] = a
}

func (e *Engine) remove(key string) {
	delete(e.active, key)
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) appendHistory(a *Alert) {
	if len(e.history) >= e.capacity {
		drop := len(e.history) - e.capacity + 1
		e.history = append(e.history[:0], e.history[drop:]...)
	}
	e.history = append(e.history, Summary{
		AlertID:   a.AlertID,
		Timestamp: a.Timestamp,
		Severity:  a.Severity,
		Type:      a.Type,
		Location:  a.Location,
	})
}

// Active returns copies of all active alerts in registry order
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.order))
	for _, k := range e.order {
		out = e.appendCopy(out, k)
	}
	return out
}

func (e *Engine) appendCopy(dst []Alert, key string) []Alert {
	return append(dst, *e.active[key])
}

// ActiveNear returns the active alerts whose coordinates are within
// NearbyRadiusDegrees of p, measured as a planar distance in degrees.
func (e *Engine) ActiveNear(p model.LatLon) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Alert
	for _, k := range e.order {
		a := e.active[k]
		pt := model.LatLon{Latitude: a.Location.Latitude, Longitude: a.Location.Longitude}
		if p.DegreeDistance(pt) < NearbyRadiusDegrees {
			out = e.appendCopy(out, k)
		}
	}
	return out
}

// ActiveFor returns the active alert at a location key
func (e *Engine) ActiveFor(key string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.active[key]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

func (e *Engine) findLocked(id string) (string, *Alert) {
	for _, k := range e.order {
		if a := e.active[k]; a.AlertID == id {
			return k, a
		}
	}
	return "", nil
}

// Acknowledge marks the active alert with the given id as acknowledged.
// It returns false when no active alert has that id.
func (e *Engine) Acknowledge(id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, a := e.findLocked(id)
	if a == nil {
		return Alert{}, false
	}
	now := e.now()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	return *a, true
}

// Clear removes the active alert with the given id from the registry and
// returns it marked cleared. It returns false when no active alert has
// that id. Ids are not unique across locations within one second; the
// first match in registry order is cleared.
func (e *Engine) Clear(id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key, a := e.findLocked(id)
	if a == nil {
		return Alert{}, false
	}
	return e.clearLocked(key, a), true
}

// ClearAt clears the active alert at a location key only when it still
// carries the given id.
func (e *Engine) ClearAt(key, id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.active[key]
	if !ok || a.AlertID != id {
		return Alert{}, false
	}
	return e.clearLocked(key, a), true
}

func (e *Engine) clearLocked(key string, a *Alert) Alert {
	id := a.AlertID
	now := e.now()
	a.Status = StatusCleared
	a.ClearedAt = &now
	e.remove(key)

	e.logger.Info("alert cleared", zap.String("alert_id", id), zap.String("location_key", key))
	return *a
}

// History returns the audit history, oldest first
func (e *Engine) History() []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Summary, len(e.history))
	copy(out, e.history)
	return out
}

// Restore loads previously active alerts, keeping the most recent one
// per location. Cleared alerts and locations that already hold an alert
// are skipped. It returns the number of alerts restored.
func (e *Engine) Restore(alerts []Alert) int {
	sorted := make([]Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	latest := make(map[string]*Alert)
	var keys []string
	for i := range sorted {
		a := sorted[i]
		if a.Status != StatusActive {
			continue
		}
		key := a.Location.Key()
		if _, seen := latest[key]; !seen {
			keys = append(keys, key)
		}
		latest[key] = &a
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, key := range keys {
		if _, ok := e.active[key]; ok {
			continue
		}
		e.put(key, latest[key])
		n++
	}
	return n
}

// Status returns a snapshot of the engine state
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		ActiveAlerts: len(e.active),
		HistorySize:  len(e.history),
		Thresholds:   e.thresholds,
	}
}
