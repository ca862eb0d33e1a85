package alerting

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/floodwatch/internal/anomaly"
	"github.com/smukkama/floodwatch/internal/ensemble"
	"github.com/smukkama/floodwatch/internal/model"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so consecutive alerts get distinct ids
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

var kamrup = model.Location{Latitude: 26.14, Longitude: 91.73, District: "Kamrup", State: "Assam"}

type scenario struct {
	probability float64
	confidence  float64
	anomaly     float64
	rainfall    float64
	warnings    []anomaly.EarlyWarning
}

func (s scenario) request(loc model.Location) Request {
	return Request{
		Location: loc,
		Prediction: &ensemble.Prediction{
			Ensemble: ensemble.EnsembleOutput{
				FloodProbability: s.probability,
				Confidence:       s.confidence,
				RiskLevel:        ensemble.ClassifyRisk(s.probability),
				PredictionsByHorizon: ensemble.Horizons{
					H6:  s.probability + 0.05,
					H12: s.probability,
					H24: s.probability,
				},
			},
			Reasoning: "test reasoning",
		},
		Anomaly: &anomaly.Result{
			CombinedAnomalyScore: s.anomaly,
			EarlyWarnings:        s.warnings,
		},
		Forecast: model.Forecast{Rainfall24h: s.rainfall},
	}
}

var (
	patternWarning = anomaly.EarlyWarning{Type: anomaly.WarningPatternMatch, Severity: "high", Message: "Current conditions matching pre-flood pattern"}
	surgeWarning   = anomaly.EarlyWarning{Type: anomaly.WarningRainfallSurge, Severity: "high", Message: "surge"}

	watchScenario    = scenario{probability: 0.2, confidence: 0.9, anomaly: 0.75}
	criticalScenario = scenario{probability: 0.8, confidence: 0.9, anomaly: 0.75, rainfall: 60, warnings: []anomaly.EarlyWarning{patternWarning}}
	warningScenario  = scenario{probability: 0.2, confidence: 0.9, anomaly: 0.75, warnings: []anomaly.EarlyWarning{patternWarning}}
)

func TestEngine_AnomalyOnlyIsWatch(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))

	a := e.Generate(watchScenario.request(kamrup))

	require.Len(t, a.ConditionsAnalysis, 1)
	assert.Equal(t, Condition{Condition: ConditionAnomalyDetected, Value: 0.75, Threshold: 0.6, Weight: 0.25}, a.ConditionsAnalysis[0])
	assert.Equal(t, SeverityWatch, a.Severity)
	assert.Equal(t, TypeFlood, a.Type)
	assert.Equal(t, 1, a.Metrics.ConditionsMet)
	assert.Equal(t, StatusActive, a.Status)
	assert.False(t, a.Acknowledged)
	assert.Equal(t, "👁️ WATCH Flood Alert", a.Title)
	assert.Equal(t, "Flood probability: 20% (Confidence: 90%) | Unusual patterns detected in environmental data", a.Description)
}

func TestEngine_EscalationSequence(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))

	first := e.Generate(watchScenario.request(kamrup))
	second := e.Generate(criticalScenario.request(kamrup))
	third := e.Generate(warningScenario.request(kamrup))

	assert.Equal(t, SeverityWatch, first.Severity)
	assert.Equal(t, SeverityCritical, second.Severity)
	assert.Equal(t, SeverityWarning, third.Severity)

	assert.Equal(t, Escalation{Type: EscalationNew, Level: SeverityWatch}, first.Escalation)
	assert.Equal(t, Escalation{
		Type:            EscalationEscalated,
		From:            SeverityWatch,
		To:              SeverityCritical,
		PreviousAlertID: first.AlertID,
	}, second.Escalation)
	assert.Equal(t, Escalation{
		Type:            EscalationDeescalated,
		From:            SeverityCritical,
		To:              SeverityWarning,
		PreviousAlertID: second.AlertID,
	}, third.Escalation)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, third.AlertID, active[0].AlertID)
	assert.Len(t, e.History(), 3)
}

func TestEngine_RepeatedSeverityIsMaintained(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))

	e.Generate(criticalScenario.request(kamrup))
	again := e.Generate(criticalScenario.request(kamrup))

	assert.Equal(t, Escalation{Type: EscalationMaintained, Level: SeverityCritical}, again.Escalation)
}

func TestEngine_CriticalAlertContent(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))
	loc := kamrup
	loc.EmergencyContact = "0361-2540000"

	a := e.Generate(criticalScenario.request(loc))

	assert.Equal(t, "ALERT-20260701090001-KAM", a.AlertID)
	assert.Equal(t, a.Timestamp.Add(24*time.Hour), a.Expires)
	assert.Equal(t, "🚨 CRITICAL Flood Alert", a.Title)
	assert.Equal(t,
		"Flood probability: 80% (Confidence: 90%) | ML models indicate elevated flood risk | "+
			"Unusual patterns detected in environmental data | Heavy rainfall expected: 60mm in 24h | "+
			"Early warning indicators triggered | ⏱️ Potential impact within 6 hours",
		a.Description)
	assert.Equal(t, "🚨CRITICAL:Kamrup FLOOD ALERT! Risk:80%. EVACUATE NOW to high ground. Call 1078 for help.", a.SMSPayload)
	assert.Equal(t, Metrics{FloodProbability: 0.8, Confidence: 0.9, AnomalyScore: 0.75, ConditionsMet: 4}, a.Metrics)
	assert.Equal(t, "test reasoning", a.AIReasoning)

	require.Len(t, a.Instructions, 5)
	assert.Equal(t, Instruction{Priority: 1, Action: "EVACUATE immediately to higher ground", Icon: "🏃"}, a.Instructions[0])

	require.Len(t, a.Resources.EvacuationCenters, 3)
	assert.InDelta(t, 26.16, a.Resources.EvacuationCenters[0].Coordinates.Lat, 1e-9)
	assert.Equal(t, 2000, a.Resources.EvacuationCenters[2].Capacity)
	require.Len(t, a.Resources.SafeZones, 2)
	assert.InDelta(t, 91.69, a.Resources.SafeZones[1].Coordinates.Lon, 1e-9)
	assert.Equal(t, "0361-2540000", a.Resources.EmergencyContacts.DistrictCollector)
	assert.Equal(t, "1078", a.Resources.EmergencyContacts.NationalDisasterResponse)
}

func TestEngine_DescriptionTimingClauses(t *testing.T) {
	pred := ensemble.EnsembleOutput{FloodProbability: 0.6, Confidence: 0.7, PredictionsByHorizon: ensemble.Horizons{H6: 0.65, H12: 0.72, H24: 0.6}}
	assert.True(t, strings.HasSuffix(description(nil, pred), "⏱️ Potential impact within 12 hours"))

	pred.PredictionsByHorizon.H12 = 0.6
	assert.Equal(t, "Flood probability: 60% (Confidence: 70%) | ⏱️ Monitor for next 24 hours", description(nil, pred))

	pred.FloodProbability = 0.5
	assert.Equal(t, "Flood probability: 50% (Confidence: 70%)", description(nil, pred))
}

func TestEngine_AlertTypes(t *testing.T) {
	riverside := kamrup
	riverside.NearRiver = true

	cases := []struct {
		name string
		loc  model.Location
		sc   scenario
		want Type
	}{
		{"river overflow", riverside, scenario{probability: 0.8, confidence: 0.9}, TypeRiverOverflow},
		{"surge beats river", riverside, scenario{probability: 0.8, confidence: 0.9, warnings: []anomaly.EarlyWarning{surgeWarning}}, TypeFlashFlood},
		{"heavy rainfall", kamrup, scenario{probability: 0.3, confidence: 0.9, rainfall: 90}, TypeHeavyRainfall},
		{"likely flood", kamrup, scenario{probability: 0.55, confidence: 0.9, rainfall: 90}, TypeFlood},
		{"default", kamrup, scenario{probability: 0.1, confidence: 0.9}, TypeFlood},
		{"near river low probability", riverside, scenario{probability: 0.6, confidence: 0.9}, TypeFlood},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewEngine().Generate(tc.sc.request(tc.loc))
			assert.Equal(t, tc.want, a.Type)
		})
	}
}

func TestEngine_LowConfidencePenalty(t *testing.T) {
	sc := scenario{probability: 0.8, confidence: 0.5, anomaly: 0.7, rainfall: 60}

	a := NewEngine().Generate(sc.request(kamrup))

	// 0.85 * 0.7 = 0.595 with three conditions
	assert.Equal(t, 3, a.Metrics.ConditionsMet)
	assert.Equal(t, SeveritySevere, a.Severity)

	sc.confidence = 0.6
	assert.Equal(t, SeverityCritical, NewEngine().Generate(sc.request(kamrup)).Severity)
}

func TestEngine_RegionalCalibration(t *testing.T) {
	coastal := kamrup
	coastal.RegionType = model.RegionCoastal
	sc := scenario{probability: 0.65, confidence: 0.9}

	a := NewEngine().Generate(sc.request(coastal))
	require.Len(t, a.ConditionsAnalysis, 1)
	assert.Equal(t, ConditionHighFloodProbability, a.ConditionsAnalysis[0].Condition)
	assert.InDelta(t, 0.6, a.ConditionsAnalysis[0].Threshold, 1e-12)

	assert.Empty(t, NewEngine().Generate(sc.request(kamrup)).ConditionsAnalysis)

	hilly := kamrup
	hilly.RegionType = model.RegionHilly
	sc.probability = 0.74
	assert.Empty(t, NewEngine().Generate(sc.request(hilly)).ConditionsAnalysis)

	assert.Equal(t, 1.0, CalibrationFactor("desert"))
}

func TestEngine_AffectedAreas(t *testing.T) {
	riverside := model.Location{Latitude: 10, Longitude: 20, NearRiver: true}
	req := scenario{probability: 0.3, confidence: 0.9}.request(riverside)
	req.Prediction.ModelOutputs.Spatial.PropagationProbability = 0.6

	a := NewEngine().Generate(req)

	assert.Equal(t, []string{"Unknown District", "Downstream areas from Unknown District", "River-adjacent communities"}, a.Location.AffectedAreas)
	assert.True(t, strings.HasSuffix(a.AlertID, "-UNK"))
	assert.Equal(t, "N/A", a.Resources.EmergencyContacts.DistrictCollector)
	assert.Equal(t, "ℹ️Your Area: Normal conditions. Stay prepared.", a.SMSPayload)
}

func TestSMSPayload_Length(t *testing.T) {
	loc := model.Location{District: strings.Repeat("Dakshin Kannada ", 4)}
	for _, s := range severityOrder {
		msg := smsPayload(s, loc, 0.999)
		assert.LessOrEqual(t, utf8.RuneCountInString(msg), SMSMaxLength, s)
		assert.Contains(t, msg, "Dakshin Kannada")
		assert.NotContains(t, msg, "Dakshin Kannada D")
	}
	assert.Equal(t, "⚠️WARNING:Puri flood risk 45%. Stay alert, avoid low areas. Updates:alertaid.in",
		smsPayload(SeverityWarning, model.Location{District: "Puri"}, 0.456))
	assert.Equal(t, 160, utf8.RuneCountInString(truncateRunes(strings.Repeat("é", 200), SMSMaxLength)))
}

func TestEngine_AcknowledgeAndClear(t *testing.T) {
	clock := newStepClock()
	e := NewEngine(WithClock(clock.Now))
	a := e.Generate(criticalScenario.request(kamrup))

	_, ok := e.Acknowledge("ALERT-missing")
	assert.False(t, ok)
	_, ok = e.Clear("ALERT-missing")
	assert.False(t, ok)

	acked, ok := e.Acknowledge(a.AlertID)
	require.True(t, ok)
	assert.True(t, acked.Acknowledged)
	require.NotNil(t, acked.AcknowledgedAt)

	current, ok := e.ActiveFor(kamrup.Key())
	require.True(t, ok)
	assert.True(t, current.Acknowledged)

	cleared, ok := e.Clear(a.AlertID)
	require.True(t, ok)
	assert.Equal(t, StatusCleared, cleared.Status)
	require.NotNil(t, cleared.ClearedAt)
	assert.Empty(t, e.Active())

	_, ok = e.Clear(a.AlertID)
	assert.False(t, ok)

	// a fresh alert after a clear starts a new escalation chain
	next := e.Generate(watchScenario.request(kamrup))
	assert.Equal(t, EscalationNew, next.Escalation.Type)
}

func TestEngine_ReturnedAlertIsACopy(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))
	a := e.Generate(watchScenario.request(kamrup))
	a.Severity = SeverityCritical

	current, _ := e.ActiveFor(kamrup.Key())
	assert.Equal(t, SeverityWatch, current.Severity)
}

func TestEngine_ActiveNearUsesDegreeDistance(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))
	e.Generate(watchScenario.request(model.Location{Latitude: 26.0, Longitude: 91.0, District: "A"}))
	e.Generate(watchScenario.request(model.Location{Latitude: 26.4, Longitude: 91.0, District: "B"}))
	e.Generate(watchScenario.request(model.Location{Latitude: 26.0, Longitude: 92.0, District: "C"}))

	near := e.ActiveNear(model.LatLon{Latitude: 26.1, Longitude: 91.1})
	require.Len(t, near, 2)
	assert.Equal(t, "A", near[0].Location.District)
	assert.Equal(t, "B", near[1].Location.District)

	// A is exactly 0.5 raw degrees away, which falls outside the radius at any latitude
	assert.Empty(t, e.ActiveNear(model.LatLon{Latitude: 25.5, Longitude: 91.0}))

	assert.Len(t, e.Active(), 3)
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now), WithHistorySize(3))
	var ids []string
	for i := 0; i < 5; i++ {
		loc := model.Location{Latitude: float64(i), Longitude: 0, District: fmt.Sprintf("D%d", i)}
		ids = append(ids, e.Generate(watchScenario.request(loc)).AlertID)
	}

	hist := e.History()
	require.Len(t, hist, 3)
	assert.Equal(t, ids[2], hist[0].AlertID)
	assert.Equal(t, ids[4], hist[2].AlertID)
	assert.Equal(t, EngineStatus{ActiveAlerts: 5, HistorySize: 3, Thresholds: DefaultThresholds()}, e.Status())
}

func TestEngine_Restore(t *testing.T) {
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	older := Alert{AlertID: "ALERT-1", Timestamp: base, Severity: SeverityWatch, Status: StatusActive, Location: AlertLocation{Latitude: 26.14, Longitude: 91.73}}
	newer := Alert{AlertID: "ALERT-2", Timestamp: base.Add(time.Minute), Severity: SeveritySevere, Status: StatusActive, Location: AlertLocation{Latitude: 26.14, Longitude: 91.73}}
	cleared := Alert{AlertID: "ALERT-3", Timestamp: base, Status: StatusCleared, Location: AlertLocation{Latitude: 1, Longitude: 1}}

	e := NewEngine(WithClock(newStepClock().Now))
	assert.Equal(t, 1, e.Restore([]Alert{newer, older, cleared}))

	a := e.Generate(watchScenario.request(kamrup))
	assert.Equal(t, EscalationDeescalated, a.Escalation.Type)
	assert.Equal(t, SeveritySevere, a.Escalation.From)
	assert.Equal(t, "ALERT-2", a.Escalation.PreviousAlertID)

	assert.Equal(t, 0, e.Restore([]Alert{older}))
}

func TestEngine_ConcurrentGenerateSerializesEscalation(t *testing.T) {
	e := NewEngine()
	results := make(chan *Alert, 40)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Generate(criticalScenario.request(kamrup))
		}()
	}
	wg.Wait()
	close(results)

	counts := map[EscalationType]int{}
	for a := range results {
		counts[a.Escalation.Type]++
	}
	assert.Equal(t, 1, counts[EscalationNew])
	assert.Equal(t, 39, counts[EscalationMaintained])
	assert.Len(t, e.Active(), 1)
}

// run with -race: Generate copies the registered alert while Acknowledge
// mutates it from another goroutine
func TestEngine_GenerateRacesAcknowledge(t *testing.T) {
	e := NewEngine(WithClock(newStepClock().Now))
	first := e.Generate(watchScenario.request(kamrup))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Generate(watchScenario.request(kamrup))
		}
	}()
	go func() {
		defer wg.Done()
		id := first.AlertID
		for i := 0; i < 500; i++ {
			if active := e.Active(); len(active) > 0 {
				id = active[0].AlertID
			}
			e.Acknowledge(id)
		}
	}()
	wg.Wait()

	assert.Len(t, e.Active(), 1)
}

func TestEngine_SameSecondIdsAcrossLocations(t *testing.T) {
	fixed := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	e := NewEngine(WithClock(func() time.Time { return fixed }))

	upstream := model.Location{Latitude: 26.14, Longitude: 91.73, District: "Kamrup"}
	downstream := model.Location{Latitude: 26.30, Longitude: 91.60, District: "Kamrup"}
	a := e.Generate(watchScenario.request(upstream))
	b := e.Generate(watchScenario.request(downstream))
	require.Equal(t, a.AlertID, b.AlertID)

	// ClearAt only touches the named location
	_, ok := e.ClearAt(downstream.Key(), "ALERT-other-KAM")
	assert.False(t, ok)
	cleared, ok := e.ClearAt(downstream.Key(), b.AlertID)
	require.True(t, ok)
	assert.Equal(t, downstream.Key(), cleared.Location.Key())
	_, stillActive := e.ActiveFor(upstream.Key())
	assert.True(t, stillActive)

	// an id-only clear takes the first match in registry order
	b = e.Generate(watchScenario.request(downstream))
	cleared, ok = e.Clear(b.AlertID)
	require.True(t, ok)
	assert.Equal(t, upstream.Key(), cleared.Location.Key())
	_, stillActive = e.ActiveFor(downstream.Key())
	assert.True(t, stillActive)
}

func TestClassifySeverity(t *testing.T) {
	cases := []struct {
		score float64
		count int
		want  Severity
	}{
		{1.0, 4, SeverityCritical},
		{0.75, 3, SeverityCritical},
		{0.75, 2, SeveritySevere},
		{0.6, 1, SeveritySevere},
		{0.55, 3, SeveritySevere},
		{0.5, 2, SeverityWarning},
		{0.4, 1, SeverityWarning},
		{0.1, 2, SeverityWarning},
		{0.2, 0, SeverityWatch},
		{0.15, 1, SeverityWatch},
		{0.19, 0, SeverityInfo},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifySeverity(tc.score, tc.count), "score %v count %d", tc.score, tc.count)
	}

	// monotonic in the score for a fixed condition count
	prev := -1
	for s := 0.0; s <= 1.0; s += 0.05 {
		r := ClassifySeverity(s, 3).Rank()
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func TestSeverityOrder(t *testing.T) {
	for i := 1; i < len(severityOrder); i++ {
		assert.Equal(t, 1, severityOrder[i].Compare(severityOrder[i-1]))
		assert.Equal(t, -1, severityOrder[i-1].Compare(severityOrder[i]))
	}
	assert.Equal(t, 0, SeveritySevere.Compare(SeveritySevere))
	assert.Equal(t, -1, Severity("extreme").Rank())

	var s Severity
	assert.Error(t, s.UnmarshalText([]byte("extreme")))
	require.NoError(t, s.UnmarshalText([]byte("severe")))
	assert.Equal(t, SeveritySevere, s)
}
