// Package pipeline runs the flood hazard chain for each station
// observation: ensemble prediction, anomaly detection and alert
// generation, followed by mirroring, expiry scheduling and publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/alerting"
	"github.com/smukkama/floodwatch/internal/anomaly"
	"github.com/smukkama/floodwatch/internal/ensemble"
	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/internal/queue"
)

// ErrAlertNotFound is returned when no active alert has the given id
var ErrAlertNotFound = errors.New("alert not found")

const expiryTimeout = 10 * time.Second

// Mirror is durable storage of the active alert registry
type Mirror interface {
	Save(ctx context.Context, a alerting.Alert) error
	Delete(ctx context.Context, locationKey string) error
	LoadAll(ctx context.Context) ([]alerting.Alert, error)
}

// Scheduler runs a callback at a deadline
type Scheduler interface {
	Schedule(id string, deadline time.Time, callback func(id string)) error
	Cancel(id string) bool
}

// Evaluation is the outcome of one observation
type Evaluation struct {
	ID         string
	Prediction *ensemble.Prediction
	Anomaly    *anomaly.Result
	Alert      *alerting.Alert
}

// Status is a snapshot of the evaluator state
type Status struct {
	Weights   ensemble.Weights      `json:"weights"`
	Engine    alerting.EngineStatus `json:"engine"`
	Locations int                   `json:"locations"`
	Evaluated uint64                `json:"evaluated"`
}

// Evaluator owns the predictor and the alert engine. Anomaly detectors
// are kept per location key so each location has its own trend history.
type Evaluator struct {
	predictor    *ensemble.Predictor
	engine       *alerting.Engine
	publisher    queue.Publisher
	mirror       Mirror
	scheduler    Scheduler
	logger       *zap.Logger
	newID        func() string
	detectorOpts []anomaly.Option

	mu        sync.Mutex
	detectors map[string]*anomaly.Detector
	evaluated uint64
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithMirror mirrors every alert change to m
func WithMirror(m Mirror) Option {
	return func(e *Evaluator) { e.mirror = m }
}

// WithScheduler clears alerts automatically at their expiry
func WithScheduler(s Scheduler) Option {
	return func(e *Evaluator) { e.scheduler = s }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithIDGenerator sets the evaluation id source
func WithIDGenerator(f func() string) Option {
	return func(e *Evaluator) { e.newID = f }
}

// WithDetectorOptions configures every per-location detector
func WithDetectorOptions(opts ...anomaly.Option) Option {
	return func(e *Evaluator) { e.detectorOpts = opts }
}

// NewEvaluator creates an evaluator publishing notifications to publisher
func NewEvaluator(predictor *ensemble.Predictor, engine *alerting.Engine, publisher queue.Publisher, opts ...Option) *Evaluator {
	e := &Evaluator{
		predictor: predictor,
		engine:    engine,
		publisher: publisher,
		logger:    zap.NewNop(),
		newID:     func() string { return uuid.New().String() },
		detectors: make(map[string]*anomaly.Detector),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) detectorFor(key string) *anomaly.Detector {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.detectors[key]
	if !ok {
		d = anomaly.NewDetector(e.detectorOpts...)
		e.detectors[key] = d
	}
	return d
}

// Evaluate runs one observation through the chain and publishes the
// resulting alert
func (e *Evaluator) Evaluate(ctx context.Context, env *protocol.ObservationEnvelope) (*Evaluation, error) {
	key := env.Key()
	data := env.Data

	prediction := e.predictor.Predict(ensemble.Input{
		Location: env.Location,
		Weather:  data.Weather,
		History:  data.History,
		Upstream: data.Upstream,
	})
	anom := e.detectorFor(key).Detect(data.Readings, data.TimeSeries)

	alert := e.engine.Generate(alerting.Request{
		Location:   env.Location,
		Prediction: prediction,
		Anomaly:    anom,
		Forecast:   data.Forecast,
	})

	ev := &Evaluation{
		ID:         e.newID(),
		Prediction: prediction,
		Anomaly:    anom,
		Alert:      alert,
	}

	e.mu.Lock()
	e.evaluated++
	e.mu.Unlock()

	log := e.logger.With(
		zap.String("evaluation_id", ev.ID),
		zap.String("location_key", key),
		zap.String("station_id", env.StationID))

	e.mirrorSave(ctx, *alert, log)
	e.scheduleExpiry(*alert, log)

	log.Info("observation evaluated",
		zap.Float64("flood_probability", prediction.Ensemble.FloodProbability),
		zap.String("risk_level", string(prediction.Ensemble.RiskLevel)),
		zap.Float64("anomaly_score", anom.CombinedAnomalyScore),
		zap.String("alert_level", string(anom.AlertLevel)),
		zap.String("severity", string(alert.Severity)),
		zap.String("escalation", string(alert.Escalation.Type)))

	if err := e.publish(ctx, protocol.AlertTypeRaised, ev.ID, env.StationID, *alert); err != nil {
		return ev, err
	}
	return ev, nil
}

// Acknowledge marks an active alert acknowledged and publishes the change
func (e *Evaluator) Acknowledge(ctx context.Context, alertID, stationID string) (alerting.Alert, error) {
	a, ok := e.engine.Acknowledge(alertID)
	if !ok {
		return alerting.Alert{}, fmt.Errorf("acknowledge %s: %w", alertID, ErrAlertNotFound)
	}

	log := e.logger.With(zap.String("alert_id", alertID), zap.String("location_key", a.Location.Key()))
	e.mirrorSave(ctx, a, log)
	log.Info("alert acknowledged", zap.String("station_id", stationID))

	return a, e.publish(ctx, protocol.AlertTypeAcknowledged, e.newID(), stationID, a)
}

// Clear removes an active alert and publishes the change
func (e *Evaluator) Clear(ctx context.Context, alertID, stationID string) (alerting.Alert, error) {
	a, ok := e.engine.Clear(alertID)
	if !ok {
		return alerting.Alert{}, fmt.Errorf("clear %s: %w", alertID, ErrAlertNotFound)
	}
	return a, e.cleared(ctx, a, stationID)
}

// cleared releases the timer and mirror entry of a cleared alert and
// publishes the change
func (e *Evaluator) cleared(ctx context.Context, a alerting.Alert, stationID string) error {
	key := a.Location.Key()
	if e.scheduler != nil {
		e.scheduler.Cancel(expiryTimerID(key))
	}
	if e.mirror != nil {
		if err := e.mirror.Delete(ctx, key); err != nil {
			e.logger.Warn("failed to delete mirrored alert", zap.String("location_key", key), zap.Error(err))
		}
	}

	return e.publish(ctx, protocol.AlertTypeCleared, e.newID(), stationID, a)
}

// ApplyCommand executes an alert command received from a station
func (e *Evaluator) ApplyCommand(ctx context.Context, cmd *protocol.AlertCommand) error {
	var err error
	switch cmd.Action {
	case protocol.CommandAcknowledge:
		_, err = e.Acknowledge(ctx, cmd.AlertID, cmd.StationID)
	case protocol.CommandClear:
		_, err = e.Clear(ctx, cmd.AlertID, cmd.StationID)
	default:
		return fmt.Errorf("unknown alert command: %s", cmd.Action)
	}
	return err
}

// Restore reloads the registry from the mirror and schedules the expiry
// of every restored alert. It returns the number of alerts restored.
func (e *Evaluator) Restore(ctx context.Context) (int, error) {
	if e.mirror == nil {
		return 0, nil
	}

	alerts, err := e.mirror.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load mirrored alerts: %w", err)
	}

	n := e.engine.Restore(alerts)
	for _, a := range e.engine.Active() {
		e.scheduleExpiry(a, e.logger)
	}
	return n, nil
}

// Status returns a snapshot of the evaluator state
func (e *Evaluator) Status() Status {
	e.mu.Lock()
	locations, evaluated := len(e.detectors), e.evaluated
	e.mu.Unlock()

	return Status{
		Weights:   e.predictor.Weights(),
		Engine:    e.engine.Status(),
		Locations: locations,
		Evaluated: evaluated,
	}
}

// expire clears the alert at a location key if it is still the one the
// timer was scheduled for
func (e *Evaluator) expire(locationKey, alertID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	a, ok := e.engine.ClearAt(locationKey, alertID)
	if !ok {
		return
	}
	if err := e.cleared(ctx, a, ""); err != nil {
		e.logger.Error("failed to publish expired alert", zap.String("alert_id", alertID), zap.Error(err))
		return
	}
	e.logger.Info("alert expired", zap.String("alert_id", alertID), zap.String("location_key", locationKey))
}

func expiryTimerID(locationKey string) string {
	return "expiry-" + locationKey
}

// scheduleExpiry replaces the expiry timer of the alert's location
func (e *Evaluator) scheduleExpiry(a alerting.Alert, log *zap.Logger) {
	if e.scheduler == nil {
		return
	}
	key, alertID := a.Location.Key(), a.AlertID
	err := e.scheduler.Schedule(expiryTimerID(key), a.Expires, func(string) {
		e.expire(key, alertID)
	})
	if err != nil {
		log.Warn("failed to schedule alert expiry", zap.Error(err))
	}
}

func (e *Evaluator) mirrorSave(ctx context.Context, a alerting.Alert, log *zap.Logger) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.Save(ctx, a); err != nil {
		log.Warn("failed to mirror alert", zap.Error(err))
	}
}

func (e *Evaluator) publish(ctx context.Context, typ, evaluationID, stationID string, a alerting.Alert) error {
	n := &protocol.AlertNotification{
		Type:         typ,
		EvaluationID: evaluationID,
		LocationKey:  a.Location.Key(),
		StationID:    stationID,
		Alert:        a,
	}

	data, err := protocol.EncodeAlertNotification(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := e.publisher.Publish(ctx, n.LocationKey, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", typ, err)
	}
	return nil
}
