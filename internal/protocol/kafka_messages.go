package protocol

import (
	"encoding/json"
	"time"

	"github.com/smukkama/floodwatch/internal/alerting"
	"github.com/smukkama/floodwatch/internal/model"
)

// ObservationEnvelope is the internal format of an observation on Kafka
type ObservationEnvelope struct {
	ConnectionID string          `json:"connection_id"`
	StationID    string          `json:"station_id"`
	ReceivedAt   time.Time       `json:"received_at"`
	Location     model.Location  `json:"location"`
	Data         ObservationData `json:"data"`
}

// Key is the partition key of the envelope
func (e *ObservationEnvelope) Key() string {
	return e.Location.Key()
}

// ObservedAt returns the station timestamp of the observation
func (e *ObservationEnvelope) ObservedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Data.Timestamp)
}

// AlertCommand asks the forecaster to acknowledge or clear an alert
type AlertCommand struct {
	Action    string    `json:"action"`
	AlertID   string    `json:"alert_id"`
	StationID string    `json:"station_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

const (
	CommandAcknowledge = "ACKNOWLEDGE"
	CommandClear       = "CLEAR"
)

// AlertNotification is the message format for alert notifications
type AlertNotification struct {
	Type         string         `json:"type"` // ALERT_RAISED, ALERT_ACKNOWLEDGED, ALERT_CLEARED
	EvaluationID string         `json:"evaluation_id"`
	LocationKey  string         `json:"location_key"`
	StationID    string         `json:"station_id,omitempty"`
	Alert        alerting.Alert `json:"alert"`
}

const (
	AlertTypeRaised       = "ALERT_RAISED"
	AlertTypeAcknowledged = "ALERT_ACKNOWLEDGED"
	AlertTypeCleared      = "ALERT_CLEARED"
)

// EncodeObservation encodes an ObservationEnvelope to JSON
func EncodeObservation(msg *ObservationEnvelope) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeObservation decodes JSON to ObservationEnvelope
func DecodeObservation(data []byte) (*ObservationEnvelope, error) {
	var msg ObservationEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeAlertCommand encodes an AlertCommand to JSON
func EncodeAlertCommand(cmd *AlertCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeAlertCommand decodes JSON to AlertCommand
func DecodeAlertCommand(data []byte) (*AlertCommand, error) {
	var cmd AlertCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
