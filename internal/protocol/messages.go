package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/floodwatch/internal/anomaly"
	"github.com/smukkama/floodwatch/internal/model"
)

// MessageType represents the type of message
type MessageType string

const (
	// Station to gateway
	MsgTypeIdentify    MessageType = "identify"
	MsgTypeObservation MessageType = "observation"
	MsgTypeKeepalive   MessageType = "keepalive"
	MsgTypeAcknowledge MessageType = "acknowledge"
	MsgTypeClear       MessageType = "clear"

	// Gateway to station
	MsgTypeAck MessageType = "ack"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by the station on connection
type IdentifyMessage struct {
	Type      MessageType    `json:"type"`
	StationID string         `json:"station_id"`
	Location  model.Location `json:"location"`
}

// ObservationData is one observation bundle from a station
type ObservationData struct {
	Timestamp  string                  `json:"timestamp"`
	Weather    model.Weather           `json:"weather"`
	Forecast   model.Forecast          `json:"forecast"`
	Upstream   []model.UpstreamStation `json:"upstream,omitempty"`
	Readings   anomaly.CurrentReadings `json:"readings"`
	TimeSeries *anomaly.TimeSeries     `json:"time_series,omitempty"`
	History    *model.FloodHistory     `json:"history,omitempty"`
}

// ObservationMessage is sent by the station on every reporting interval
type ObservationMessage struct {
	Type MessageType     `json:"type"`
	Data ObservationData `json:"data"`
}

// KeepaliveMessage is sent by the station between observations
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AlertActionMessage acknowledges or clears an active alert
type AlertActionMessage struct {
	Type    MessageType `json:"type"`
	AlertID string      `json:"alert_id"`
}

// AckMessage is sent by the gateway in response to messages
type AckMessage struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAlive      = "alive"
	AckStatusAccepted   = "accepted"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if err := validateIdentify(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeObservation:
		var msg ObservationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid observation message: %w", err)
		}
		if err := validateObservation(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid keepalive message: %w", err)
		}
		return &msg, nil

	case MsgTypeAcknowledge, MsgTypeClear:
		var msg AlertActionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
		}
		if msg.AlertID == "" {
			return nil, fmt.Errorf("alert_id is required")
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// validateIdentify validates an identify message
func validateIdentify(msg *IdentifyMessage) error {
	if msg.StationID == "" {
		return fmt.Errorf("station_id is required")
	}
	if lat := msg.Location.Latitude; lat < -90 || lat > 90 {
		return fmt.Errorf("latitude out of range: %v", lat)
	}
	if lon := msg.Location.Longitude; lon < -180 || lon > 180 {
		return fmt.Errorf("longitude out of range: %v", lon)
	}
	return nil
}

// validateObservation validates an observation message
func validateObservation(msg *ObservationMessage) error {
	if msg.Data.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, msg.Data.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
	}
	return nil
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}

// NewErrorAck creates an error acknowledgment carrying the reason
func NewErrorAck(reason string) *AckMessage {
	return &AckMessage{
		Type:    MsgTypeAck,
		Status:  AckStatusError,
		Message: reason,
	}
}
