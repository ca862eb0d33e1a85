package database

import (
	"time"
)

// Station represents a registered field station
type Station struct {
	StationID   string
	LocationKey string
	Latitude    float64
	Longitude   float64
	District    *string
	State       *string
	RegionType  string
	NearRiver   bool
	LastSeenAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AlertLog represents one alert in the durable audit log
type AlertLog struct {
	ID               int64
	AlertID          string
	EvaluationID     string
	LocationKey      string
	Severity         string
	AlertType        string
	EscalationType   string
	PreviousAlertID  *string
	FloodProbability float64
	Confidence       float64
	AnomalyScore     float64
	ConditionsMet    int
	SMSPayload       string
	Payload          string // JSON
	Status           string
	Acknowledged     bool
	RaisedAt         time.Time
	ExpiresAt        time.Time
	AcknowledgedAt   *time.Time
	ClearedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	AlertStatusActive  = "ACTIVE"
	AlertStatusCleared = "CLEARED"
)
