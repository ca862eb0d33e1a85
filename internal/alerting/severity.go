package alerting

import "fmt"

// Severity is the alert severity. Severities are totally ordered:
// info < watch < warning < severe < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWatch    Severity = "watch"
	SeverityWarning  Severity = "warning"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{
	SeverityInfo,
	SeverityWatch,
	SeverityWarning,
	SeveritySevere,
	SeverityCritical,
}

// Rank returns the position of the severity in the total order, or -1
// for an unknown value.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Compare returns -1, 0 or +1 as s is below, equal to or above o
func (s Severity) Compare(o Severity) int {
	a, b := s.Rank(), o.Rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// UnmarshalText rejects unknown severities
func (s *Severity) UnmarshalText(text []byte) error {
	v := Severity(text)
	if !v.Valid() {
		return fmt.Errorf("unknown severity %q", string(text))
	}
	*s = v
	return nil
}

// Type is the hazard an alert describes
type Type string

const (
	TypeFlood         Type = "flood"
	TypeFlashFlood    Type = "flash_flood"
	TypeRiverOverflow Type = "river_overflow"
	TypeStorm         Type = "storm"
	TypeHeavyRainfall Type = "heavy_rainfall"
	TypeWaterLevel    Type = "water_level"
	TypeEvacuation    Type = "evacuation"
	TypeAllClear      Type = "all_clear"
)

// Status is the lifecycle state of an alert
type Status string

const (
	StatusActive  Status = "active"
	StatusCleared Status = "cleared"
)

// EscalationType describes how an alert relates to the previous alert
// at the same location.
type EscalationType string

const (
	EscalationNew         EscalationType = "new"
	EscalationEscalated   EscalationType = "escalated"
	EscalationDeescalated EscalationType = "de-escalated"
	EscalationMaintained  EscalationType = "maintained"
)
