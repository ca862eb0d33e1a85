package anomaly

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reading is a sensor value that is either a single scalar or an hourly
// series (most recent last). The zero Reading is unset.
type Reading struct {
	value  float64
	series []float64
	kind   readingKind
}

type readingKind uint8

const (
	readingUnset readingKind = iota
	readingScalar
	readingSeries
)

// Scalar builds a single-value reading
func Scalar(v float64) Reading {
	return Reading{value: v, kind: readingScalar}
}

// Series builds a series reading
func Series(values ...float64) Reading {
	return Reading{series: values, kind: readingSeries}
}

// IsSet reports whether the reading carries any value
func (r Reading) IsSet() bool { return r.kind != readingUnset }

// IsSeries reports whether the reading is a series
func (r Reading) IsSeries() bool { return r.kind == readingSeries }

// Value returns the scalar value
func (r Reading) Value() float64 { return r.value }

// Values returns the series values
func (r Reading) Values() []float64 { return r.series }

// MarshalJSON encodes a scalar as a number and a series as an array
func (r Reading) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case readingScalar:
		return json.Marshal(r.value)
	case readingSeries:
		if r.series == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.series)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number, an array of numbers or null
func (r *Reading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = Reading{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var values []float64
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode series reading: %w", err)
		}
		if values == nil {
			values = []float64{}
		}
		*r = Series(values...)
		return nil
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode scalar reading: %w", err)
		}
		*r = Scalar(v)
		return nil
	}
}

// CurrentReadings are the latest sensor readings scored against the baselines
type CurrentReadings struct {
	RainfallHourly Reading `json:"rainfall_hourly"`
	Discharge      Reading `json:"discharge"`
	WaterLevel     Reading `json:"water_level"`
	Humidity       Reading `json:"humidity"`
	PressureChange Reading `json:"pressure_change"`
}

func (c CurrentReadings) byFeature(name string) Reading {
	switch name {
	case FeatureRainfallHourly:
		return c.RainfallHourly
	case FeatureDischarge:
		return c.Discharge
	case FeatureWaterLevel:
		return c.WaterLevel
	case FeatureHumidity:
		return c.Humidity
	case FeaturePressureChange:
		return c.PressureChange
	}
	return Reading{}
}

// TimeSeries holds the recent hourly series. Rainfall, Humidity and
// Pressure are matched against the canonical weather patterns;
// RainfallHourly only drives the rainfall surge check.
type TimeSeries struct {
	Rainfall       []float64 `json:"rainfall,omitempty"`
	RainfallHourly []float64 `json:"rainfall_hourly,omitempty"`
	Humidity       []float64 `json:"humidity,omitempty"`
	Pressure       []float64 `json:"pressure,omitempty"`
}

// IsEmpty reports whether no series carries any value
func (ts *TimeSeries) IsEmpty() bool {
	return ts == nil ||
		len(ts.Rainfall) == 0 && len(ts.RainfallHourly) == 0 && len(ts.Humidity) == 0 && len(ts.Pressure) == 0
}

// patternInputs maps the series onto the pattern feature names, skipping
// empty ones.
func (ts TimeSeries) patternInputs() []namedSeries {
	var out []namedSeries
	for _, s := range []namedSeries{
		{PatternFeatureRainfall, ts.Rainfall},
		{PatternFeatureHumidity, ts.Humidity},
		{PatternFeaturePressure, ts.Pressure},
	} {
		if len(s.values) > 0 {
			out = append(out, s)
		}
	}
	return out
}

type namedSeries struct {
	name   string
	values []float64
}
