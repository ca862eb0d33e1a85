package model

// Weather holds the hourly series for a location, most recent last.
// Series may be shorter than the estimators' lookback windows.
type Weather struct {
	RainfallHourly  []float64 `json:"rainfall_hourly,omitempty"`
	DischargeHourly []float64 `json:"discharge_hourly,omitempty"`
	HumidityHourly  []float64 `json:"humidity_hourly,omitempty"`
	SoilMoisture    *float64  `json:"soil_moisture,omitempty"`
}

// DefaultSoilMoisture is used when no soil moisture reading is supplied
const DefaultSoilMoisture = 50.0

// SoilMoistureOrDefault returns the soil moisture reading or the default
func (w Weather) SoilMoistureOrDefault() float64 {
	return valueOr(w.SoilMoisture, DefaultSoilMoisture)
}

// HasSoilMoisture reports whether a non-zero soil moisture reading was supplied
func (w Weather) HasSoilMoisture() bool {
	return w.SoilMoisture != nil && *w.SoilMoisture != 0
}

// Forecast summarises the externally derived rainfall forecast
type Forecast struct {
	Rainfall24h          float64 `json:"rainfall_24h_forecast"`
	MaxRainfallIntensity float64 `json:"max_rainfall_intensity"`
}

// UpstreamStation is a reading from a gauge upstream of the location
type UpstreamStation struct {
	StationID  string   `json:"station_id,omitempty"`
	FloodRisk  float64  `json:"flood_risk"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// Distance returns the distance to the station, defaulting to 50km
func (s UpstreamStation) Distance() float64 {
	return valueOr(s.DistanceKm, DefaultUpstreamDistance)
}

// FloodHistory carries historical context for a location
type FloodHistory struct {
	FloodFrequency *float64 `json:"flood_frequency,omitempty"`
}

// FloodFrequencyOrDefault returns the historical flood frequency, or the
// default when no history is known.
func (h *FloodHistory) FloodFrequencyOrDefault() float64 {
	if h == nil {
		return DefaultFloodFrequency
	}
	return valueOr(h.FloodFrequency, DefaultFloodFrequency)
}
