package model

import (
	"fmt"
	"math"
)

// RegionType drives the regional calibration of the alerting thresholds
type RegionType string

const (
	RegionDefault  RegionType = "default"
	RegionCoastal  RegionType = "coastal"
	RegionRiverine RegionType = "riverine"
	RegionUrban    RegionType = "urban"
	RegionHilly    RegionType = "hilly"
)

// Defaults applied when a location omits a terrain attribute
const (
	DefaultElevation        = 100.0
	DefaultSlope            = 5.0
	DefaultDistanceToRiver  = 1000.0
	DefaultDrainageDensity  = 0.5
	DefaultUrbanization     = 0.3
	DefaultFloodFrequency   = 0.1
	DefaultUpstreamDistance = 50.0
)

// Location describes the point an evaluation is made for. Optional
// numeric attributes are pointers; nil selects the documented default.
type Location struct {
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	Elevation        *float64   `json:"elevation,omitempty"`
	Slope            *float64   `json:"slope,omitempty"`
	District         string     `json:"district,omitempty"`
	State            string     `json:"state,omitempty"`
	RegionType       RegionType `json:"region_type,omitempty"`
	NearRiver        bool       `json:"near_river"`
	DistanceToRiver  *float64   `json:"distance_to_river,omitempty"`
	DrainageDensity  *float64   `json:"drainage_density,omitempty"`
	Urbanization     *float64   `json:"urbanization,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`
}

func (l Location) ElevationOrDefault() float64 { return valueOr(l.Elevation, DefaultElevation) }
func (l Location) SlopeOrDefault() float64     { return valueOr(l.Slope, DefaultSlope) }

func (l Location) DistanceToRiverOrDefault() float64 {
	return valueOr(l.DistanceToRiver, DefaultDistanceToRiver)
}

func (l Location) DrainageDensityOrDefault() float64 {
	return valueOr(l.DrainageDensity, DefaultDrainageDensity)
}

func (l Location) UrbanizationOrDefault() float64 {
	return valueOr(l.Urbanization, DefaultUrbanization)
}

// Region returns the region type, falling back to RegionDefault
func (l Location) Region() RegionType {
	if l.RegionType == "" {
		return RegionDefault
	}
	return l.RegionType
}

// Key returns the registry key for the location: both coordinates
// formatted to two decimals.
func (l Location) Key() string {
	return LocationKey(l.Latitude, l.Longitude)
}

// Point returns the coordinates of the location
func (l Location) Point() LatLon {
	return LatLon{Latitude: l.Latitude, Longitude: l.Longitude}
}

// LocationKey formats a coordinate pair as "lat_lon" with two decimals
func LocationKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f_%.2f", lat, lon)
}

// LatLon is a bare coordinate pair
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DegreeDistance is the planar distance between two points measured in
// raw degrees. It is not a geodesic distance.
func (p LatLon) DegreeDistance(o LatLon) float64 {
	dLat := p.Latitude - o.Latitude
	dLon := p.Longitude - o.Longitude
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// Float returns a pointer to v, for populating optional fields
func Float(v float64) *float64 {
	return &v
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
