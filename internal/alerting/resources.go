package alerting

import "github.com/smukkama/floodwatch/internal/model"

// Coordinates is a lat/lon pair in the short form used by resources
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Shelter is an evacuation center
type Shelter struct {
	Name        string      `json:"name"`
	DistanceKm  float64     `json:"distance_km"`
	Capacity    int         `json:"capacity"`
	Coordinates Coordinates `json:"coordinates"`
}

// SafeZone is high ground near the location
type SafeZone struct {
	Name        string      `json:"name"`
	ElevationM  float64     `json:"elevation_m"`
	DistanceKm  float64     `json:"distance_km"`
	Coordinates Coordinates `json:"coordinates"`
}

// Contacts are the emergency numbers for a location
type Contacts struct {
	NationalDisasterResponse string `json:"national_disaster_response"`
	FloodControlRoom         string `json:"flood_control_room"`
	Police                   string `json:"police"`
	Ambulance                string `json:"ambulance"`
	Fire                     string `json:"fire"`
	DistrictCollector        string `json:"district_collector"`
}

// Resources is the resource block attached to every alert
type Resources struct {
	EvacuationCenters []Shelter  `json:"evacuation_centers"`
	EmergencyContacts Contacts   `json:"emergency_contacts"`
	SafeZones         []SafeZone `json:"safe_zones"`
}

// ResourceDirectory looks up the emergency resources for a location
type ResourceDirectory interface {
	Shelters(loc model.Location) []Shelter
	SafeZones(loc model.Location) []SafeZone
	Contacts(loc model.Location) Contacts
}

// StaticDirectory serves fixed resources placed at offsets around the
// location. It is the default directory of the engine.
type StaticDirectory struct{}

func (StaticDirectory) Shelters(loc model.Location) []Shelter {
	lat, lon := loc.Latitude, loc.Longitude
	return []Shelter{
		{Name: "Government School - Emergency Shelter", DistanceKm: 2.5, Capacity: 500, Coordinates: Coordinates{lat + 0.02, lon + 0.01}},
		{Name: "Community Center", DistanceKm: 4.1, Capacity: 300, Coordinates: Coordinates{lat - 0.03, lon + 0.02}},
		{Name: "Sports Stadium - Mass Shelter", DistanceKm: 6.8, Capacity: 2000, Coordinates: Coordinates{lat + 0.05, lon - 0.03}},
	}
}

func (StaticDirectory) SafeZones(loc model.Location) []SafeZone {
	lat, lon := loc.Latitude, loc.Longitude
	return []SafeZone{
		{Name: "Higher Elevation Area - North", ElevationM: 250, DistanceKm: 3.2, Coordinates: Coordinates{lat + 0.025, lon}},
		{Name: "Ridge Area - West", ElevationM: 280, DistanceKm: 5.5, Coordinates: Coordinates{lat, lon - 0.04}},
	}
}

func (StaticDirectory) Contacts(loc model.Location) Contacts {
	collector := loc.EmergencyContact
	if collector == "" {
		collector = "N/A"
	}
	return Contacts{
		NationalDisasterResponse: "1078",
		FloodControlRoom:         "1800-180-1551",
		Police:                   "100",
		Ambulance:                "102",
		Fire:                     "101",
		DistrictCollector:        collector,
	}
}

func lookupResources(dir ResourceDirectory, loc model.Location) Resources {
	return Resources{
		EvacuationCenters: dir.Shelters(loc),
		EmergencyContacts: dir.Contacts(loc),
		SafeZones:         dir.SafeZones(loc),
	}
}
