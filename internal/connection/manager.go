package connection

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/floodwatch/internal/model"
)

// Station holds information about a connected field station
type Station struct {
	ConnectionID  string
	StationID     string
	Location      model.Location
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Observations  int64
	Conn          net.Conn
	mu            sync.RWMutex
}

// LocationKey is the alert registry key of the station's location
func (s *Station) LocationKey() string {
	return s.Location.Key()
}

// Touch records activity. Observations are counted separately from
// keepalives.
func (s *Station) Touch(observation bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastHeardFrom = time.Now()
	if observation {
		s.Observations++
	}
}

// GetLastHeardFrom returns the last activity timestamp
func (s *Station) GetLastHeardFrom() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastHeardFrom
}

// ObservationCount returns the number of observations received
func (s *Station) ObservationCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Observations
}

// Manager tracks connected stations by connection id, station id and
// location key
type Manager struct {
	stations   map[string]*Station // key: connection_id
	byStation  map[string]string   // key: station_id, value: connection_id
	byLocation map[string][]string // key: location key, value: []connection_id
	mu         sync.RWMutex
	maxConns   int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		stations:   make(map[string]*Station),
		byStation:  make(map[string]string),
		byLocation: make(map[string][]string),
		maxConns:   maxConnections,
	}
}

// Register adds a station connection. A station id may only be connected
// once at a time.
func (m *Manager) Register(connectionID, stationID string, loc model.Location, conn net.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stations) >= m.maxConns {
		return ErrMaxConnectionsReached
	}
	if _, exists := m.stations[connectionID]; exists {
		return fmt.Errorf("connection ID %s already registered", connectionID)
	}
	if other, exists := m.byStation[stationID]; exists {
		return fmt.Errorf("station %s: %w (connection %s)", stationID, ErrStationConnected, other)
	}

	now := time.Now()
	st := &Station{
		ConnectionID:  connectionID,
		StationID:     stationID,
		Location:      loc,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}

	key := st.LocationKey()
	m.stations[connectionID] = st
	m.byStation[stationID] = connectionID
	m.byLocation[key] = append(m.byLocation[key], connectionID)

	return nil
}

// Unregister removes a station connection
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, exists := m.stations[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	key := st.LocationKey()
	if connIDs, ok := m.byLocation[key]; ok {
		for i, id := range connIDs {
			if id == connectionID {
				m.byLocation[key] = append(connIDs[:i], connIDs[i+1:]...)
				break
			}
		}
		if len(m.byLocation[key]) == 0 {
			delete(m.byLocation, key)
		}
	}

	delete(m.byStation, st.StationID)
	delete(m.stations, connectionID)

	return nil
}

// Get retrieves a station by connection ID
func (m *Manager) Get(connectionID string) (*Station, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, exists := m.stations[connectionID]
	return st, exists
}

// GetByStationID retrieves a station by its station id
func (m *Manager) GetByStationID(stationID string) (*Station, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connID, ok := m.byStation[stationID]
	if !ok {
		return nil, false
	}
	return m.stations[connID], true
}

// GetByLocation returns the connection IDs reporting for a location key
func (m *Manager) GetByLocation(locationKey string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := m.byLocation[locationKey]
	result := make([]string, len(connIDs))
	copy(result, connIDs)
	return result
}

// UpdateActivity records activity on a connection
func (m *Manager) UpdateActivity(connectionID string, observation bool) error {
	m.mu.RLock()
	st, exists := m.stations[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	st.Touch(observation)
	return nil
}

// GetInactiveConnections returns connection IDs not heard from within
// timeout, sorted
func (m *Manager) GetInactiveConnections(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string
	for connID, st := range m.stations {
		if now.Sub(st.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, connID)
		}
	}
	sort.Strings(inactive)
	return inactive
}

// Count returns the number of connected stations
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stations)
}

// CountByLocation returns the number of stations per location key
func (m *Manager) CountByLocation() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int, len(m.byLocation))
	for key, connIDs := range m.byLocation {
		result[key] = len(connIDs)
	}
	return result
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.stations),
		UniqueLocations:  len(m.byLocation),
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int
	UniqueLocations  int
	MaxConnections   int
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
	ErrStationConnected      = &ConnectionError{"station already connected"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
