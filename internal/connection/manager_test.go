package connection

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/smukkama/floodwatch/internal/model"
)

type mockAddr struct{}

func (m *mockAddr) Network() string { return "tcp" }
func (m *mockAddr) String() string  { return "127.0.0.1:0" }

type mockConn struct{}

func (m *mockConn) Read(b []byte) (n int, err error)   { return 0, nil }
func (m *mockConn) Write(b []byte) (n int, err error)  { return len(b), nil }
func (m *mockConn) Close() error                       { return nil }
func (m *mockConn) LocalAddr() net.Addr                { return &mockAddr{} }
func (m *mockConn) RemoteAddr() net.Addr               { return &mockAddr{} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

var (
	guwahati  = model.Location{Latitude: 26.144, Longitude: 91.736, District: "Kamrup"}
	dibrugarh = model.Location{Latitude: 27.472, Longitude: 94.912, District: "Dibrugarh"}
)

func TestManager_Register(t *testing.T) {
	m := NewManager(10)

	if err := m.Register("conn1", "KAM-01", guwahati, &mockConn{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if m.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", m.Count())
	}

	st, exists := m.Get("conn1")
	if !exists {
		t.Fatal("Station not found")
	}
	if st.LocationKey() != "26.14_91.74" {
		t.Errorf("Expected location key 26.14_91.74, got %s", st.LocationKey())
	}

	byID, ok := m.GetByStationID("KAM-01")
	if !ok || byID.ConnectionID != "conn1" {
		t.Errorf("Expected KAM-01 on conn1, got %v", byID)
	}
}

func TestManager_RegisterMaxConnections(t *testing.T) {
	m := NewManager(2)

	m.Register("conn1", "KAM-01", guwahati, &mockConn{})
	m.Register("conn2", "DIB-01", dibrugarh, &mockConn{})

	err := m.Register("conn3", "KAM-02", guwahati, &mockConn{})
	if err != ErrMaxConnectionsReached {
		t.Errorf("Expected ErrMaxConnectionsReached, got %v", err)
	}
}

func TestManager_RegisterDuplicateStation(t *testing.T) {
	m := NewManager(10)

	m.Register("conn1", "KAM-01", guwahati, &mockConn{})
	err := m.Register("conn2", "KAM-01", guwahati, &mockConn{})
	if !errors.Is(err, ErrStationConnected) {
		t.Errorf("Expected ErrStationConnected, got %v", err)
	}

	if err := m.Register("conn1", "KAM-02", guwahati, &mockConn{}); err == nil {
		t.Error("Expected duplicate connection id to fail")
	}
}

func TestManager_Unregister(t *testing.T) {
	m := NewManager(10)

	m.Register("conn1", "KAM-01", guwahati, &mockConn{})
	m.Register("conn2", "KAM-02", guwahati, &mockConn{})

	if err := m.Unregister("conn1"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	if m.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", m.Count())
	}
	if ids := m.GetByLocation("26.14_91.74"); len(ids) != 1 || ids[0] != "conn2" {
		t.Errorf("Expected [conn2] at location, got %v", ids)
	}
	if _, ok := m.GetByStationID("KAM-01"); ok {
		t.Error("KAM-01 should be unregistered")
	}

	// The station may reconnect once released
	if err := m.Register("conn3", "KAM-01", guwahati, &mockConn{}); err != nil {
		t.Errorf("Re-register failed: %v", err)
	}

	if err := m.Unregister("missing"); err == nil {
		t.Error("Expected error for unknown connection")
	}
}

func TestManager_GetByLocation(t *testing.T) {
	m := NewManager(10)

	m.Register("conn1", "KAM-01", guwahati, &mockConn{})
	m.Register("conn2", "KAM-02", guwahati, &mockConn{})
	m.Register("conn3", "DIB-01", dibrugarh, &mockConn{})

	if ids := m.GetByLocation("26.14_91.74"); len(ids) != 2 {
		t.Errorf("Expected 2 connections for Guwahati, got %d", len(ids))
	}
	if ids := m.GetByLocation("27.47_94.91"); len(ids) != 1 {
		t.Errorf("Expected 1 connection for Dibrugarh, got %d", len(ids))
	}

	counts := m.CountByLocation()
	if counts["26.14_91.74"] != 2 || counts["27.47_94.91"] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}

	m.Unregister("conn3")
	if _, ok := m.CountByLocation()["27.47_94.91"]; ok {
		t.Error("Empty location entry should be removed")
	}
}

func TestManager_UpdateActivity(t *testing.T) {
	m := NewManager(10)
	m.Register("conn1", "KAM-01", guwahati, &mockConn{})

	st, _ := m.Get("conn1")
	firstHeard := st.GetLastHeardFrom()

	time.Sleep(10 * time.Millisecond)

	if err := m.UpdateActivity("conn1", true); err != nil {
		t.Fatalf("UpdateActivity failed: %v", err)
	}
	m.UpdateActivity("conn1", false)

	if !st.GetLastHeardFrom().After(firstHeard) {
		t.Error("LastHeardFrom was not updated")
	}
	if st.ObservationCount() != 1 {
		t.Errorf("Expected 1 observation, got %d", st.ObservationCount())
	}

	if err := m.UpdateActivity("missing", false); err == nil {
		t.Error("Expected error for unknown connection")
	}
}

func TestManager_GetInactiveConnections(t *testing.T) {
	m := NewManager(10)

	m.Register("conn1", "KAM-01", guwahati, &mockConn{})
	m.Register("conn2", "DIB-01", dibrugarh, &mockConn{})

	st, _ := m.Get("conn1")
	st.mu.Lock()
	st.LastHeardFrom = time.Now().Add(-5 * time.Minute)
	st.mu.Unlock()

	inactive := m.GetInactiveConnections(2 * time.Minute)
	if len(inactive) != 1 {
		t.Fatalf("Expected 1 inactive connection, got %d", len(inactive))
	}
	if inactive[0] != "conn1" {
		t.Errorf("Expected conn1 to be inactive, got %s", inactive[0])
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(100)

	m.Register("conn1", "KAM-01", guwahati, &mockConn{})
	m.Register("conn2", "KAM-02", guwahati, &mockConn{})
	m.Register("conn3", "DIB-01", dibrugarh, &mockConn{})

	stats := m.Stats()
	if stats.TotalConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", stats.TotalConnections)
	}
	if stats.UniqueLocations != 2 {
		t.Errorf("Expected 2 unique locations, got %d", stats.UniqueLocations)
	}
	if stats.MaxConnections != 100 {
		t.Errorf("Expected max 100, got %d", stats.MaxConnections)
	}
}
