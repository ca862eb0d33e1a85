package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/floodwatch/internal/connection"
	"github.com/smukkama/floodwatch/internal/database"
	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/internal/timer"
	"github.com/smukkama/floodwatch/pkg/config"
)

type published struct {
	key   string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{key, value})
	return nil
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeStations struct {
	mu       sync.Mutex
	stations []*database.Station
}

func (f *fakeStations) UpsertStation(st *database.Station) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stations = append(f.stations, st)
	return nil
}

type harness struct {
	server       *TCPServer
	manager      *connection.Manager
	observations *fakePublisher
	commands     *fakePublisher
	stations     *fakeStations
	client       net.Conn
	reader       *bufio.Reader
	done         chan struct{}
}

func newHarness(t *testing.T, inactivity time.Duration) *harness {
	t.Helper()

	scheduler := timer.NewScheduler(1)
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	h := &harness{
		manager:      connection.NewManager(10),
		observations: &fakePublisher{},
		commands:     &fakePublisher{},
		stations:     &fakeStations{},
		done:         make(chan struct{}),
	}
	cfg := &config.GatewayConfig{
		MaxConnections:    10,
		IdentifyTimeout:   time.Second,
		InactivityTimeout: inactivity,
	}
	h.server = NewTCPServer(cfg, h.manager, scheduler, h.observations, h.commands, h.stations, nil)

	serverSide, clientSide := net.Pipe()
	h.client = clientSide
	h.reader = bufio.NewReader(clientSide)
	go func() {
		defer close(h.done)
		h.server.serveConn(serverSide)
	}()
	t.Cleanup(func() {
		clientSide.Close()
		<-h.done
	})
	return h
}

func (h *harness) send(t *testing.T, line string) {
	t.Helper()
	h.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := h.client.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (h *harness) ack(t *testing.T) protocol.AckMessage {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := h.reader.ReadString('\n')
	require.NoError(t, err)

	var ack protocol.AckMessage
	require.NoError(t, json.Unmarshal([]byte(line), &ack))
	return ack
}

const identifyLine = `{"type":"identify","station_id":"KAM-01","location":{"latitude":26.144,"longitude":91.736,"district":"Kamrup","state":"Assam","near_river":true}}`

func TestServer_IdentifyAndObservation(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.send(t, identifyLine)
	assert.Equal(t, protocol.AckStatusIdentified, h.ack(t).Status)

	st, ok := h.manager.GetByStationID("KAM-01")
	require.True(t, ok)
	assert.Equal(t, "26.14_91.74", st.LocationKey())

	h.send(t, `{"type":"observation","data":{"timestamp":"2026-07-01T09:00:00Z","readings":{"rainfall_hourly":42,"discharge":610}}}`)
	assert.Equal(t, protocol.AckStatusAccepted, h.ack(t).Status)

	msgs := h.observations.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "26.14_91.74", msgs[0].key)

	env, err := protocol.DecodeObservation(msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, "KAM-01", env.StationID)
	assert.Equal(t, st.ConnectionID, env.ConnectionID)
	assert.Equal(t, "Kamrup", env.Location.District)
	assert.Equal(t, 42.0, env.Data.Readings.RainfallHourly.Value())
	assert.Equal(t, int64(1), st.ObservationCount())

	h.stations.mu.Lock()
	require.Len(t, h.stations.stations, 1)
	recorded := h.stations.stations[0]
	h.stations.mu.Unlock()
	assert.Equal(t, "26.14_91.74", recorded.LocationKey)
	require.NotNil(t, recorded.District)
	assert.Equal(t, "Kamrup", *recorded.District)
	assert.True(t, recorded.NearRiver)
}

func TestServer_KeepaliveAndAlertActions(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.send(t, identifyLine)
	h.ack(t)

	h.send(t, `{"type":"keepalive"}`)
	assert.Equal(t, protocol.AckStatusAlive, h.ack(t).Status)

	h.send(t, `{"type":"acknowledge","alert_id":"ALERT-20260701090000-KAM"}`)
	assert.Equal(t, protocol.AckStatusAccepted, h.ack(t).Status)

	h.send(t, `{"type":"clear","alert_id":"ALERT-20260701090000-KAM"}`)
	assert.Equal(t, protocol.AckStatusAccepted, h.ack(t).Status)

	msgs := h.commands.messages()
	require.Len(t, msgs, 2)

	ack, err := protocol.DecodeAlertCommand(msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, protocol.CommandAcknowledge, ack.Action)
	assert.Equal(t, "KAM-01", ack.StationID)
	assert.Equal(t, "ALERT-20260701090000-KAM", msgs[0].key)

	cleared, err := protocol.DecodeAlertCommand(msgs[1].value)
	require.NoError(t, err)
	assert.Equal(t, protocol.CommandClear, cleared.Action)
}

func TestServer_InvalidMessages(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.send(t, identifyLine)
	h.ack(t)

	h.send(t, `{"type":"observation","data":{"timestamp":"yesterday"}}`)
	ack := h.ack(t)
	assert.Equal(t, protocol.AckStatusError, ack.Status)
	assert.Contains(t, ack.Message, "RFC3339")

	h.send(t, identifyLine)
	assert.Equal(t, protocol.AckStatusError, h.ack(t).Status)

	h.observations.mu.Lock()
	h.observations.err = errors.New("broker unavailable")
	h.observations.mu.Unlock()
	h.send(t, `{"type":"observation","data":{"timestamp":"2026-07-01T09:00:00Z"}}`)
	assert.Equal(t, protocol.AckStatusError, h.ack(t).Status)

	h.send(t, `{"type":"keepalive"}`)
	assert.Equal(t, protocol.AckStatusAlive, h.ack(t).Status)
}

func TestServer_RequiresIdentify(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.send(t, `{"type":"keepalive"}`)
	ack := h.ack(t)
	assert.Equal(t, protocol.AckStatusError, ack.Status)
	assert.Equal(t, "expected identify message", ack.Message)

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
	assert.Equal(t, 0, h.manager.Count())
}

func TestServer_InactivityTimeout(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)

	h.send(t, identifyLine)
	h.ack(t)
	assert.Equal(t, 1, h.manager.Count())

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("inactive connection was not closed")
	}
	assert.Equal(t, 0, h.manager.Count())
}
