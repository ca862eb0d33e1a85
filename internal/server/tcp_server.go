// Package server is the TCP gateway field stations report to.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/floodwatch/internal/connection"
	"github.com/smukkama/floodwatch/internal/database"
	"github.com/smukkama/floodwatch/internal/protocol"
	"github.com/smukkama/floodwatch/internal/queue"
	"github.com/smukkama/floodwatch/internal/timer"
	"github.com/smukkama/floodwatch/pkg/config"
)

const readTimeout = 30 * time.Second

// StationStore persists identified stations
type StationStore interface {
	UpsertStation(st *database.Station) error
}

// TCPServer accepts station connections and forwards their observations
// and alert actions to Kafka
type TCPServer struct {
	config       *config.GatewayConfig
	connManager  *connection.Manager
	scheduler    *timer.Scheduler
	observations queue.Publisher
	commands     queue.Publisher
	stations     StationStore
	logger       *zap.Logger
	now          func() time.Time
	listener     net.Listener
	wg           sync.WaitGroup
	stopCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewTCPServer creates a new TCP server. stations may be nil.
func NewTCPServer(
	cfg *config.GatewayConfig,
	connManager *connection.Manager,
	scheduler *timer.Scheduler,
	observations queue.Publisher,
	commands queue.Publisher,
	stations StationStore,
	logger *zap.Logger,
) *TCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:       cfg,
		connManager:  connManager,
		scheduler:    scheduler,
		observations: observations,
		commands:     commands,
		stations:     stations,
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts listening on the configured port
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.Serve(listener)
	return nil
}

// Serve accepts connections on an existing listener
func (s *TCPServer) Serve(listener net.Listener) {
	s.listener = listener
	s.logger.Info("gateway listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()
}

// Stop stops the TCP server and closes every station connection
func (s *TCPServer) Stop() {
	close(s.stopCh)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	s.logger.Info("gateway stopped")
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("failed to accept connection", zap.Error(err))
				continue
			}
		}

		if s.connManager.Count() >= s.config.MaxConnections {
			s.logger.Warn("maximum connections reached, rejecting connection",
				zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn runs one station session until the connection closes
func (s *TCPServer) serveConn(conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	connectionID := uuid.New().String()
	log := s.logger.With(zap.String("connection_id", connectionID))
	log.Debug("new connection", zap.String("remote", conn.RemoteAddr().String()))

	conn.SetReadDeadline(s.now().Add(s.config.IdentifyTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		log.Warn("failed to read identify message", zap.Error(err))
		return
	}

	msg, err := protocol.ParseMessage([]byte(line))
	if err != nil {
		log.Warn("failed to parse identify message", zap.Error(err))
		s.sendError(conn, err.Error())
		return
	}

	identify, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		log.Warn("expected identify message", zap.String("got", fmt.Sprintf("%T", msg)))
		s.sendError(conn, "expected identify message")
		return
	}

	if err := s.connManager.Register(connectionID, identify.StationID, identify.Location, conn); err != nil {
		log.Warn("failed to register station", zap.String("station_id", identify.StationID), zap.Error(err))
		s.sendError(conn, "failed to register")
		return
	}
	defer s.connManager.Unregister(connectionID)
	defer s.scheduler.Cancel(inactivityTimerID(connectionID))

	log = log.With(zap.String("station_id", identify.StationID), zap.String("location_key", identify.Location.Key()))
	log.Info("station identified")

	s.recordStation(identify, log)

	if err := s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusIdentified)); err != nil {
		log.Warn("failed to send ack", zap.Error(err))
		return
	}

	s.scheduleInactivityTimer(connectionID)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(s.now().Add(readTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.Info("connection closed", zap.Error(err))
			return
		}

		msg, err := protocol.ParseMessage([]byte(line))
		if err != nil {
			log.Warn("failed to parse message", zap.Error(err))
			s.sendError(conn, err.Error())
			continue
		}

		_, isObservation := msg.(*protocol.ObservationMessage)
		s.connManager.UpdateActivity(connectionID, isObservation)
		s.scheduleInactivityTimer(connectionID)

		if err := s.handleMessage(connectionID, identify, msg, conn); err != nil {
			log.Error("failed to handle message", zap.Error(err))
			s.sendError(conn, "failed to handle message")
		}
	}
}

func (s *TCPServer) handleMessage(connectionID string, identify *protocol.IdentifyMessage, msg interface{}, conn net.Conn) error {
	switch m := msg.(type) {
	case *protocol.ObservationMessage:
		if err := s.handleObservation(connectionID, identify, m); err != nil {
			return err
		}
		return s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusAccepted))

	case *protocol.AlertActionMessage:
		if err := s.handleAlertAction(identify.StationID, m); err != nil {
			return err
		}
		return s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusAccepted))

	case *protocol.KeepaliveMessage:
		return s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusAlive))

	case *protocol.IdentifyMessage:
		return fmt.Errorf("station %s already identified", identify.StationID)

	default:
		return fmt.Errorf("unknown message type: %T", msg)
	}
}

func (s *TCPServer) handleObservation(connectionID string, identify *protocol.IdentifyMessage, msg *protocol.ObservationMessage) error {
	env := &protocol.ObservationEnvelope{
		ConnectionID: connectionID,
		StationID:    identify.StationID,
		ReceivedAt:   s.now().UTC(),
		Location:     identify.Location,
		Data:         msg.Data,
	}

	data, err := protocol.EncodeObservation(env)
	if err != nil {
		return fmt.Errorf("failed to encode observation: %w", err)
	}

	if err := s.observations.Publish(s.ctx, env.Key(), data); err != nil {
		return fmt.Errorf("failed to publish observation: %w", err)
	}

	s.logger.Debug("observation forwarded",
		zap.String("station_id", identify.StationID),
		zap.String("location_key", env.Key()))
	return nil
}

func (s *TCPServer) handleAlertAction(stationID string, msg *protocol.AlertActionMessage) error {
	action := protocol.CommandAcknowledge
	if msg.Type == protocol.MsgTypeClear {
		action = protocol.CommandClear
	}

	cmd := &protocol.AlertCommand{
		Action:    action,
		AlertID:   msg.AlertID,
		StationID: stationID,
		IssuedAt:  s.now().UTC(),
	}

	data, err := protocol.EncodeAlertCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode alert command: %w", err)
	}

	if err := s.commands.Publish(s.ctx, msg.AlertID, data); err != nil {
		return fmt.Errorf("failed to publish alert command: %w", err)
	}

	s.logger.Info("alert command forwarded",
		zap.String("station_id", stationID),
		zap.String("action", action),
		zap.String("alert_id", msg.AlertID))
	return nil
}

func (s *TCPServer) recordStation(identify *protocol.IdentifyMessage, log *zap.Logger) {
	if s.stations == nil {
		return
	}

	loc := identify.Location
	now := s.now()
	st := &database.Station{
		StationID:   identify.StationID,
		LocationKey: loc.Key(),
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		RegionType:  string(loc.Region()),
		NearRiver:   loc.NearRiver,
		LastSeenAt:  &now,
	}
	if loc.District != "" {
		st.District = &loc.District
	}
	if loc.State != "" {
		st.State = &loc.State
	}

	if err := s.stations.UpsertStation(st); err != nil {
		log.Warn("failed to record station", zap.Error(err))
	}
}

func (s *TCPServer) sendMessage(conn net.Conn, msg interface{}) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	_, err = conn.Write(append(data, '\n'))
	return err
}

func (s *TCPServer) sendError(conn net.Conn, reason string) {
	s.sendMessage(conn, protocol.NewErrorAck(reason))
}

func inactivityTimerID(connectionID string) string {
	return "inactivity-" + connectionID
}

func (s *TCPServer) scheduleInactivityTimer(connectionID string) {
	deadline := s.now().Add(s.config.InactivityTimeout)

	err := s.scheduler.Schedule(inactivityTimerID(connectionID), deadline, func(string) {
		st, exists := s.connManager.Get(connectionID)
		if !exists {
			return
		}
		s.logger.Info("inactivity timeout",
			zap.String("connection_id", connectionID),
			zap.String("station_id", st.StationID))

		// serveConn unregisters once the blocked read fails
		st.Conn.Close()
	})
	if err != nil {
		s.logger.Warn("failed to schedule inactivity timer", zap.Error(err))
	}
}
