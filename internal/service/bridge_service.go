// internal/service/bridge_service.go
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nori-bridge/internal/config"
	"nori-bridge/internal/metrics"
	"nori-bridge/internal/model"
	"nori-bridge/internal/protocol/nori"
	transport "nori-bridge/internal/protocol/serial"
	"nori-bridge/internal/repository"
	"nori-bridge/internal/utils"
)

var (
	// ErrAlreadyRunning is returned by Connect while a board session is active
	ErrAlreadyRunning = errors.New("bridge already running")
	// ErrNotConnected is returned when an operation needs an active board session
	ErrNotConnected = errors.New("bridge not connected")
)

// maxPendingBytes bounds the bytes kept while waiting for a frame delimiter
const maxPendingBytes = 4096

// BoardTransport is the serial link the bridge drives
type BoardTransport interface {
	nori.Transport
	Open(ctx context.Context) error
	ReadLoop(ctx context.Context, sink func([]byte)) error
	GetStats() transport.Stats
}

// TransportFactory creates a transport for a port configuration
type TransportFactory func(cfg *transport.Config) (BoardTransport, error)

// HostChannel is the host side of the bridge. Flush pushes what was written
// since the last flush to connected clients.
type HostChannel interface {
	nori.RemoteHandler
	Flush()
	ClientCount() int
}

// EventPublisher receives bridge lifecycle events
type EventPublisher interface {
	Publish(event *model.BridgeEvent)
}

// BoardScanner finds the board among the host's serial ports
type BoardScanner interface {
	ListPorts() ([]model.SerialPortInfo, error)
	FindBoard(ctx context.Context) (string, error)
}

// BridgeOption configures a BridgeService
type BridgeOption func(*BridgeService)

// WithTransportFactory replaces the serial transport constructor
func WithTransportFactory(f TransportFactory) BridgeOption {
	return func(s *BridgeService) { s.dial = f }
}

// WithScanner sets the port scanner used when no port is configured
func WithScanner(scanner BoardScanner) BridgeOption {
	return func(s *BridgeService) { s.scanner = scanner }
}

// WithRepository sets where decoded readings are stored
func WithRepository(repo repository.ReadingRepository) BridgeOption {
	return func(s *BridgeService) { s.repo = repo }
}

// WithEvents sets the lifecycle event sink
func WithEvents(events EventPublisher) BridgeOption {
	return func(s *BridgeService) { s.events = events }
}

// WithMetrics wires the prometheus metrics into the protocol engine
func WithMetrics(m *metrics.BridgeMetrics) BridgeOption {
	return func(s *BridgeService) { s.metrics = m }
}

// BridgeService connects one Nori board to the host channel
type BridgeService struct {
	config  *config.Config
	session *nori.Session
	host    HostChannel
	repo    repository.ReadingRepository
	scanner BoardScanner
	events  EventPublisher
	metrics *metrics.BridgeMetrics
	dial    TransportFactory
	logger  *utils.ServiceLogger

	// lifecycle serializes Connect and Disconnect
	lifecycle sync.Mutex

	mu          sync.Mutex
	conn        BoardTransport
	portName    string
	baudRate    int
	connectedAt time.Time
	cancel      context.CancelFunc
	pending     []byte
	wg          sync.WaitGroup

	supervisor       context.CancelFunc
	supervisorDone   chan struct{}
	supervisorLocker sync.Mutex
}

// NewBridgeService creates a bridge service instance
func NewBridgeService(cfg *config.Config, host HostChannel, logger *zap.Logger, opts ...BridgeOption) *BridgeService {
	s := &BridgeService{
		config: cfg,
		host:   host,
		logger: utils.NewServiceLogger(logger, "bridge-service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dial == nil {
		s.dial = func(c *transport.Config) (BoardTransport, error) {
			return transport.NewConnection(c, logger)
		}
	}

	sessionOpts := []nori.Option{
		nori.WithLogger(logger),
		nori.WithCheckPhrase(cfg.Bridge.CheckPhrase),
	}
	if s.metrics != nil {
		sessionOpts = append(sessionOpts, nori.WithObserver(s.metrics))
	}
	s.session = nori.NewSession(sessionOpts...)

	return s
}

// Session exposes the protocol session
func (s *BridgeService) Session() *nori.Session {
	return s.session
}

// Connect opens the board's serial port and starts the handshake.
// The port comes from req, then configuration, then a scan.
func (s *BridgeService) Connect(ctx context.Context, req *model.ConnectRequest) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running() {
		return ErrAlreadyRunning
	}

	start := time.Now()
	portName, baudRate := s.resolvePort(req)
	if portName == "" {
		if s.scanner == nil {
			return fmt.Errorf("no serial port configured and no scanner available")
		}
		found, err := s.scanner.FindBoard(ctx)
		if err != nil {
			return fmt.Errorf("failed to find board: %w", err)
		}
		portName = found
	}

	sessionLogger := utils.NewSessionLogger(s.logger.Logger, portName)

	conn, err := s.dial(s.transportConfig(portName, baudRate))
	if err != nil {
		sessionLogger.LogConnection("connect", time.Since(start), err)
		return fmt.Errorf("failed to create transport: %w", err)
	}
	if err := conn.Open(ctx); err != nil {
		sessionLogger.LogConnection("connect", time.Since(start), err)
		return fmt.Errorf("failed to open board port: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.portName = portName
	s.baudRate = baudRate
	s.connectedAt = time.Time{}
	s.cancel = cancel
	s.pending = nil
	s.mu.Unlock()

	s.session.Begin(conn)

	s.wg.Add(3)
	go s.readLoop(runCtx, conn)
	go s.pollLoop(runCtx)
	go s.watchHandshake(runCtx, conn)

	sessionLogger.LogConnection("connect", time.Since(start), nil)
	return nil
}

// Disconnect stops the session and closes the port
func (s *BridgeService) Disconnect() error {
	return s.teardown(nil, "requested")
}

// teardown stops the active run. A non-nil expected only tears down that transport,
// so late failure handlers cannot stop a newer connection.
func (s *BridgeService) teardown(expected BoardTransport, reason string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	conn, cancel, portName := s.conn, s.cancel, s.portName
	if conn == nil || (expected != nil && conn != expected) {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.conn = nil
	s.cancel = nil
	s.connectedAt = time.Time{}
	s.pending = nil
	s.mu.Unlock()

	start := time.Now()
	cancel()
	err := s.session.Disconnect()
	s.wg.Wait()

	utils.NewSessionLogger(s.logger.Logger, portName).LogConnection("disconnect", time.Since(start), err)
	s.publish(model.EventBoardDisconnected, map[string]any{"serial_port": portName, "reason": reason})

	if err != nil {
		return fmt.Errorf("failed to close board port: %w", err)
	}
	return nil
}

// Reset clears cached port values and moves the session to RESET
func (s *BridgeService) Reset() error {
	if !s.running() {
		return ErrNotConnected
	}

	s.session.Reset()
	s.session.PublishState(s.host)
	s.host.Flush()
	s.publish(model.EventBoardReset, nil)
	return nil
}

// Poll runs one dispatch cycle and pumps the send queue. It returns the bytes queued.
func (s *BridgeService) Poll() int {
	n := s.session.HandleRemote(s.host)
	s.session.Pump()
	return n
}

// Status returns the bridge status
func (s *BridgeService) Status() *model.BridgeStatus {
	stats := s.session.Stats()

	status := &model.BridgeStatus{
		SessionID:     stats.ID,
		State:         stats.State,
		QueueLength:   stats.QueueLength,
		WriteInFlight: stats.WriteInFlight,
		NextIndex:     stats.NextIndex,
		Ports:         make(map[string]any, len(stats.Ports)),
		LastReceiveAt: stats.LastReceiveAt,
		LastSendAt:    stats.LastSendAt,
	}
	for port, v := range stats.Ports {
		status.Ports[fmt.Sprint(port)] = v
	}
	if s.host != nil {
		status.HostClients = s.host.ClientCount()
	}

	s.mu.Lock()
	conn := s.conn
	status.SerialPort = s.portName
	status.BaudRate = s.baudRate
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		status.ConnectedAt = &t
	}
	s.mu.Unlock()

	if conn != nil {
		ts := conn.GetStats()
		status.Transport = &model.TransportCounters{
			BytesWritten: ts.BytesWritten,
			BytesRead:    ts.BytesRead,
			WriteCount:   ts.WriteCount,
			ErrorCount:   ts.ErrorCount,
			LastActivity: ts.LastActivity,
		}
	}
	return status
}

// IsConnected reports whether the board has completed the handshake
func (s *BridgeService) IsConnected() bool {
	state := s.session.State()
	return state == nori.StateConnected || state == nori.StateReset
}

// ListPorts enumerates serial ports
func (s *BridgeService) ListPorts() ([]model.SerialPortInfo, error) {
	if s.scanner == nil {
		return nil, fmt.Errorf("port scanning not available")
	}
	return s.scanner.ListPorts()
}

// Readings returns stored readings matching filter
func (s *BridgeService) Readings(ctx context.Context, filter *model.ReadingFilter) ([]*model.Reading, error) {
	if s.repo == nil {
		return []*model.Reading{}, nil
	}
	readings, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	return readings, nil
}

// Start runs the reconnect supervisor when auto connect is enabled
func (s *BridgeService) Start(ctx context.Context) {
	s.supervisorLocker.Lock()
	defer s.supervisorLocker.Unlock()

	if s.supervisor != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.supervisor = cancel
	s.supervisorDone = make(chan struct{})

	go s.supervise(ctx, s.supervisorDone)
}

// Stop stops the supervisor and disconnects the board
func (s *BridgeService) Stop() {
	s.supervisorLocker.Lock()
	if s.supervisor != nil {
		s.supervisor()
		<-s.supervisorDone
		s.supervisor = nil
	}
	s.supervisorLocker.Unlock()

	if err := s.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Warn("Disconnect on stop failed", zap.Error(err))
	}
}

func (s *BridgeService) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	retention := time.NewTicker(time.Hour)
	defer retention.Stop()

	for {
		if s.config.Bridge.AutoConnect && !s.running() {
			if err := s.Connect(ctx, nil); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				s.logger.Debug("Auto connect attempt failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-retention.C:
			s.pruneReadings(ctx)
		case <-time.After(s.config.Bridge.ReconnectDelay):
		}
	}
}

func (s *BridgeService) pruneReadings(ctx context.Context) {
	if s.repo == nil || s.config.Database.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.config.Database.RetentionDays)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("Failed to prune readings", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("Old readings pruned", zap.Int64("deleted", deleted))
	}
}

func (s *BridgeService) readLoop(ctx context.Context, conn BoardTransport) {
	defer s.wg.Done()

	err := conn.ReadLoop(ctx, s.handleChunk)
	if ctx.Err() != nil {
		return
	}

	s.logger.Error("Board read loop stopped", zap.Error(err))
	s.publish(model.EventBoardError, map[string]any{"error": fmt.Sprint(err)})
	go s.teardown(conn, "read failure")
}

func (s *BridgeService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Bridge.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

func (s *BridgeService) watchHandshake(ctx context.Context, conn BoardTransport) {
	defer s.wg.Done()

	timeout := s.config.Bridge.HandshakeTimeout
	if timeout <= 0 {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if s.session.State() != nori.StateAwaitingHandshake {
		return
	}
	s.logger.Warn("Board did not answer the handshake", zap.Duration("timeout", timeout))
	s.publish(model.EventBoardError, map[string]any{"error": "handshake timeout"})
	go s.teardown(conn, "handshake timeout")
}

// handleChunk feeds complete frames to the session and publishes the resulting state
func (s *BridgeService) handleChunk(chunk []byte) {
	data := s.completeFrames(chunk)
	if len(data) == 0 {
		return
	}

	before := s.session.State()
	updated := s.session.Ingest(data)
	after := s.session.State()

	if before == nori.StateAwaitingHandshake && after == nori.StateConnected {
		s.onHandshake()
	}
	if after != nori.StateConnected && after != nori.StateReset {
		return
	}

	s.persist(updated)
	s.session.PublishState(s.host)
	s.host.Flush()
}

// completeFrames returns the delimited prefix of everything received so far
// and keeps the unterminated tail for the next chunk
func (s *BridgeService) completeFrames(chunk []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, chunk...)
	idx := bytes.LastIndex(s.pending, nori.Delimiter)
	if idx < 0 {
		if len(s.pending) > maxPendingBytes {
			s.logger.Warn("Discarding unterminated input", zap.Int("bytes", len(s.pending)))
			s.pending = nil
		}
		return nil
	}

	end := idx + len(nori.Delimiter)
	out := make([]byte, end)
	copy(out, s.pending[:end])
	s.pending = append(s.pending[:0], s.pending[end:]...)
	return out
}

func (s *BridgeService) onHandshake() {
	s.mu.Lock()
	s.connectedAt = time.Now()
	portName := s.portName
	s.mu.Unlock()

	utils.NewSessionLogger(s.logger.Logger, portName).
		LogStateChange(nori.StateAwaitingHandshake.String(), nori.StateConnected.String())
	s.logger.Info("Board connected",
		zap.String("serial_port", portName),
		zap.String("session_id", s.session.ID()),
	)
	s.publish(model.EventBoardConnected, map[string]any{"serial_port": portName})
}

func (s *BridgeService) persist(updated []nori.Response) {
	if s.repo == nil || !s.config.Bridge.PersistReadings || len(updated) == 0 {
		return
	}

	now := time.Now()
	readings := make([]*model.Reading, 0, len(updated))
	for _, resp := range updated {
		readings = append(readings, model.NewReading(
			s.session.ID(), int(resp.Port), resp.Kind,
			resp.Value.Format, resp.Value.Number, resp.Value.Text, now,
		))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.repo.CreateBatch(ctx, readings)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.ReadingsStored.WithLabelValues(result).Add(float64(len(readings)))
	}
	if err != nil {
		s.logger.Warn("Failed to store readings", zap.Error(err), zap.Int("count", len(readings)))
	}
}

func (s *BridgeService) publish(eventType model.EventType, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(model.NewBridgeEvent(eventType, s.session.ID(), data))
}

func (s *BridgeService) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *BridgeService) resolvePort(req *model.ConnectRequest) (string, int) {
	portName := s.config.Serial.Port
	baudRate := s.config.Serial.BaudRate
	if req != nil {
		if req.Port != "" {
			portName = req.Port
		}
		if req.BaudRate > 0 {
			baudRate = req.BaudRate
		}
	}
	return portName, baudRate
}

func (s *BridgeService) transportConfig(portName string, baudRate int) *transport.Config {
	return &transport.Config{
		Port:           portName,
		BaudRate:       baudRate,
		DataBits:       s.config.Serial.DataBits,
		StopBits:       s.config.Serial.StopBits,
		Parity:         s.config.Serial.Parity,
		ReadTimeout:    s.config.Serial.ReadTimeout,
		ReadBufferSize: s.config.Serial.ReadBufferSize,
		WriteQueueSize: s.config.Serial.WriteQueueSize,
	}
}
