// internal/protocol/nori/session.go
package nori

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nori-bridge/pkg/devicetypes"
)

// State is the session lifecycle state
type State int

const (
	StateDisconnected State = iota
	StateAwaitingHandshake
	StateConnected
	StateReset
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case StateConnected:
		return "CONNECTED"
	case StateReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Topics and keys exchanged with the host
const (
	TopicGet = "GET"
	TopicSet = "SET"
	KeyPort  = "PORT"
	KeyDebug = "DEBUG"
)

// RemoteHandler is the host's key-value surface: pending requests are read
// per topic and device state is written back per key
type RemoteHandler interface {
	Read(topic string) RequestSet
	Write(key string, value interface{})
}

// DebugRecord describes the last decoded frame
type DebugRecord struct {
	Type  devicetypes.DeviceKind `json:"type"`
	Port  int                    `json:"port"`
	Value Value                  `json:"value"`
}

// Stats is a point-in-time view of a session
type Stats struct {
	ID            string        `json:"id"`
	State         string        `json:"state"`
	QueueLength   int           `json:"queue_length"`
	WriteInFlight bool          `json:"write_in_flight"`
	NextIndex     int           `json:"next_index"`
	Ports         map[int]Value `json:"ports"`
	LastReceiveAt *time.Time    `json:"last_receive_at,omitempty"`
	LastSendAt    *time.Time    `json:"last_send_at,omitempty"`
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger used by the session and its components
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the event observer
func WithObserver(observer Observer) Option {
	return func(s *Session) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithCheckPhrase overrides the identity string expected during the handshake
func WithCheckPhrase(phrase string) Option {
	return func(s *Session) {
		s.checkPhrase = phrase
	}
}

// WithClock overrides the wall clock used for activity timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session ties the dispatcher, port tracker and send queue to one board.
// Every method runs to completion under the session lock.
type Session struct {
	mu sync.Mutex

	id          string
	state       State
	checkPhrase string

	tracker    *PortTracker
	dispatcher *Dispatcher
	queue      *SendQueue
	transport  Transport

	values map[int]Value
	debug  DebugRecord

	lastTime     time.Time
	lastSendTime time.Time

	now      func() time.Time
	observer Observer
	logger   *zap.Logger
}

// NewSession creates a disconnected session
func NewSession(opts ...Option) *Session {
	s := &Session{
		id:          uuid.New().String(),
		state:       StateDisconnected,
		checkPhrase: CheckPhrase,
		now:         time.Now,
		observer:    NopObserver(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(
		zap.String("component", "session"),
		zap.String("session_id", s.id),
	)
	s.tracker = NewPortTracker()
	s.dispatcher = NewDispatcher(s.tracker, s.observer, s.logger)
	s.queue = NewSendQueue(s.observer, s.logger)
	s.values = defaultPortValues()

	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin attaches the transport and sends the ALIVE query. It returns the
// handshake frame that was queued. Begin may be called from any state.
func (s *Session) Begin(t Transport) []byte {
	s.mu.Lock()
	s.transport = t
	s.queue.Attach(t)
	frame := s.dispatcher.EncodeRead(devicetypes.KindAlive, Single(0), nil)
	s.queue.Enqueue(frame)
	s.setState(StateAwaitingHandshake)
	s.mu.Unlock()

	s.logger.Info("Handshake requested", zap.Binary("frame", frame))
	s.queue.Pump()
	return frame
}

// CheckHandshake reports whether any frame in data is the board's identity answer
func (s *Session) CheckHandshake(data []byte) bool {
	for frame := range Frames(data) {
		if resp, ok := Decode(frame); ok && s.isIdentity(resp) {
			return true
		}
	}
	return false
}

func (s *Session) isIdentity(resp Response) bool {
	return resp.Port == 0 &&
		resp.Kind == devicetypes.KindAlive &&
		resp.Value.IsText() &&
		resp.Value.Text == s.checkPhrase
}

// Ingest processes one inbound chunk and returns the responses that updated port values.
// While awaiting the handshake only the identity answer is acted on.
func (s *Session) Ingest(data []byte) []Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return nil
	}

	var updated []Response
	for frame := range Frames(data) {
		resp, ok := Decode(frame)
		if !ok {
			s.observer.FrameDropped()
			s.logger.Debug("Dropped malformed frame", zap.Binary("frame", frame))
			continue
		}
		s.observer.FrameDecoded(resp.Kind)

		if s.state == StateAwaitingHandshake {
			if s.isIdentity(resp) {
				s.setState(StateConnected)
				s.logger.Info("Handshake confirmed")
			}
			continue
		}

		s.lastTime = s.now()
		s.debug = DebugRecord{Type: resp.Kind, Port: int(resp.Port), Value: resp.Value}
		if resp.Kind == devicetypes.KindAlive {
			continue
		}
		s.values[int(resp.Port)] = resp.Value
		updated = append(updated, resp)
	}
	return updated
}

// HandleRemote runs one dispatch cycle over the host's pending GET and SET
// requests and queues the generated frames as a single buffer.
// It returns the number of bytes queued.
func (s *Session) HandleRemote(h RemoteHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready() {
		return 0
	}

	buf := s.dispatcher.Dispatch(h.Read(TopicGet), h.Read(TopicSet))
	if len(buf) == 0 {
		return 0
	}
	s.queue.Enqueue(buf)
	s.lastSendTime = s.now()
	return len(buf)
}

// PublishState writes the cached port values and the last frame seen to the host
func (s *Session) PublishState(h RemoteHandler) {
	s.mu.Lock()
	ports := make(map[string]Value, len(s.values))
	for port, v := range s.values {
		ports[strconv.Itoa(port)] = v
	}
	debug := s.debug
	s.mu.Unlock()

	h.Write(KeyPort, ports)
	h.Write(KeyDebug, debug)
}

// Pump hands the next queued buffer to the transport if no write is outstanding
func (s *Session) Pump() bool {
	return s.queue.Pump()
}

// Reset clears the cached port values and activity timers. Debounce
// timestamps are kept so stale host requests stay rejected.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = defaultPortValues()
	s.debug = DebugRecord{}
	s.lastTime = time.Time{}
	s.lastSendTime = time.Time{}
	if s.state == StateConnected {
		s.setState(StateReset)
	}
	s.logger.Info("Session reset")
}

// Disconnect closes the transport and discards queued buffers and port state
func (s *Session) Disconnect() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.queue.Detach()
	s.tracker.Clear()
	s.values = defaultPortValues()
	s.debug = DebugRecord{}
	s.setState(StateDisconnected)
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	if err := t.Close(); err != nil {
		s.logger.Warn("Transport close failed", zap.Error(err))
		return err
	}
	s.logger.Info("Session disconnected")
	return nil
}

// PortValues returns a copy of the cached port values
func (s *Session) PortValues() map[int]Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]Value, len(s.values))
	for port, v := range s.values {
		out[port] = v
	}
	return out
}

// PortState returns the debounce and dedup state of a port
func (s *Session) PortState(port int) PortState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.State(port)
}

// Stats returns a snapshot of the session
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		ID:            s.id,
		State:         s.state.String(),
		QueueLength:   s.queue.Len(),
		WriteInFlight: s.queue.InFlight(),
		NextIndex:     int(s.dispatcher.NextIndex()),
		Ports:         make(map[int]Value, len(s.values)),
	}
	for port, v := range s.values {
		stats.Ports[port] = v
	}
	if !s.lastTime.IsZero() {
		t := s.lastTime
		stats.LastReceiveAt = &t
	}
	if !s.lastSendTime.IsZero() {
		t := s.lastSendTime
		stats.LastSendAt = &t
	}
	return stats
}

// ready reports whether host traffic may be dispatched
func (s *Session) ready() bool {
	return s.state == StateConnected || s.state == StateReset
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.observer.StateChanged(from, to)
	s.logger.Debug("Session state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func defaultPortValues() map[int]Value {
	values := make(map[int]Value, len(devicetypes.DefaultPorts))
	for _, port := range devicetypes.DefaultPorts {
		values[port] = NumberValue(0)
	}
	return values
}
