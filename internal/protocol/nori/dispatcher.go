// internal/protocol/nori/dispatcher.go
package nori

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"nori-bridge/pkg/devicetypes"
)

// Request is one pending host entry. GET entries are keyed by device kind and
// address Port; SET entries are keyed by port and name the device in Type.
type Request struct {
	Port Ports                  `json:"port,omitempty"`
	Time int64                  `json:"time"`
	Type devicetypes.DeviceKind `json:"type,omitempty"`
	Data json.RawMessage        `json:"data,omitempty"`
}

// RequestSet maps a numeric key (device kind for GET, port for SET) to its request
type RequestSet map[int]*Request

// Keys returns the keys in ascending order, the order entries are dispatched in
func (rs RequestSet) Keys() []int {
	keys := make([]int, 0, len(rs))
	for k := range rs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Dispatcher turns host requests into frames. It owns the packet sequence
// counter so separate sessions never share indices.
type Dispatcher struct {
	seq      Sequence
	tracker  *PortTracker
	observer Observer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over the given port tracker
func NewDispatcher(tracker *PortTracker, observer Observer, logger *zap.Logger) *Dispatcher {
	if observer == nil {
		observer = NopObserver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		tracker:  tracker,
		observer: observer,
		logger:   logger,
	}
}

// Dispatch runs one cycle over the GET and SET sets and returns the frames
// generated, concatenated in dispatch order. It returns nil when nothing is sent.
func (d *Dispatcher) Dispatch(gets, sets RequestSet) []byte {
	var buf []byte

	for _, key := range gets.Keys() {
		req := gets[key]
		if req == nil {
			continue
		}
		kind := devicetypes.DeviceKind(key)

		if !inByteRange(key) || !req.Port.InRange() {
			d.reject(RejectRange, key, kind, req)
			continue
		}
		if !d.tracker.TryAccept(req.Port, req.Time) {
			d.reject(RejectDebounce, key, kind, req)
			continue
		}

		payload := ReadPayload(req.Data)
		if d.tracker.IsDuplicate(req.Port, kind, payload) {
			d.reject(RejectDuplicate, key, kind, req)
			continue
		}

		d.tracker.RecordSent(req.Port, kind, payload)
		buf = append(buf, d.EncodeRead(kind, req.Port, payload)...)
	}

	for _, port := range sets.Keys() {
		req := sets[port]
		if req == nil {
			continue
		}
		target := Single(port)

		if !inByteRange(port) {
			d.reject(RejectRange, port, req.Type, req)
			continue
		}
		if !d.tracker.TryAccept(target, req.Time) {
			d.reject(RejectDebounce, port, req.Type, req)
			continue
		}

		action, payload := ShapeOutput(req.Type, req.Data)
		if d.tracker.IsDuplicate(target, req.Type, payload) {
			d.reject(RejectDuplicate, port, req.Type, req)
			continue
		}

		d.tracker.RecordSent(target, req.Type, payload)
		buf = append(buf, d.encode(Command{
			Kind:    req.Type,
			Port:    byte(port),
			Action:  action,
			Payload: payload,
		})...)
	}

	return buf
}

// EncodeRead encodes a GET frame for kind on the primary port of ports
func (d *Dispatcher) EncodeRead(kind devicetypes.DeviceKind, ports Ports, payload Payload) []byte {
	return d.encode(Command{
		Kind:    kind,
		Port:    ports.Primary(),
		Action:  devicetypes.ActionGet,
		Payload: payload,
	})
}

// NextIndex is the sequence index the next frame will carry
func (d *Dispatcher) NextIndex() byte {
	return d.seq.Peek()
}

func (d *Dispatcher) encode(cmd Command) []byte {
	// A payload that does not match the device's variant is never sent as SET
	if cmd.Action == devicetypes.ActionSet && cmd.Payload != nil && cmd.Payload.Kind() != ExpectedPayload(cmd.Kind) {
		cmd.Action = devicetypes.ActionReset
		cmd.Payload = nil
	}

	frame := EncodeFrame(d.seq.Next(), cmd)
	d.observer.FrameEncoded(cmd.Action, cmd.Kind)

	if ce := d.logger.Check(zap.DebugLevel, "Frame encoded"); ce != nil {
		ce.Write(
			zap.Stringer("action", cmd.Action),
			zap.Stringer("kind", cmd.Kind),
			zap.Uint8("port", cmd.Port),
			zap.Binary("frame", frame),
		)
	}
	return frame
}

func (d *Dispatcher) reject(reason string, key int, kind devicetypes.DeviceKind, req *Request) {
	d.observer.CommandRejected(reason)
	d.logger.Debug("Command rejected",
		zap.String("reason", reason),
		zap.Stringer("kind", kind),
		zap.Any("port", req.Port),
		zap.Int("key", key),
		zap.Int64("time", req.Time),
	)
}
