// internal/protocol/nori/tracker.go
package nori

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"nori-bridge/pkg/devicetypes"
)

// Ports is the target of a request: a single port or a group addressed together
type Ports []int

// Single builds a one-port target
func Single(port int) Ports {
	return Ports{port}
}

// InRange reports whether every port fits the frame's one-byte port field
func (p Ports) InRange() bool {
	for _, port := range p {
		if !inByteRange(port) {
			return false
		}
	}
	return true
}

func inByteRange(n int) bool {
	return n >= 0 && n <= math.MaxUint8
}

// Primary is the port written into the frame header
func (p Ports) Primary() byte {
	if len(p) == 0 {
		return 0
	}
	return byte(p[0])
}

// UnmarshalJSON accepts a number, a numeric string or an array of either
func (p *Ports) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("invalid port group: %w", err)
		}
		ports := make(Ports, 0, len(raw))
		for _, r := range raw {
			port, err := parsePort(r)
			if err != nil {
				return err
			}
			ports = append(ports, port)
		}
		*p = ports
		return nil
	}

	port, err := parsePort(trimmed)
	if err != nil {
		return err
	}
	*p = Ports{port}
	return nil
}

// MarshalJSON writes a single port as a number and a group as an array
func (p Ports) MarshalJSON() ([]byte, error) {
	if len(p) == 1 {
		return json.Marshal(p[0])
	}
	return json.Marshal([]int(p))
}

func parsePort(data []byte) (int, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, fmt.Errorf("invalid port %s", string(data))
		}
		n = json.Number(s)
	}
	port, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", n.String(), err)
	}
	if !inByteRange(port) {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// SentRecord is the last content actually sent to a port
type SentRecord struct {
	Kind    devicetypes.DeviceKind
	Payload Payload
}

// PortState is the debounce and dedup state of one port
type PortState struct {
	LastAcceptedTime int64
	LastSent         *SentRecord
}

// PortTracker gates commands per port on a monotonic logical time (debounce)
// and on the last content sent (dedup). It is not safe for concurrent use;
// the owning Session serializes access.
type PortTracker struct {
	ports map[int]*PortState
}

// NewPortTracker creates an empty tracker. Unknown ports start at time 0 with nothing sent.
func NewPortTracker() *PortTracker {
	return &PortTracker{ports: make(map[int]*PortState)}
}

func (t *PortTracker) state(port int) *PortState {
	st, ok := t.ports[port]
	if !ok {
		st = &PortState{}
		t.ports[port] = st
	}
	return st
}

func (t *PortTracker) lastTime(port int) int64 {
	if st, ok := t.ports[port]; ok {
		return st.LastAcceptedTime
	}
	return 0
}

// TryAccept accepts iff at is strictly after the last accepted time of every port.
// On acceptance all ports move to at; on rejection nothing changes.
func (t *PortTracker) TryAccept(ports Ports, at int64) bool {
	if len(ports) == 0 {
		return false
	}
	for _, port := range ports {
		if at <= t.lastTime(port) {
			return false
		}
	}
	for _, port := range ports {
		t.state(port).LastAcceptedTime = at
	}
	return true
}

// IsDuplicate reports whether every port last received exactly this kind and payload
func (t *PortTracker) IsDuplicate(ports Ports, kind devicetypes.DeviceKind, payload Payload) bool {
	if len(ports) == 0 {
		return false
	}
	for _, port := range ports {
		st, ok := t.ports[port]
		if !ok || st.LastSent == nil {
			return false
		}
		if st.LastSent.Kind != kind || st.LastSent.Payload != payload {
			return false
		}
	}
	return true
}

// RecordSent stores kind and payload as the last content sent to each port
func (t *PortTracker) RecordSent(ports Ports, kind devicetypes.DeviceKind, payload Payload) {
	for _, port := range ports {
		t.state(port).LastSent = &SentRecord{Kind: kind, Payload: payload}
	}
}

// State returns a copy of the state of one port
func (t *PortTracker) State(port int) PortState {
	st, ok := t.ports[port]
	if !ok {
		return PortState{}
	}
	cp := *st
	if st.LastSent != nil {
		sent := *st.LastSent
		cp.LastSent = &sent
	}
	return cp
}

// KnownPorts lists the ports with state, ascending
func (t *PortTracker) KnownPorts() []int {
	ports := make([]int, 0, len(t.ports))
	for port := range t.ports {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Clear drops all port state
func (t *PortTracker) Clear() {
	t.ports = make(map[int]*PortState)
}
