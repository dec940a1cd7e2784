// internal/protocol/nori/codec.go
package nori

import (
	"nori-bridge/pkg/devicetypes"
)

// Command is an intent to query or set one addressable unit on the board
type Command struct {
	Kind    devicetypes.DeviceKind
	Port    byte
	Action  devicetypes.Action
	Payload Payload
}

// EncodeFrame builds one outbound frame.
//
// Frame structure:
//
//	[0xFF][0x2D][LEN][IDX][ACTION][KIND][PORT][PAYLOAD...][0x0A]
//
// LEN is 5 plus the payload length; a nil payload leaves the payload region empty.
func EncodeFrame(idx byte, cmd Command) []byte {
	var payload []byte
	if cmd.Payload != nil {
		payload = cmd.Payload.Bytes()
	}

	frame := make([]byte, 0, len(Magic)+1+headerBodyLen+len(payload))
	frame = append(frame, Magic...)
	frame = append(frame, byte(headerBodyLen+len(payload)))
	frame = append(frame, idx, byte(cmd.Action), byte(cmd.Kind), cmd.Port)
	frame = append(frame, payload...)
	frame = append(frame, Terminator)

	return frame
}

// Sequence is the wrapping packet index counter. The zero value starts at 0.
type Sequence struct {
	next byte
}

// Next returns the current index and advances, wrapping to 0 after MaxSequence
func (s *Sequence) Next() byte {
	idx := s.next
	if s.next >= MaxSequence {
		s.next = 0
	} else {
		s.next++
	}
	return idx
}

// Peek returns the index the next frame will carry
func (s *Sequence) Peek() byte {
	return s.next
}

// Reset restarts the counter at zero
func (s *Sequence) Reset() {
	s.next = 0
}
