// internal/protocol/nori/payload.go
package nori

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"unicode/utf8"

	"nori-bridge/pkg/devicetypes"
)

// PayloadKind names the payload variant a device kind expects
type PayloadKind int

const (
	PayloadNumeric PayloadKind = iota
	PayloadDualField
	PayloadTextLine
)

// Payload is the variable part of an outbound frame. A nil Payload means no payload.
type Payload interface {
	Kind() PayloadKind
	Bytes() []byte
}

// Numeric is a single little-endian int16
type Numeric struct {
	Value int16
}

func (Numeric) Kind() PayloadKind { return PayloadNumeric }

func (p Numeric) Bytes() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(p.Value))
	return b
}

// DualField drives the segment display: a value plus the colon indicator
type DualField struct {
	Value     int16
	Indicator int16
}

func (DualField) Kind() PayloadKind { return PayloadDualField }

func (p DualField) Bytes() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], uint16(p.Value))
	binary.LittleEndian.PutUint16(b[2:4], uint16(p.Indicator))
	return b
}

// TextLine writes text onto one line of the character LCD
type TextLine struct {
	Line uint8
	Text string
}

func (TextLine) Kind() PayloadKind { return PayloadTextLine }

// Bytes encodes [line][len][utf8...]. Text longer than 255 bytes is truncated.
func (p TextLine) Bytes() []byte {
	text := truncateText(p.Text)
	b := make([]byte, 0, 2+len(text))
	b = append(b, p.Line, byte(len(text)))
	return append(b, text...)
}

// truncateText cuts s to at most 255 bytes without splitting a rune
func truncateText(s string) []byte {
	text := []byte(s)
	if len(text) <= math.MaxUint8 {
		return text
	}
	cut := math.MaxUint8
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// ExpectedPayload maps a device kind to the payload variant its SET command carries
func ExpectedPayload(kind devicetypes.DeviceKind) PayloadKind {
	switch kind {
	case devicetypes.KindSegment:
		return PayloadDualField
	case devicetypes.KindTextLCD:
		return PayloadTextLine
	default:
		return PayloadNumeric
	}
}

// ShapeOutput turns host SET data into the action and payload to encode.
// Data that does not fit the shape the device kind expects degrades to RESET with no payload.
func ShapeOutput(kind devicetypes.DeviceKind, data json.RawMessage) (devicetypes.Action, Payload) {
	switch ExpectedPayload(kind) {
	case PayloadDualField:
		var rec struct {
			Value *float64 `json:"value"`
			Colon *float64 `json:"colon"`
		}
		if !isRecord(data) || json.Unmarshal(data, &rec) != nil || rec.Value == nil || rec.Colon == nil {
			return devicetypes.ActionReset, nil
		}
		return devicetypes.ActionSet, DualField{Value: toInt16(*rec.Value), Indicator: toInt16(*rec.Colon)}

	case PayloadTextLine:
		var rec struct {
			Line  json.RawMessage `json:"line"`
			Value string          `json:"value"`
		}
		if !isRecord(data) || json.Unmarshal(data, &rec) != nil {
			return devicetypes.ActionReset, nil
		}
		line, _ := numberOf(rec.Line)
		return devicetypes.ActionSet, TextLine{Line: uint8(int64(line)), Text: rec.Value}

	default:
		n, _ := numberOf(data)
		return devicetypes.ActionSet, Numeric{Value: toInt16(n)}
	}
}

// ReadPayload parses the optional initiating value of a GET request.
// Absent or null data yields no payload; a zero value is still a payload.
func ReadPayload(data json.RawMessage) Payload {
	n, ok := numberOf(data)
	if !ok {
		return nil
	}
	return Numeric{Value: toInt16(n)}
}

func isRecord(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// numberOf accepts a JSON number or a numeric string. Booleans count as 0/1.
func numberOf(data json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false
	}

	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return 0, false
	}

	switch t := v.(type) {
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		var f float64
		if err := json.Unmarshal([]byte(t), &f); err != nil {
			return 0, true
		}
		return f, true
	default:
		return 0, true
	}
}

// toInt16 truncates toward zero and wraps like a 16-bit buffer write
func toInt16(f float64) int16 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int16(int64(f))
}
