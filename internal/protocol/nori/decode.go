// internal/protocol/nori/decode.go
package nori

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"nori-bridge/pkg/devicetypes"
)

// Value is a decoded device reading, numeric or text depending on its format tag
type Value struct {
	Format devicetypes.ValueFormat
	Number float64
	Text   string
}

// NumberValue wraps a numeric reading
func NumberValue(f float64) Value {
	return Value{Format: devicetypes.FormatShort, Number: f}
}

// IsText reports whether the value carries text
func (v Value) IsText() bool {
	return v.Format == devicetypes.FormatText
}

// String renders the value the way the host sees it
func (v Value) String() string {
	if v.IsText() {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// MarshalJSON encodes text values as strings and everything else as numbers
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsText() {
		return json.Marshal(v.Text)
	}
	return json.Marshal(v.Number)
}

// Response is a decoded inbound frame
type Response struct {
	Value Value
	Kind  devicetypes.DeviceKind
	Port  byte
}

// Decode parses one inbound frame (delimiter already stripped).
//
// Frame structure:
//
//	[0xFF][0x2D][FORMAT][VALUE...][PORT][KIND]
//
// It reports false for slices of 4 bytes or fewer and for a magic mismatch.
// Port and kind always come from the last two bytes, whatever the value length.
func Decode(raw []byte) (Response, bool) {
	if len(raw) <= 4 || raw[0] != MagicHigh || raw[1] != MagicLow {
		return Response{}, false
	}

	body := raw[2:]
	format := devicetypes.ValueFormat(body[0])
	value := Value{Format: format}

	switch format {
	case devicetypes.FormatInt8:
		if b, ok := window(body, 1, 1); ok {
			value.Number = round2(float64(int8(b[0])))
		}
	case devicetypes.FormatFloat:
		if b, ok := window(body, 1, 4); ok {
			value.Number = round2(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
		}
	case devicetypes.FormatShort:
		if b, ok := window(body, 1, 2); ok {
			value.Number = float64(int16(binary.LittleEndian.Uint16(b)))
		}
	case devicetypes.FormatText:
		n := int(body[1])
		end := 2 + n
		if end > len(body) {
			end = len(body)
		}
		value.Text = string(body[2:end])
	}

	return Response{
		Value: value,
		Port:  body[len(body)-2],
		Kind:  devicetypes.DeviceKind(body[len(body)-1]),
	}, true
}

// EncodeResponse builds an inbound-shaped frame (without delimiter), as the board firmware sends it
func EncodeResponse(kind devicetypes.DeviceKind, port byte, value Value) []byte {
	frame := append([]byte{}, Magic...)
	frame = append(frame, byte(value.Format))

	switch value.Format {
	case devicetypes.FormatInt8:
		frame = append(frame, byte(int8(value.Number)))
	case devicetypes.FormatFloat:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(value.Number)))
		frame = append(frame, b...)
	case devicetypes.FormatShort:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(value.Number)))
		frame = append(frame, b...)
	case devicetypes.FormatText:
		text := truncateText(value.Text)
		frame = append(frame, byte(len(text)))
		frame = append(frame, text...)
	}

	return append(frame, port, byte(kind))
}

// window returns body[off:off+n] when the slice is long enough
func window(body []byte, off, n int) ([]byte, bool) {
	if off+n > len(body) {
		return nil, false
	}
	return body[off : off+n], true
}

var half = decimal.NewFromFloat(0.5)

// round2 rounds to two decimals with halves going toward +Inf, so -0.125 becomes -0.12
func round2(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return decimal.NewFromFloat(f).Shift(2).Add(half).Floor().Shift(-2).InexactFloat64()
}
