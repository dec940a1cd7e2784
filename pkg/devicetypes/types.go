// pkg/devicetypes/types.go
package devicetypes

import "fmt"

// Common device type definitions shared by the protocol engine and the host surface

// DeviceKind identifies a sensor or actuator on the board
type DeviceKind uint8

const (
	KindAlive      DeviceKind = 0
	KindBuzzer     DeviceKind = 1
	KindVolume     DeviceKind = 2
	KindSound      DeviceKind = 3
	KindButton     DeviceKind = 4
	KindAmbient    DeviceKind = 5
	KindServo      DeviceKind = 6
	KindTone       DeviceKind = 7
	KindMotor      DeviceKind = 8
	KindNeopixel   DeviceKind = 9
	KindTemper     DeviceKind = 10
	KindUltrasonic DeviceKind = 11
	KindIRRange    DeviceKind = 12
	KindTouch      DeviceKind = 13
	KindTextLCD    DeviceKind = 14
	KindSegment    DeviceKind = 15
)

var kindNames = map[DeviceKind]string{
	KindAlive:      "ALIVE",
	KindBuzzer:     "BUZZER",
	KindVolume:     "VOLUME",
	KindSound:      "SOUND",
	KindButton:     "BUTTON",
	KindAmbient:    "AMBIENT",
	KindServo:      "SERVO",
	KindTone:       "TONE",
	KindMotor:      "MOTOR",
	KindNeopixel:   "NEOPIXEL",
	KindTemper:     "TEMPER",
	KindUltrasonic: "ULTRASONIC",
	KindIRRange:    "IRRANGE",
	KindTouch:      "TOUCH",
	KindTextLCD:    "TEXTLCD",
	KindSegment:    "SEGMENT",
}

// String returns the wire table name of the kind
func (k DeviceKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Valid reports whether the kind is part of the device table
func (k DeviceKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseDeviceKind resolves a table name (e.g. "BUZZER") to its kind
func ParseDeviceKind(name string) (DeviceKind, bool) {
	for kind, n := range kindNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// Action is the command verb carried by an outbound frame
type Action uint8

const (
	ActionGet   Action = 1
	ActionSet   Action = 2
	ActionReset Action = 3
	ActionCfg   Action = 4
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case ActionGet:
		return "GET"
	case ActionSet:
		return "SET"
	case ActionReset:
		return "RESET"
	case ActionCfg:
		return "CFG"
	default:
		return fmt.Sprintf("ACTION(%d)", uint8(a))
	}
}

// ValueFormat tags how an inbound value is encoded
type ValueFormat uint8

const (
	FormatInt8  ValueFormat = 1
	FormatFloat ValueFormat = 2
	FormatShort ValueFormat = 3
	FormatText  ValueFormat = 4
)

// String returns the format name
func (f ValueFormat) String() string {
	switch f {
	case FormatInt8:
		return "INT8"
	case FormatFloat:
		return "FLOAT"
	case FormatShort:
		return "SHORT"
	case FormatText:
		return "TEXT"
	default:
		return fmt.Sprintf("FORMAT(%d)", uint8(f))
	}
}

// DefaultPorts are the ports published to the host even before any reading arrives
var DefaultPorts = []int{0, 1, 2, 3}
