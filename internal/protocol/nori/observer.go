// internal/protocol/nori/observer.go
package nori

import "nori-bridge/pkg/devicetypes"

// Reject reasons reported to the Observer
const (
	RejectDebounce  = "debounce"
	RejectDuplicate = "duplicate"
	RejectRange     = "out_of_range"
)

// Observer receives engine events, typically to feed metrics
type Observer interface {
	FrameEncoded(action devicetypes.Action, kind devicetypes.DeviceKind)
	FrameDecoded(kind devicetypes.DeviceKind)
	FrameDropped()
	CommandRejected(reason string)
	QueueDepth(n int)
	BytesWritten(n int, err error)
	StateChanged(from, to State)
}

type nopObserver struct{}

func (nopObserver) FrameEncoded(devicetypes.Action, devicetypes.DeviceKind) {}
func (nopObserver) FrameDecoded(devicetypes.DeviceKind)                    {}
func (nopObserver) FrameDropped()                                          {}
func (nopObserver) CommandRejected(string)                                 {}
func (nopObserver) QueueDepth(int)                                         {}
func (nopObserver) BytesWritten(int, error)                                {}
func (nopObserver) StateChanged(State, State)                              {}

// NopObserver discards all events
func NopObserver() Observer { return nopObserver{} }
