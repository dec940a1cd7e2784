package nori

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nori-bridge/pkg/devicetypes"
)

func setRequest(kind devicetypes.DeviceKind, at int64, data string) *Request {
	req := &Request{Type: kind, Time: at}
	if data != "" {
		req.Data = json.RawMessage(data)
	}
	return req
}

func TestDispatch_DedupSuppressesRepeatedSet(t *testing.T) {
	d := NewDispatcher(NewPortTracker(), nil, nil)

	first := d.Dispatch(nil, RequestSet{1: setRequest(devicetypes.KindBuzzer, 1, `5`)})
	assert.Equal(t, []byte{0xFF, 0x2D, 0x07, 0x00, 0x02, 0x01, 0x01, 0x05, 0x00, 0x0A}, first)

	second := d.Dispatch(nil, RequestSet{1: setRequest(devicetypes.KindBuzzer, 2, `5`)})
	assert.Nil(t, second)

	third := d.Dispatch(nil, RequestSet{1: setRequest(devicetypes.KindBuzzer, 3, `6`)})
	require.NotNil(t, third)
	assert.Equal(t, byte(1), third[3], "suppressed commands do not consume an index")
}

func TestDispatch_DebounceRejectsStaleSet(t *testing.T) {
	d := NewDispatcher(NewPortTracker(), nil, nil)

	require.NotNil(t, d.Dispatch(nil, RequestSet{2: setRequest(devicetypes.KindServo, 10, `90`)}))
	assert.Nil(t, d.Dispatch(nil, RequestSet{2: setRequest(devicetypes.KindServo, 10, `45`)}))
	assert.Nil(t, d.Dispatch(nil, RequestSet{2: setRequest(devicetypes.KindServo, 9, `45`)}))
	assert.NotNil(t, d.Dispatch(nil, RequestSet{2: setRequest(devicetypes.KindServo, 11, `45`)}))
}

func TestDispatch_GetRequests(t *testing.T) {
	d := NewDispatcher(NewPortTracker(), nil, nil)

	gets := RequestSet{
		int(devicetypes.KindUltrasonic): {Port: Ports{2, 3}, Time: 5},
		int(devicetypes.KindButton):     {Port: Single(1), Time: 5, Data: json.RawMessage(`0`)},
	}
	buf := d.Dispatch(gets, nil)

	frames := [][]byte{
		// BUTTON (4) is dispatched before ULTRASONIC (11); the explicit zero is a payload
		{0xFF, 0x2D, 0x07, 0x00, 0x01, 0x04, 0x01, 0x00, 0x00, 0x0A},
		{0xFF, 0x2D, 0x05, 0x01, 0x01, 0x0B, 0x02, 0x0A},
	}
	assert.Equal(t, append(append([]byte{}, frames[0]...), frames[1]...), buf)

	// the group moved together
	assert.Nil(t, d.Dispatch(RequestSet{int(devicetypes.KindTouch): {Port: Single(3), Time: 5}}, nil))
}

func TestDispatch_OrderAndConcatenation(t *testing.T) {
	d := NewDispatcher(NewPortTracker(), nil, nil)

	gets := RequestSet{int(devicetypes.KindAmbient): {Port: Single(0), Time: 1}}
	sets := RequestSet{
		3: setRequest(devicetypes.KindSegment, 1, `{"value": 12, "colon": 0}`),
		1: setRequest(devicetypes.KindBuzzer, 1, `1`),
	}
	buf := d.Dispatch(gets, sets)

	frames := splitOutbound(buf)
	require.Len(t, frames, 3)
	assert.Equal(t, byte(devicetypes.KindAmbient), frames[0][5])
	assert.Equal(t, byte(devicetypes.KindBuzzer), frames[1][5])
	assert.Equal(t, byte(devicetypes.KindSegment), frames[2][5])
	for i, f := range frames {
		assert.Equal(t, byte(i), f[3])
	}
}

func TestDispatch_MalformedStructuredPayloadResets(t *testing.T) {
	d := NewDispatcher(NewPortTracker(), nil, nil)

	buf := d.Dispatch(nil, RequestSet{0: setRequest(devicetypes.KindTextLCD, 1, `"not a record"`)})
	assert.Equal(t, []byte{0xFF, 0x2D, 0x05, 0x00, 0x03, 0x0E, 0x00, 0x0A}, buf)
}

func TestDispatch_EmptyInputs(t *testing.T) {
	d := NewDispatcher(NewPortTracker(), nil, nil)

	assert.Nil(t, d.Dispatch(nil, nil))
	assert.Nil(t, d.Dispatch(RequestSet{}, RequestSet{1: nil}))
}

// splitOutbound cuts concatenated outbound frames using their length byte
func splitOutbound(buf []byte) [][]byte {
	var frames [][]byte
	for len(buf) >= 3 {
		n := 3 + int(buf[2])
		if n > len(buf) {
			break
		}
		frames = append(frames, buf[:n])
		buf = buf[n:]
	}
	return frames
}

type rejectCounter struct {
	nopObserver
	reasons []string
}

func (r *rejectCounter) CommandRejected(reason string) {
	r.reasons = append(r.reasons, reason)
}

func TestDispatch_RejectsPortsOutsideFrameRange(t *testing.T) {
	obs := &rejectCounter{}
	tracker := NewPortTracker()
	d := NewDispatcher(tracker, obs, nil)

	sets := RequestSet{
		256: setRequest(devicetypes.KindBuzzer, 1, `5`),
		-1:  setRequest(devicetypes.KindBuzzer, 1, `5`),
	}
	gets := RequestSet{
		int(devicetypes.KindButton): {Port: Ports{1, 300}, Time: 1},
		300:                         {Port: Single(0), Time: 1},
	}
	assert.Nil(t, d.Dispatch(gets, sets))
	assert.Equal(t, []string{RejectRange, RejectRange, RejectRange, RejectRange}, obs.reasons)
	assert.Empty(t, tracker.KnownPorts(), "rejected requests leave no debounce state")
	assert.Equal(t, byte(0), d.NextIndex())

	// port 255 is still addressable
	buf := d.Dispatch(nil, RequestSet{255: setRequest(devicetypes.KindBuzzer, 1, `5`)})
	require.NotNil(t, buf)
	assert.Equal(t, byte(255), buf[6])
}
