package nori

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nori-bridge/pkg/devicetypes"
)

func TestTryAccept_Monotonic(t *testing.T) {
	tests := []struct {
		name   string
		t1, t2 int64
		want   bool
	}{
		{"later time accepted", 100, 101, true},
		{"equal time rejected", 100, 100, false},
		{"earlier time rejected", 100, 99, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewPortTracker()
			require.True(t, tr.TryAccept(Single(1), tt.t1))
			assert.Equal(t, tt.want, tr.TryAccept(Single(1), tt.t2))
		})
	}
}

func TestTryAccept_InitialTimeIsZero(t *testing.T) {
	tr := NewPortTracker()
	assert.False(t, tr.TryAccept(Single(2), 0))
	assert.True(t, tr.TryAccept(Single(2), 1))
}

func TestTryAccept_GroupAllOrNothing(t *testing.T) {
	tr := NewPortTracker()
	require.True(t, tr.TryAccept(Single(2), 50))

	// port 1 would pass, port 2 fails
	assert.False(t, tr.TryAccept(Ports{1, 2}, 40))
	assert.Equal(t, int64(0), tr.State(1).LastAcceptedTime)
	assert.Equal(t, int64(50), tr.State(2).LastAcceptedTime)

	assert.True(t, tr.TryAccept(Ports{1, 2}, 60))
	assert.Equal(t, int64(60), tr.State(1).LastAcceptedTime)
	assert.Equal(t, int64(60), tr.State(2).LastAcceptedTime)
}

func TestDuplicateTracking(t *testing.T) {
	tr := NewPortTracker()
	assert.False(t, tr.IsDuplicate(Single(1), devicetypes.KindBuzzer, Numeric{Value: 5}))

	tr.RecordSent(Single(1), devicetypes.KindBuzzer, Numeric{Value: 5})
	assert.True(t, tr.IsDuplicate(Single(1), devicetypes.KindBuzzer, Numeric{Value: 5}))
	assert.False(t, tr.IsDuplicate(Single(1), devicetypes.KindBuzzer, Numeric{Value: 6}))
	assert.False(t, tr.IsDuplicate(Single(1), devicetypes.KindServo, Numeric{Value: 5}))
	assert.False(t, tr.IsDuplicate(Single(2), devicetypes.KindBuzzer, Numeric{Value: 5}))

	tr.RecordSent(Single(3), devicetypes.KindButton, nil)
	assert.True(t, tr.IsDuplicate(Single(3), devicetypes.KindButton, nil))
	assert.False(t, tr.IsDuplicate(Single(3), devicetypes.KindButton, Numeric{Value: 0}))
}

func TestClearResetsPorts(t *testing.T) {
	tr := NewPortTracker()
	tr.TryAccept(Ports{0, 1}, 10)
	tr.RecordSent(Single(0), devicetypes.KindBuzzer, Numeric{Value: 1})
	assert.Equal(t, []int{0, 1}, tr.KnownPorts())

	tr.Clear()
	assert.Empty(t, tr.KnownPorts())
	assert.Equal(t, PortState{}, tr.State(0))
}

func TestPortsJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Ports
	}{
		{`1`, Ports{1}},
		{`"2"`, Ports{2}},
		{`[0, 1]`, Ports{0, 1}},
		{`["2", 3]`, Ports{2, 3}},
	}
	for _, tt := range tests {
		var p Ports
		require.NoError(t, json.Unmarshal([]byte(tt.in), &p), tt.in)
		assert.Equal(t, tt.want, p)
	}

	var p Ports
	assert.Error(t, json.Unmarshal([]byte(`"a"`), &p))
	assert.Error(t, json.Unmarshal([]byte(`256`), &p))
	assert.Error(t, json.Unmarshal([]byte(`[0, -1]`), &p))
	assert.True(t, Ports{0, 255}.InRange())
	assert.False(t, Ports{0, 256}.InRange())

	b, err := json.Marshal(Ports{3})
	require.NoError(t, err)
	assert.Equal(t, `3`, string(b))
}
