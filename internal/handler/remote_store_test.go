package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nori-bridge/internal/model"
	"nori-bridge/internal/protocol/nori"
	"nori-bridge/pkg/devicetypes"
)

type recordingHub struct {
	mu       sync.Mutex
	messages []interface{}
}

func (h *recordingHub) Broadcast(_ string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
}

func (h *recordingHub) ClientCount() int { return 3 }

func TestRemoteStore_MergesPerKey(t *testing.T) {
	store := NewRemoteStore()
	store.Update(
		nori.RequestSet{10: {Port: nori.Ports{1}, Time: 1}},
		nori.RequestSet{2: {Type: devicetypes.KindServo, Time: 1}},
	)
	store.Update(
		nori.RequestSet{11: {Port: nori.Ports{0}, Time: 2}},
		nori.RequestSet{2: {Type: devicetypes.KindServo, Time: 3}},
	)

	gets := store.Read(nori.TopicGet)
	assert.Equal(t, []int{10, 11}, gets.Keys())

	sets := store.Read(nori.TopicSet)
	require.Len(t, sets, 1)
	assert.Equal(t, int64(3), sets[2].Time)

	// nil entries delete
	store.Update(nori.RequestSet{10: nil}, nil)
	assert.Equal(t, []int{11}, store.Read(nori.TopicGet).Keys())

	assert.Nil(t, store.Read("OTHER"))

	store.Clear()
	assert.Empty(t, store.Read(nori.TopicGet))
	assert.Empty(t, store.Read(nori.TopicSet))
}

func TestRemoteStore_ReadReturnsSnapshot(t *testing.T) {
	store := NewRemoteStore()
	store.Update(nori.RequestSet{10: {Time: 1}}, nil)

	snapshot := store.Read(nori.TopicGet)
	delete(snapshot, 10)
	assert.Len(t, store.Read(nori.TopicGet), 1)
}

func TestRemoteStore_FlushOnlyWhenDirty(t *testing.T) {
	store := NewRemoteStore()
	assert.Equal(t, 0, store.ClientCount())
	store.Flush()

	hub := &recordingHub{}
	store.Attach(hub)
	assert.Equal(t, 3, store.ClientCount())

	store.Flush()
	assert.Empty(t, hub.messages)

	store.Write(nori.KeyPort, map[string]nori.Value{"0": nori.NumberValue(1)})
	store.Flush()
	store.Flush()
	require.Len(t, hub.messages, 1)

	state := hub.messages[0].(map[string]interface{})
	assert.Contains(t, state, nori.KeyPort)
	assert.Contains(t, store.State(), nori.KeyPort)
}

func TestSessionAgainstRemoteStore(t *testing.T) {
	store := NewRemoteStore()
	store.Update(nil, nori.RequestSet{1: {Type: devicetypes.KindBuzzer, Time: 1, Data: []byte(`5`)}})

	s := nori.NewSession()
	tr := &nopTransport{}
	s.Begin(tr)
	s.Ingest(append(nori.EncodeResponse(devicetypes.KindAlive, 0,
		nori.Value{Format: devicetypes.FormatText, Text: nori.CheckPhrase}), nori.Delimiter...))
	require.Equal(t, nori.StateConnected, s.State())

	assert.Equal(t, 10, s.HandleRemote(store))
	assert.Equal(t, 0, s.HandleRemote(store), "unchanged requests are debounced")

	s.PublishState(store)
	assert.Contains(t, store.State(), nori.KeyDebug)
}

type nopTransport struct{}

func (nopTransport) Write(_ []byte, onComplete func(error)) { onComplete(nil) }
func (nopTransport) Drain(onDrained func())                 { onDrained() }
func (nopTransport) Close() error                           { return nil }

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(nil)
	go bus.Start()
	defer bus.Close()

	connected := bus.Subscribe(model.EventBoardConnected)
	all := bus.Subscribe(AllEvents)

	bus.Publish(model.NewBridgeEvent(model.EventBoardReset, "s", nil))
	bus.Publish(model.NewBridgeEvent(model.EventBoardConnected, "s", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	select {
	case e := <-connected:
		assert.Equal(t, model.EventBoardConnected, e.EventType)
	case <-ctx.Done():
		t.Fatal("no event on typed subscription")
	}

	var types []model.EventType
	for len(types) < 2 {
		select {
		case e := <-all:
			types = append(types, e.EventType)
		case <-ctx.Done():
			t.Fatal("missing events on wildcard subscription")
		}
	}
	assert.Equal(t, []model.EventType{model.EventBoardReset, model.EventBoardConnected}, types)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	stats := limiter.Stats()
	assert.Equal(t, int64(2), stats.AllowedTotal)
	assert.Equal(t, int64(1), stats.RejectedTotal)
	assert.Equal(t, 2, stats.Burst)

	defaults := NewRateLimiter(0, 0)
	assert.Equal(t, 50.0, defaults.Stats().RatePerSecond)
	assert.Equal(t, 100, defaults.Stats().Burst)
}
