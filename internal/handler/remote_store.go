// internal/handler/remote_store.go
package handler

import (
	"maps"
	"sync"

	"nori-bridge/internal/protocol/nori"
)

// Broadcaster pushes a message to every connected host client
type Broadcaster interface {
	Broadcast(messageType string, data interface{})
	ClientCount() int
}

// RemoteStore holds the host's pending GET and SET requests and the device
// state written back by the session. Requests are merged per key, so a host
// only needs to send the entries that changed.
type RemoteStore struct {
	mu    sync.RWMutex
	gets  nori.RequestSet
	sets  nori.RequestSet
	state map[string]interface{}
	dirty bool
	hub   Broadcaster
}

// NewRemoteStore creates an empty store
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		gets:  make(nori.RequestSet),
		sets:  make(nori.RequestSet),
		state: make(map[string]interface{}),
	}
}

// Attach sets where Flush broadcasts to
func (r *RemoteStore) Attach(hub Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hub = hub
}

// Update merges host requests into the store. A nil entry removes its key.
func (r *RemoteStore) Update(gets, sets nori.RequestSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	merge(r.gets, gets)
	merge(r.sets, sets)
}

func merge(dst, src nori.RequestSet) {
	for key, req := range src {
		if req == nil {
			delete(dst, key)
			continue
		}
		dst[key] = req
	}
}

// Read returns a snapshot of the pending requests for topic
func (r *RemoteStore) Read(topic string) nori.RequestSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch topic {
	case nori.TopicGet:
		return maps.Clone(r.gets)
	case nori.TopicSet:
		return maps.Clone(r.sets)
	default:
		return nil
	}
}

// Write stores device state for the next flush
func (r *RemoteStore) Write(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state[key] = value
	r.dirty = true
}

// State returns a copy of the device state last written
func (r *RemoteStore) State() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.state)
}

// Clear drops all pending requests
func (r *RemoteStore) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.gets)
	clear(r.sets)
}

// Flush broadcasts the device state if it changed since the last flush
func (r *RemoteStore) Flush() {
	r.mu.Lock()
	if !r.dirty || r.hub == nil {
		r.mu.Unlock()
		return
	}
	r.dirty = false
	state := maps.Clone(r.state)
	hub := r.hub
	r.mu.Unlock()

	hub.Broadcast(MessageSensorData, state)
}

// ClientCount returns the number of connected host clients
func (r *RemoteStore) ClientCount() int {
	r.mu.RLock()
	hub := r.hub
	r.mu.RUnlock()

	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}
