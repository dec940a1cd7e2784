package nori

import (
	"sync"
)

// fakeTransport records writes and holds completion/drain callbacks until the test releases them
type fakeTransport struct {
	mu        sync.Mutex
	writes    [][]byte
	completes []func(error)
	drains    []func()
	closed    bool
	closeErr  error
}

func (f *fakeTransport) Write(data []byte, onComplete func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte{}, data...))
	f.completes = append(f.completes, onComplete)
}

func (f *fakeTransport) Drain(onDrained func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains = append(f.drains, onDrained)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) written(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[i]
}

// complete fires the oldest pending write completion
func (f *fakeTransport) complete(err error) bool {
	f.mu.Lock()
	if len(f.completes) == 0 {
		f.mu.Unlock()
		return false
	}
	cb := f.completes[0]
	f.completes = f.completes[1:]
	f.mu.Unlock()

	cb(err)
	return true
}

// drain fires the oldest pending drain signal
func (f *fakeTransport) drain() bool {
	f.mu.Lock()
	if len(f.drains) == 0 {
		f.mu.Unlock()
		return false
	}
	cb := f.drains[0]
	f.drains = f.drains[1:]
	f.mu.Unlock()

	cb()
	return true
}

// flush completes and drains every outstanding write, including ones started while flushing
func (f *fakeTransport) flush() {
	for f.complete(nil) {
		f.drain()
	}
}

// fakeRemote is an in-memory RemoteHandler
type fakeRemote struct {
	sets    map[string]RequestSet
	written map[string]interface{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		sets:    make(map[string]RequestSet),
		written: make(map[string]interface{}),
	}
}

func (r *fakeRemote) Read(topic string) RequestSet {
	return r.sets[topic]
}

func (r *fakeRemote) Write(key string, value interface{}) {
	r.written[key] = value
}
