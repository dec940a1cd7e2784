package serial

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNetworkAddress(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		network bool
	}{
		{"tcp://192.168.1.20:2000", "192.168.1.20:2000", true},
		{"tcp://", "", false},
		{"/dev/ttyACM0", "", false},
		{"COM3", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NetworkAddress(tt.name)
			assert.Equal(t, tt.network, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// echoServer accepts one connection and echoes everything back
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestConnection_NetworkPort(t *testing.T) {
	addr := echoServer(t)

	conn, err := NewConnection(&Config{
		Port:        NetworkScheme + addr,
		BaudRate:    115200,
		ReadTimeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, conn.Open(context.Background()))

	var (
		mu       sync.Mutex
		received []byte
	)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- conn.ReadLoop(ctx, func(chunk []byte) {
			mu.Lock()
			received = append(received, chunk...)
			mu.Unlock()
		})
	}()

	written := make(chan error, 1)
	conn.Write([]byte{0xFF, 0x2D, 0x01, 0x0D, 0x0A}, func(err error) { written <- err })
	require.NoError(t, <-written)

	drained := make(chan struct{})
	conn.Drain(func() { close(drained) })
	<-drained

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 5
	}, time.Second, 5*time.Millisecond)

	// read timeouts keep the loop alive
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-loopDone, context.Canceled)

	stats := conn.GetStats()
	assert.Equal(t, int64(5), stats.BytesWritten)
	assert.Equal(t, int64(5), stats.BytesRead)
	require.NoError(t, conn.Close())
}

func TestConnection_NetworkPortUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conn, err := NewConnection(&Config{Port: NetworkScheme + addr, BaudRate: 115200}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Error(t, conn.Open(context.Background()))
	assert.False(t, conn.IsOpen())
}
