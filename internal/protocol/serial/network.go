// internal/protocol/serial/network.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// NetworkScheme prefixes ports reached through a serial-over-TCP server such as ser2net
const NetworkScheme = "tcp://"

const (
	dialTimeout     = 5 * time.Second
	keepAlivePeriod = 30 * time.Second
)

// NetworkAddress returns the host:port of a network port name
func NetworkAddress(name string) (string, bool) {
	address, ok := strings.CutPrefix(name, NetworkScheme)
	if !ok || address == "" {
		return "", false
	}
	return address, true
}

// networkPort adapts a TCP connection to the serial port contract: a read
// that hits the read timeout returns zero bytes and no error.
type networkPort struct {
	conn        net.Conn
	readTimeout atomic.Int64
}

func dialNetwork(ctx context.Context, address string) (*networkPort, error) {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlivePeriod,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		// frames are small and latency matters more than packet count
		tcpConn.SetNoDelay(true)
	}

	return &networkPort{conn: conn}, nil
}

func (p *networkPort) Read(b []byte) (int, error) {
	if timeout := time.Duration(p.readTimeout.Load()); timeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}

	n, err := p.conn.Read(b)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (p *networkPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Drain is a no-op: written bytes are already in the kernel's socket buffer
func (p *networkPort) Drain() error {
	return nil
}

func (p *networkPort) SetReadTimeout(t time.Duration) error {
	p.readTimeout.Store(int64(t))
	return nil
}

func (p *networkPort) Close() error {
	return p.conn.Close()
}
