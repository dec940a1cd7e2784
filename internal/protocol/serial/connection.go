// internal/protocol/serial/connection.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	// ErrPortNotOpen is reported for I/O on a closed connection
	ErrPortNotOpen = errors.New("port not open")
)

const (
	defaultReadBufferSize = 256
	defaultWriteQueueSize = 64
)

// Config represents serial port configuration
type Config struct {
	Port           string        `json:"port"`
	BaudRate       int           `json:"baud_rate"`
	DataBits       int           `json:"data_bits"`
	StopBits       int           `json:"stop_bits"`
	Parity         string        `json:"parity"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	ReadBufferSize int           `json:"read_buffer_size"`
	WriteQueueSize int           `json:"write_queue_size"`
}

// Mode converts the configuration to a serial.Mode
func (c *Config) Mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch c.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch c.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Port is the byte stream a Connection drives. serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	Drain() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a named port
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Stats provides transport-level counters
type Stats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	WriteCount   int64     `json:"write_count"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	IsConnected  bool      `json:"is_connected"`
}

type job struct {
	data       []byte
	onComplete func(error)
	onDrained  func()
}

// Connection represents a serial port connection. Writes and drains are
// executed in order on a dedicated goroutine so callers never block on the port.
type Connection struct {
	config *Config
	opener Opener
	port   Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup

	bytesWritten atomic.Int64
	bytesRead    atomic.Int64
	writeCount   atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64
}

// ConnectionOption configures a Connection
type ConnectionOption func(*Connection)

// WithOpener replaces serial.Open
func WithOpener(opener Opener) ConnectionOption {
	return func(c *Connection) {
		if opener != nil {
			c.opener = opener
		}
	}
}

// NewConnection creates a new serial connection
func NewConnection(config *Config, logger *zap.Logger, opts ...ConnectionOption) (*Connection, error) {
	if config == nil || config.Port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if config.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate: %d", config.BaudRate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{
		config: config,
		opener: serial.Open,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Open opens the serial connection and starts the writer
func (c *Connection) Open(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := c.openPort(ctx)
	if err != nil {
		c.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if c.config.ReadTimeout > 0 {
		if err := port.SetReadTimeout(c.config.ReadTimeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	size := c.config.WriteQueueSize
	if size <= 0 {
		size = defaultWriteQueueSize
	}

	c.port = port
	c.isOpen = true
	c.jobs = make(chan job, size)
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.writer(port, c.jobs, c.done)

	c.logger.Info("Serial port opened successfully",
		zap.Int("baud_rate", c.config.BaudRate),
	)
	return nil
}

// openPort dials network addresses and opens everything else as a local device
func (c *Connection) openPort(ctx context.Context) (Port, error) {
	if address, ok := NetworkAddress(c.config.Port); ok {
		port, err := dialNetwork(ctx, address)
		if err != nil {
			return nil, err
		}
		return port, nil
	}

	port, err := c.opener(c.config.Port, c.config.Mode())
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Close stops the writer and closes the port. Pending callbacks are dropped.
func (c *Connection) Close() error {
	c.mutex.Lock()
	if !c.isOpen || c.port == nil {
		c.mutex.Unlock()
		return nil
	}
	port := c.port
	close(c.done)
	c.port = nil
	c.isOpen = false
	c.mutex.Unlock()

	// closing the port unblocks a writer stuck in Write or Drain
	err := port.Close()
	c.wg.Wait()

	if err != nil {
		c.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	c.logger.Info("Serial port closed")
	return nil
}

// Write queues data for the writer; onComplete receives the write result
func (c *Connection) Write(data []byte, onComplete func(error)) {
	c.submit(job{data: data, onComplete: onComplete})
}

// Drain calls onDrained once everything written so far has left the port
func (c *Connection) Drain(onDrained func()) {
	c.submit(job{onDrained: onDrained})
}

func (c *Connection) submit(j job) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.isOpen {
		if j.onComplete != nil {
			go j.onComplete(ErrPortNotOpen)
		}
		return
	}

	select {
	case c.jobs <- j:
	case <-c.done:
	}
}

func (c *Connection) writer(port Port, jobs <-chan job, done <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-done:
			return
		case j := <-jobs:
			if j.onDrained != nil {
				if err := port.Drain(); err != nil {
					c.errorCount.Add(1)
					c.logger.Warn("Failed to drain serial port", zap.Error(err))
				}
				j.onDrained()
				continue
			}

			err := c.writeAll(port, j.data)
			if j.onComplete != nil {
				j.onComplete(err)
			}
		}
	}
}

func (c *Connection) writeAll(port Port, data []byte) error {
	written := 0
	for written < len(data) {
		n, err := port.Write(data[written:])
		written += n
		if err != nil {
			c.errorCount.Add(1)
			c.logger.Error("Failed to write to serial port",
				zap.Error(err),
				zap.Int("bytes_to_write", len(data)),
			)
			return fmt.Errorf("failed to write to serial port: %w", err)
		}
		if n == 0 {
			c.errorCount.Add(1)
			return fmt.Errorf("incomplete write: wrote %d of %d bytes", written, len(data))
		}
	}

	c.bytesWritten.Add(int64(written))
	c.writeCount.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())

	c.logger.Debug("Data written to serial port",
		zap.Int("bytes_written", written),
		zap.Binary("data", data),
	)
	return nil
}

// ReadLoop reads chunks and hands each one to sink until ctx is cancelled or
// the port fails. The chunk passed to sink is not reused.
func (c *Connection) ReadLoop(ctx context.Context, sink func([]byte)) error {
	c.mutex.RLock()
	port := c.port
	open := c.isOpen
	c.mutex.RUnlock()

	if !open || port == nil {
		return ErrPortNotOpen
	}

	size := c.config.ReadBufferSize
	if size <= 0 {
		size = defaultReadBufferSize
	}
	buffer := make([]byte, size)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := port.Read(buffer)
		if err != nil {
			if !c.IsOpen() {
				return ErrPortNotOpen
			}
			c.errorCount.Add(1)
			c.logger.Error("Failed to read from serial port", zap.Error(err))
			return fmt.Errorf("failed to read from serial port: %w", err)
		}
		if n == 0 {
			// read timeout
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buffer[:n])
		c.bytesRead.Add(int64(n))
		c.lastActivity.Store(time.Now().UnixNano())

		c.logger.Debug("Data read from serial port",
			zap.Int("bytes_read", n),
			zap.Binary("data", chunk),
		)
		sink(chunk)
	}
}

// IsOpen returns whether the connection is open
func (c *Connection) IsOpen() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isOpen
}

// GetStats returns transport counters
func (c *Connection) GetStats() Stats {
	stats := Stats{
		BytesWritten: c.bytesWritten.Load(),
		BytesRead:    c.bytesRead.Load(),
		WriteCount:   c.writeCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		IsConnected:  c.IsOpen(),
	}
	if ts := c.lastActivity.Load(); ts != 0 {
		stats.LastActivity = time.Unix(0, ts)
	}
	return stats
}
