// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"nori-bridge/internal/model"
	"nori-bridge/internal/protocol/nori"
	transport "nori-bridge/internal/protocol/serial"
)

// ErrBoardNotFound is returned when no port answers the handshake
var ErrBoardNotFound = errors.New("no board answered the handshake")

// Config for the serial scanner
type Config struct {
	PortPatterns []string      `json:"port_patterns"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	CheckPhrase  string        `json:"check_phrase"`
	Serial       transport.Config
}

// PortLister enumerates serial ports
type PortLister func() ([]*enumerator.PortDetails, error)

// Scanner lists serial ports and probes them for a board
type Scanner struct {
	logger *zap.Logger
	config *Config
	lister PortLister
	opener transport.Opener
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithPortLister replaces the OS enumerator
func WithPortLister(lister PortLister) ScannerOption {
	return func(s *Scanner) { s.lister = lister }
}

// WithOpener replaces serial.Open for probing
func WithOpener(opener transport.Opener) ScannerOption {
	return func(s *Scanner) { s.opener = opener }
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config, opts ...ScannerOption) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if len(config.PortPatterns) == 0 {
		config.PortPatterns = getDefaultPortPatterns()
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if config.CheckPhrase == "" {
		config.CheckPhrase = nori.CheckPhrase
	}

	s := &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		config: config,
		lister: listPorts,
		opener: bugserial.Open,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// listPorts prefers detailed USB information and falls back to plain names
func listPorts() ([]*enumerator.PortDetails, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		return details, nil
	}

	names, nameErr := bugserial.GetPortsList()
	if nameErr != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", errors.Join(err, nameErr))
	}
	details = make([]*enumerator.PortDetails, 0, len(names))
	for _, name := range names {
		details = append(details, &enumerator.PortDetails{Name: name})
	}
	return details, nil
}

// ListPorts enumerates the serial ports on this host
func (s *Scanner) ListPorts() ([]model.SerialPortInfo, error) {
	details, err := s.lister()
	if err != nil {
		return nil, err
	}

	ports := make([]model.SerialPortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, model.SerialPortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
			Matched:      s.matches(d.Name),
		})
	}
	return ports, nil
}

// Probe opens name, sends the ALIVE query and waits for the identity phrase
func (s *Scanner) Probe(ctx context.Context, name string) (bool, error) {
	cfg := s.config.Serial
	cfg.Port = name
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 50 * time.Millisecond
	}

	conn, err := transport.NewConnection(&cfg, s.logger, transport.WithOpener(s.opener))
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	if err := conn.Open(ctx); err != nil {
		return false, err
	}
	defer conn.Close()

	session := nori.NewSession(nori.WithCheckPhrase(s.config.CheckPhrase))
	session.Begin(conn)

	var (
		mu     sync.Mutex
		buf    []byte
		found  bool
		doneCh = make(chan struct{})
	)
	go func() {
		defer close(doneCh)
		conn.ReadLoop(ctx, func(chunk []byte) {
			mu.Lock()
			defer mu.Unlock()
			buf = append(buf, chunk...)
			if session.CheckHandshake(buf) {
				found = true
				cancel()
			}
		})
	}()
	<-doneCh

	mu.Lock()
	defer mu.Unlock()
	s.logger.Debug("Probe finished", zap.String("port", name), zap.Bool("found", found))
	return found, nil
}

// FindBoard probes every matching port and returns the first that answers
func (s *Scanner) FindBoard(ctx context.Context) (string, error) {
	s.logger.Info("Starting serial port scan")

	ports, err := s.ListPorts()
	if err != nil {
		return "", err
	}

	for _, port := range ports {
		if !port.Matched {
			continue
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		ok, err := s.Probe(ctx, port.Name)
		if err != nil {
			s.logger.Debug("Port probe failed", zap.String("port", port.Name), zap.Error(err))
			continue
		}
		if ok {
			s.logger.Info("Board found", zap.String("port", port.Name))
			return port.Name, nil
		}
	}

	return "", ErrBoardNotFound
}

func (s *Scanner) matches(name string) bool {
	for _, pattern := range s.config.PortPatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// getDefaultPortPatterns returns platform-specific port name fragments
func getDefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM"}
	case "darwin":
		return []string{"cu.usbserial", "cu.usbmodem", "cu.wchusbserial"}
	default:
		return []string{"ttyUSB", "ttyACM"}
	}
}
