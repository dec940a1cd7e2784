// internal/model/bridge.go
package model

import "time"

// BridgeStatus is the externally visible state of the bridge
type BridgeStatus struct {
	SessionID     string             `json:"session_id"`
	State         string             `json:"state"`
	SerialPort    string             `json:"serial_port,omitempty"`
	BaudRate      int                `json:"baud_rate,omitempty"`
	ConnectedAt   *time.Time         `json:"connected_at,omitempty"`
	QueueLength   int                `json:"queue_length"`
	WriteInFlight bool               `json:"write_in_flight"`
	NextIndex     int                `json:"next_index"`
	Ports         map[string]any     `json:"ports"`
	LastReceiveAt *time.Time         `json:"last_receive_at,omitempty"`
	LastSendAt    *time.Time         `json:"last_send_at,omitempty"`
	HostClients   int                `json:"host_clients"`
	Transport     *TransportCounters `json:"transport,omitempty"`
}

// TransportCounters mirrors the serial transport statistics
type TransportCounters struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	WriteCount   int64     `json:"write_count"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
}

// SerialPortInfo describes one enumerated serial port
type SerialPortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Matched      bool   `json:"matched"`
}

// ConnectRequest is the body of a connect call. Empty fields fall back to configuration.
type ConnectRequest struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate" binding:"omitempty,min=300,max=4000000"`
}
