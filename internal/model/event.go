// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of bridge event
type EventType string

const (
	EventBoardConnected    EventType = "BOARD_CONNECTED"
	EventBoardDisconnected EventType = "BOARD_DISCONNECTED"
	EventBoardReset        EventType = "BOARD_RESET"
	EventBoardError        EventType = "BOARD_ERROR"
)

// BridgeEvent represents an event published to host clients
type BridgeEvent struct {
	ID        uuid.UUID      `json:"id"`
	EventType EventType      `json:"event_type"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  string         `json:"severity"` // INFO, WARNING, ERROR
}

// NewBridgeEvent stamps a new event
func NewBridgeEvent(eventType EventType, sessionID string, data map[string]any) *BridgeEvent {
	severity := "INFO"
	if eventType == EventBoardError {
		severity = "ERROR"
	}
	return &BridgeEvent{
		ID:        uuid.New(),
		EventType: eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
		Severity:  severity,
	}
}
