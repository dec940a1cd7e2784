// internal/model/reading.go
package model

import (
	"time"

	"github.com/google/uuid"

	"nori-bridge/pkg/devicetypes"
)

// Reading represents one decoded value reported by the board
type Reading struct {
	ID         uuid.UUID               `json:"id" db:"id"`
	SessionID  string                  `json:"session_id" db:"session_id"`
	Port       int                     `json:"port" db:"port"`
	DeviceKind devicetypes.DeviceKind  `json:"-" db:"device_kind"`
	KindName   string                  `json:"device_kind" db:"-"`
	Format     devicetypes.ValueFormat `json:"-" db:"value_format"`
	FormatName string                  `json:"value_format" db:"-"`
	Number     *float64                `json:"number,omitempty" db:"number_value"`
	Text       *string                 `json:"text,omitempty" db:"text_value"`
	ReceivedAt time.Time               `json:"received_at" db:"received_at"`
}

// NewReading builds a reading with a fresh id; text formats fill Text, all others Number
func NewReading(sessionID string, port int, kind devicetypes.DeviceKind, format devicetypes.ValueFormat, number float64, text string, at time.Time) *Reading {
	r := &Reading{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Port:       port,
		DeviceKind: kind,
		Format:     format,
		ReceivedAt: at,
	}
	if format == devicetypes.FormatText {
		r.Text = &text
	} else {
		r.Number = &number
	}
	r.Normalize()
	return r
}

// Normalize fills the display names from the numeric codes
func (r *Reading) Normalize() {
	r.KindName = r.DeviceKind.String()
	r.FormatName = r.Format.String()
}

// ReadingFilter represents reading history filters
type ReadingFilter struct {
	Port  *int       `form:"port" json:"port,omitempty"`
	Kind  *int       `form:"kind" json:"kind,omitempty"`
	Since *time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00" json:"since,omitempty"`
	Limit int        `form:"limit" json:"limit"`
}

// Matches reports whether r passes the filter
func (f *ReadingFilter) Matches(r *Reading) bool {
	if f.Port != nil && r.Port != *f.Port {
		return false
	}
	if f.Kind != nil && int(r.DeviceKind) != *f.Kind {
		return false
	}
	if f.Since != nil && r.ReceivedAt.Before(*f.Since) {
		return false
	}
	return true
}
