package database

import (
	"fmt"
	"time"
)

// Event kinds stored in LinkEvent.Kind
const (
	EVENT_REQUEST              = "request"
	EVENT_TELEMETRY            = "telemetry"
	EVENT_TELECOMMAND_RESPONSE = "telecommand_response"
	EVENT_REJECTION            = "rejection"
	EVENT_TIMEOUT              = "timeout"
	EVENT_FAULT                = "fault"
)

// LinkEvent is one journalled occurrence on the link
type LinkEvent struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Kind        string    `gorm:"index;size:32;not null" json:"kind"`
	RequestKind string    `gorm:"size:16" json:"request_kind,omitempty"`
	Identifier  uint32    `gorm:"index" json:"identifier"`
	Outcome     string    `gorm:"size:64" json:"outcome,omitempty"`
	Matched     bool      `json:"matched"`
	Continuous  bool      `json:"continuous"`
	Message     string    `gorm:"size:512" json:"message,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (LinkEvent) TableName() string {
	return "link_events"
}

// IsValid checks if the event has required fields
func (e LinkEvent) IsValid() bool {
	return e.Kind != ""
}

// String returns a formatted string representation
func (e LinkEvent) String() string {
	result := fmt.Sprintf("%s %d", e.Kind, e.Identifier)
	if e.Outcome != "" {
		result += fmt.Sprintf(" [%s]", e.Outcome)
	}
	if e.Message != "" {
		result += fmt.Sprintf(" - %s", e.Message)
	}
	return result
}

// TelemetrySample is one value received on a telemetry channel. SQLite
// integers are signed, so the raw value is kept as its int64 bit pattern.
type TelemetrySample struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Channel    uint32    `gorm:"index:idx_channel_received,priority:1;not null" json:"channel"`
	Raw        int64     `gorm:"column:value" json:"-"`
	Matched    bool      `json:"matched"`
	ReceivedAt time.Time `gorm:"index:idx_channel_received,priority:2" json:"received_at"`
}

// TableName specifies the table name for GORM
func (TelemetrySample) TableName() string {
	return "telemetry_samples"
}

// NewTelemetrySample builds a sample from a decoded value
func NewTelemetrySample(channel uint32, value uint64, matched bool, at time.Time) TelemetrySample {
	return TelemetrySample{
		Channel:    channel,
		Raw:        int64(value),
		Matched:    matched,
		ReceivedAt: at,
	}
}

// Reading returns the sample value as received
func (s TelemetrySample) Reading() uint64 {
	return uint64(s.Raw)
}
