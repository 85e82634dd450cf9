package link

import (
	"fmt"
	"time"

	"github.com/dbehnke/mercurygs/internal/protocol"
)

// RequestKind distinguishes the two request/response exchanges
type RequestKind uint8

const (
	KindTelemetry RequestKind = iota + 1
	KindTelecommand
)

func (k RequestKind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindTelecommand:
		return "telecommand"
	}
	return fmt.Sprintf("RequestKind(%d)", uint8(k))
}

// Event is delivered to subscribers. The concrete types are listed below.
type Event interface {
	Time() time.Time
}

// TelemetryReceived is published for every TELEMETRY_DATA frame. Matched is
// false for data nobody asked for, such as periodic pushes from the device.
type TelemetryReceived struct {
	Channel uint32
	Value   uint64
	Matched bool
	At      time.Time
}

// TelecommandResponseReceived is published for every TELECOMMAND_RESPONSE frame
type TelecommandResponseReceived struct {
	Number  uint32
	Status  protocol.TelecommandStatus
	Matched bool
	At      time.Time
}

// RejectionReceived is published when the device refuses a telemetry request
type RejectionReceived struct {
	Channel uint32
	Reason  protocol.RejectionReason
	Matched bool
	At      time.Time
}

// TimeoutOccurred is published when a pending request expires unanswered
type TimeoutOccurred struct {
	Kind RequestKind
	ID   uint32
	At   time.Time
}

// RequestSent is published after a request frame has been written
type RequestSent struct {
	Kind       RequestKind
	ID         uint32
	Continuous bool
	At         time.Time
}

// Fault reports a problem the operator should see. The link keeps running.
type Fault struct {
	Message string
	Err     error
	At      time.Time
}

func (e TelemetryReceived) Time() time.Time           { return e.At }
func (e TelecommandResponseReceived) Time() time.Time { return e.At }
func (e RejectionReceived) Time() time.Time           { return e.At }
func (e TimeoutOccurred) Time() time.Time             { return e.At }
func (e RequestSent) Time() time.Time                 { return e.At }
func (e Fault) Time() time.Time                       { return e.At }

func (e Fault) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}
