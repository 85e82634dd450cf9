package link

import (
	"fmt"
	"log"

	"github.com/dbehnke/mercurygs/internal/protocol"
)

// Dispatcher routes completed frames to a handler per data type. Frames of a
// type with no handler set are dropped.
type Dispatcher struct {
	OnTelemetry           func(protocol.TelemetryData)
	OnRejection           func(protocol.TelemetryRejection)
	OnTelecommandResponse func(protocol.TelecommandResponse)

	// Device side of the link
	OnTelemetryRequest   func(protocol.TelemetryRequest)
	OnTelecommandRequest func(protocol.TelecommandRequest)

	Debug bool
	// Logger receives debug output; nil uses the standard logger
	Logger *log.Logger
}

// Dispatch decodes the frame payload and calls the matching handler
func (d *Dispatcher) Dispatch(frame protocol.Frame) error {
	switch frame.DataType {
	case protocol.TELEMETRY_DATA:
		if d.OnTelemetry == nil {
			break
		}
		msg, err := protocol.ParseTelemetryData(frame.Payload)
		if err != nil {
			return err
		}
		d.OnTelemetry(msg)
		return nil

	case protocol.TELEMETRY_REQUEST_REJECTION:
		if d.OnRejection == nil {
			break
		}
		msg, err := protocol.ParseTelemetryRejection(frame.Payload)
		if err != nil {
			return err
		}
		d.OnRejection(msg)
		return nil

	case protocol.TELECOMMAND_RESPONSE:
		if d.OnTelecommandResponse == nil {
			break
		}
		msg, err := protocol.ParseTelecommandResponse(frame.Payload)
		if err != nil {
			return err
		}
		d.OnTelecommandResponse(msg)
		return nil

	case protocol.TELEMETRY_REQUEST:
		if d.OnTelemetryRequest == nil {
			break
		}
		msg, err := protocol.ParseTelemetryRequest(frame.Payload)
		if err != nil {
			return err
		}
		d.OnTelemetryRequest(msg)
		return nil

	case protocol.TELECOMMAND_REQUEST:
		if d.OnTelecommandRequest == nil {
			break
		}
		msg, err := protocol.ParseTelecommandRequest(frame.Payload)
		if err != nil {
			return err
		}
		d.OnTelecommandRequest(msg)
		return nil

	default:
		if !frame.DataType.IsValid() {
			return fmt.Errorf("%w: 0x%02X", protocol.ErrInvalidDataType, uint8(frame.DataType))
		}
	}

	if d.Debug {
		logger := d.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("Dispatcher: dropping %s frame (%d bytes)", frame.DataType, len(frame.Payload))
	}
	return nil
}
