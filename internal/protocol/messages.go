package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload shapes carried by the fixed-size data types. All fields are big-endian.

// TelemetryRequest asks the device for one telemetry channel
type TelemetryRequest struct {
	Channel uint32
}

func (m TelemetryRequest) Marshal() []byte {
	buf := make([]byte, TELEMETRY_REQUEST_LENGTH)
	binary.BigEndian.PutUint32(buf, m.Channel)
	return buf
}

func (m TelemetryRequest) Frame() Frame {
	return Frame{DataType: TELEMETRY_REQUEST, Payload: m.Marshal()}
}

func ParseTelemetryRequest(payload []byte) (TelemetryRequest, error) {
	if err := checkSize(TELEMETRY_REQUEST, payload); err != nil {
		return TelemetryRequest{}, err
	}
	return TelemetryRequest{Channel: binary.BigEndian.Uint32(payload)}, nil
}

// TelemetryData is the device's answer to a telemetry request
type TelemetryData struct {
	Channel uint32
	Value   uint64
}

func (m TelemetryData) Marshal() []byte {
	buf := make([]byte, TELEMETRY_DATA_LENGTH)
	binary.BigEndian.PutUint32(buf[0:4], m.Channel)
	binary.BigEndian.PutUint64(buf[4:12], m.Value)
	return buf
}

func (m TelemetryData) Frame() Frame {
	return Frame{DataType: TELEMETRY_DATA, Payload: m.Marshal()}
}

func ParseTelemetryData(payload []byte) (TelemetryData, error) {
	if err := checkSize(TELEMETRY_DATA, payload); err != nil {
		return TelemetryData{}, err
	}
	return TelemetryData{
		Channel: binary.BigEndian.Uint32(payload[0:4]),
		Value:   binary.BigEndian.Uint64(payload[4:12]),
	}, nil
}

// TelemetryRejection is sent instead of TelemetryData when a request cannot be served
type TelemetryRejection struct {
	Channel uint32
	Reason  RejectionReason
}

func (m TelemetryRejection) Marshal() []byte {
	buf := make([]byte, TELEMETRY_REQUEST_REJECTION_LENGTH)
	binary.BigEndian.PutUint32(buf[0:4], m.Channel)
	buf[4] = byte(m.Reason)
	return buf
}

func (m TelemetryRejection) Frame() Frame {
	return Frame{DataType: TELEMETRY_REQUEST_REJECTION, Payload: m.Marshal()}
}

func ParseTelemetryRejection(payload []byte) (TelemetryRejection, error) {
	if err := checkSize(TELEMETRY_REQUEST_REJECTION, payload); err != nil {
		return TelemetryRejection{}, err
	}
	return TelemetryRejection{
		Channel: binary.BigEndian.Uint32(payload[0:4]),
		Reason:  RejectionReason(payload[4]),
	}, nil
}

// TelecommandRequest carries a command number and an 8 byte argument
type TelecommandRequest struct {
	Number   uint32
	Argument [8]byte
}

func (m TelecommandRequest) Marshal() []byte {
	buf := make([]byte, TELECOMMAND_REQUEST_LENGTH)
	binary.BigEndian.PutUint32(buf[0:4], m.Number)
	copy(buf[4:12], m.Argument[:])
	return buf
}

func (m TelecommandRequest) Frame() Frame {
	return Frame{DataType: TELECOMMAND_REQUEST, Payload: m.Marshal()}
}

func ParseTelecommandRequest(payload []byte) (TelecommandRequest, error) {
	if err := checkSize(TELECOMMAND_REQUEST, payload); err != nil {
		return TelecommandRequest{}, err
	}
	m := TelecommandRequest{Number: binary.BigEndian.Uint32(payload[0:4])}
	copy(m.Argument[:], payload[4:12])
	return m, nil
}

// TelecommandResponse reports the outcome of a telecommand
type TelecommandResponse struct {
	Number uint32
	Status TelecommandStatus
}

func (m TelecommandResponse) Marshal() []byte {
	buf := make([]byte, TELECOMMAND_RESPONSE_LENGTH)
	binary.BigEndian.PutUint32(buf[0:4], m.Number)
	buf[4] = byte(m.Status)
	return buf
}

func (m TelecommandResponse) Frame() Frame {
	return Frame{DataType: TELECOMMAND_RESPONSE, Payload: m.Marshal()}
}

func ParseTelecommandResponse(payload []byte) (TelecommandResponse, error) {
	if err := checkSize(TELECOMMAND_RESPONSE, payload); err != nil {
		return TelecommandResponse{}, err
	}
	return TelecommandResponse{
		Number: binary.BigEndian.Uint32(payload[0:4]),
		Status: TelecommandStatus(payload[4]),
	}, nil
}

// Telecommand argument encodings, named as the operator console names them
const (
	ARG_STRING  = "String"
	ARG_INTEGER = "Integer"
	ARG_FLOAT   = "Floating Point"
)

// EncodeArgument packs an operator supplied argument into the 8 byte field.
// Strings are right aligned and padded with spaces.
func EncodeArgument(kind, data string) ([8]byte, error) {
	var arg [8]byte
	switch kind {
	case ARG_STRING:
		if len(data) > len(arg) {
			return arg, fmt.Errorf("string argument %q longer than %d bytes", data, len(arg))
		}
		copy(arg[:], strings.Repeat(" ", len(arg)-len(data))+data)
	case ARG_INTEGER:
		v, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
		if err != nil {
			return arg, fmt.Errorf("integer argument: %w", err)
		}
		binary.BigEndian.PutUint64(arg[:], uint64(v))
	case ARG_FLOAT:
		v, err := strconv.ParseFloat(strings.TrimSpace(data), 64)
		if err != nil {
			return arg, fmt.Errorf("floating point argument: %w", err)
		}
		binary.BigEndian.PutUint64(arg[:], math.Float64bits(v))
	default:
		return arg, fmt.Errorf("unknown argument type %q", kind)
	}
	return arg, nil
}

func checkSize(dataType DataType, payload []byte) error {
	expected, _ := dataType.FixedLength()
	if uint32(len(payload)) != expected {
		return fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrPayloadSize, dataType, len(payload), expected)
	}
	return nil
}
