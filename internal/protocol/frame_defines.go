package protocol

import "fmt"

// Link protocol constants

const (
	// Framing
	SYNC_BYTE            = 0x55 // Frame delimiter, doubled when it appears inside a frame
	RESERVED_LENGTH      = 3    // Reserved bytes after the sync byte
	DATA_TYPE_OFFSET     = 4    // Data type byte offset (pre-stuffing)
	LENGTH_OFFSET        = 5    // Data length field offset (pre-stuffing)
	LENGTH_FIELD_LENGTH  = 4    // Data length field size, big-endian
	FRAME_HEADER_LENGTH  = 9    // sync + reserved + data type + length
	LEGACY_LENGTH_OFFSET = 8    // Low byte of the length field, target of the legacy escape fold

	// Payload size limits
	DEFAULT_MAX_PAYLOAD_LENGTH = 1024 // Upper bound for unsized (file) payloads and length sanity checks
)

// RESERVED_BYTES fill offsets 1..3 of every frame
var RESERVED_BYTES = [RESERVED_LENGTH]byte{0xDE, 0xAD, 0xBE}

// DataType identifies the payload carried by a frame
type DataType uint8

const (
	TELECOMMAND_REQUEST         DataType = 0x01
	TELECOMMAND_RESPONSE        DataType = 0x02
	TELEMETRY_DATA              DataType = 0x03
	TELEMETRY_REQUEST           DataType = 0x04
	FILE_UPLOAD                 DataType = 0x05
	FILE_DOWNLOAD               DataType = 0x06
	TELEMETRY_REQUEST_REJECTION DataType = 0x07
)

// Fixed payload sizes per data type
const (
	TELECOMMAND_REQUEST_LENGTH         = 12 // number(4) + argument(8)
	TELECOMMAND_RESPONSE_LENGTH        = 5  // number(4) + status(1)
	TELEMETRY_DATA_LENGTH              = 12 // channel(4) + value(8)
	TELEMETRY_REQUEST_LENGTH           = 4  // channel(4)
	TELEMETRY_REQUEST_REJECTION_LENGTH = 5  // channel(4) + reason(1)
)

// IsValid reports whether t is a recognised data type
func (t DataType) IsValid() bool {
	return t >= TELECOMMAND_REQUEST && t <= TELEMETRY_REQUEST_REJECTION
}

// FixedLength returns the required payload length for t.
// ok is false for types without a fixed size (file transfer, unknown).
func (t DataType) FixedLength() (length uint32, ok bool) {
	switch t {
	case TELECOMMAND_REQUEST:
		return TELECOMMAND_REQUEST_LENGTH, true
	case TELECOMMAND_RESPONSE:
		return TELECOMMAND_RESPONSE_LENGTH, true
	case TELEMETRY_DATA:
		return TELEMETRY_DATA_LENGTH, true
	case TELEMETRY_REQUEST:
		return TELEMETRY_REQUEST_LENGTH, true
	case TELEMETRY_REQUEST_REJECTION:
		return TELEMETRY_REQUEST_REJECTION_LENGTH, true
	}
	return 0, false
}

// String returns the protocol name of the data type
func (t DataType) String() string {
	switch t {
	case TELECOMMAND_REQUEST:
		return "TELECOMMAND_REQUEST"
	case TELECOMMAND_RESPONSE:
		return "TELECOMMAND_RESPONSE"
	case TELEMETRY_DATA:
		return "TELEMETRY_DATA"
	case TELEMETRY_REQUEST:
		return "TELEMETRY_REQUEST"
	case FILE_UPLOAD:
		return "FILE_UPLOAD"
	case FILE_DOWNLOAD:
		return "FILE_DOWNLOAD"
	case TELEMETRY_REQUEST_REJECTION:
		return "TELEMETRY_REQUEST_REJECTION"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
}

// TelecommandStatus is the result code carried by a telecommand response
type TelecommandStatus uint8

const (
	TC_SUCCESS                  TelecommandStatus = 0x00
	TC_FAILED                   TelecommandStatus = 0x01
	TC_INVALID_LENGTH           TelecommandStatus = 0x02
	TC_COMMAND_NOT_SUPPORTED    TelecommandStatus = 0x03
	TC_INVALID_COMMAND_ARGUMENT TelecommandStatus = 0x04
)

func (s TelecommandStatus) String() string {
	switch s {
	case TC_SUCCESS:
		return "SUCCESS"
	case TC_FAILED:
		return "FAILED"
	case TC_INVALID_LENGTH:
		return "INVALID_LENGTH"
	case TC_COMMAND_NOT_SUPPORTED:
		return "COMMAND_NOT_SUPPORTED"
	case TC_INVALID_COMMAND_ARGUMENT:
		return "INVALID_COMMAND_ARGUMENT"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
}

// RejectionReason explains why the device refused a telemetry request
type RejectionReason uint8

const (
	TM_CHANNEL_NOT_SUPPORTED RejectionReason = 0x00
	TM_INVALID_DATA_LENGTH   RejectionReason = 0x01
)

func (r RejectionReason) String() string {
	switch r {
	case TM_CHANNEL_NOT_SUPPORTED:
		return "CHANNEL_NOT_SUPPORTED"
	case TM_INVALID_DATA_LENGTH:
		return "INVALID_DATA_LENGTH"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(r))
}
