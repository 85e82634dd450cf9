package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame is one decoded protocol message. Sync and reserved bytes are implied.
type Frame struct {
	DataType DataType
	Payload  []byte
}

// NewFrame copies payload into a new frame
func NewFrame(dataType DataType, payload []byte) Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Frame{DataType: dataType, Payload: p}
}

// Length returns the logical payload length
func (f Frame) Length() uint32 {
	return uint32(len(f.Payload))
}

// Validate checks the data type and the fixed size for that type
func (f Frame) Validate() error {
	return validateLength(f.DataType, uint32(len(f.Payload)), DEFAULT_MAX_PAYLOAD_LENGTH)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s len=%d payload=% X", f.DataType, len(f.Payload), f.Payload)
}

// Codec encodes frames for the wire. The zero value is ready to use.
type Codec struct {
	// LegacyLengthFold reproduces the original ground-station encoder, which
	// added one to the low byte of the length field for every escape byte
	// inserted into the payload. The counter is a single byte and wraps past
	// 255 insertions without carrying into the rest of the field.
	LegacyLengthFold bool

	// MaxPayloadLength bounds unsized payloads; zero means DEFAULT_MAX_PAYLOAD_LENGTH
	MaxPayloadLength uint32
}

// Encode builds and stuffs a frame with the default codec
func Encode(dataType DataType, payload []byte) ([]byte, error) {
	return Codec{}.Encode(dataType, payload)
}

// Encode builds the raw frame for dataType and payload and applies byte stuffing
func (c Codec) Encode(dataType DataType, payload []byte) ([]byte, error) {
	if err := validateLength(dataType, uint32(len(payload)), c.maxPayload()); err != nil {
		return nil, err
	}

	raw := make([]byte, FRAME_HEADER_LENGTH+len(payload))
	raw[0] = SYNC_BYTE
	copy(raw[1:DATA_TYPE_OFFSET], RESERVED_BYTES[:])
	raw[DATA_TYPE_OFFSET] = byte(dataType)
	binary.BigEndian.PutUint32(raw[LENGTH_OFFSET:FRAME_HEADER_LENGTH], uint32(len(payload)))
	copy(raw[FRAME_HEADER_LENGTH:], payload)

	if c.LegacyLengthFold {
		var inserted byte
		for _, b := range payload {
			if b == SYNC_BYTE {
				inserted++
			}
		}
		raw[LEGACY_LENGTH_OFFSET] += inserted
	}

	return Stuff(raw), nil
}

// Stuff escapes every sync byte after the first by doubling it
func Stuff(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/16+1)
	for i, b := range raw {
		out = append(out, b)
		if i > 0 && b == SYNC_BYTE {
			out = append(out, SYNC_BYTE)
		}
	}
	return out
}

// Decode runs a fresh deframer over a complete byte buffer.
// Framing errors are collected rather than returned early.
func Decode(wire []byte) ([]Frame, []error) {
	return Codec{}.Decode(wire)
}

// Decode runs a fresh deframer with this codec's options over wire
func (c Codec) Decode(wire []byte) ([]Frame, []error) {
	d := NewDeframer(c)
	var frames []Frame
	var errs []error
	for _, b := range wire {
		frame, err := d.Feed(b)
		if err != nil {
			errs = append(errs, err)
		}
		if frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames, errs
}

// FormatBytes renders bytes in the "0x55 0xDE ..." form used by the test interface
func FormatBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, " ")
}

// ParseBytes reads bytes written as hex, either in the FormatBytes form or as
// bare hex digits with optional whitespace
func ParseBytes(s string) ([]byte, error) {
	var digits strings.Builder
	for _, field := range strings.Fields(s) {
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		digits.WriteString(field)
	}
	data, err := hex.DecodeString(digits.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex bytes: %w", err)
	}
	return data, nil
}

func (c Codec) maxPayload() uint32 {
	if c.MaxPayloadLength == 0 {
		return DEFAULT_MAX_PAYLOAD_LENGTH
	}
	return c.MaxPayloadLength
}

func validateLength(dataType DataType, length uint32, max uint32) error {
	if !dataType.IsValid() {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidDataType, uint8(dataType))
	}
	if expected, ok := dataType.FixedLength(); ok {
		if length != expected {
			return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrLengthMismatch, dataType, expected, length)
		}
		return nil
	}
	if length > max {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrMalformedLength, length, max)
	}
	return nil
}
