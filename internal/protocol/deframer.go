package protocol

import (
	"encoding/binary"
	"fmt"
)

// DeframerState is the position of the deframer within a frame
type DeframerState int

const (
	AWAITING_SYNC DeframerState = iota
	READING_HEADER
	READING_LENGTH
	READING_PAYLOAD
)

func (s DeframerState) String() string {
	switch s {
	case AWAITING_SYNC:
		return "AWAITING_SYNC"
	case READING_HEADER:
		return "READING_HEADER"
	case READING_LENGTH:
		return "READING_LENGTH"
	case READING_PAYLOAD:
		return "READING_PAYLOAD"
	}
	return fmt.Sprintf("DeframerState(%d)", int(s))
}

// Deframer recovers frames from a stuffed byte stream fed one byte at a time.
// A Deframer is not safe for concurrent use; each transport owns one.
type Deframer struct {
	codec Codec
	state DeframerState

	// AWAITING_SYNC: a lone sync byte has been seen
	sawSync bool
	// Inside a frame: a sync byte is waiting for its escape partner
	escapePending bool

	header      [RESERVED_LENGTH + 1]byte
	headerCount int
	lengthField [LENGTH_FIELD_LENGTH]byte
	lengthCount int

	dataType  DataType
	length    uint32
	payload   []byte
	wireCount uint32
}

// NewDeframer creates a deframer using codec's length handling options
func NewDeframer(codec Codec) *Deframer {
	return &Deframer{codec: codec}
}

// State returns the current state
func (d *Deframer) State() DeframerState {
	return d.state
}

// Reset discards any partial frame
func (d *Deframer) Reset() {
	d.state = AWAITING_SYNC
	d.sawSync = false
	d.escapePending = false
	d.headerCount = 0
	d.lengthCount = 0
	d.dataType = 0
	d.length = 0
	d.payload = nil
	d.wireCount = 0
}

// Feed advances the state machine by one wire byte. It returns a frame when
// b completes one, or a framing error when b caused the partial frame to be
// discarded. Both are nil while a frame is in progress or noise is skipped.
func (d *Deframer) Feed(b byte) (*Frame, error) {
	if d.state == AWAITING_SYNC {
		if b == SYNC_BYTE {
			// sync,sync is an escaped byte in the middle of a frame we missed
			d.sawSync = !d.sawSync
			return nil, nil
		}
		if !d.sawSync {
			return nil, nil
		}
		d.begin()
		return d.accept(b)
	}

	if d.state == READING_PAYLOAD {
		d.wireCount++
	}

	if b == SYNC_BYTE {
		if !d.escapePending {
			d.escapePending = true
			return nil, nil
		}
		d.escapePending = false
		return d.accept(SYNC_BYTE)
	}

	if d.escapePending {
		// Unescaped sync followed by a data byte: a new frame started
		// before the current one completed.
		aborted := d.state
		d.begin()
		if _, err := d.accept(b); err != nil {
			return nil, fmt.Errorf("%w: frame interrupted in %s, restart failed: %v", ErrSync, aborted, err)
		}
		return nil, fmt.Errorf("%w: frame interrupted in %s", ErrSync, aborted)
	}

	return d.accept(b)
}

func (d *Deframer) begin() {
	d.Reset()
	d.state = READING_HEADER
}

// accept handles one logical (de-stuffed) byte
func (d *Deframer) accept(b byte) (*Frame, error) {
	switch d.state {
	case READING_HEADER:
		if d.headerCount < RESERVED_LENGTH {
			if b != RESERVED_BYTES[d.headerCount] {
				idx := d.headerCount
				d.Reset()
				return nil, fmt.Errorf("%w: reserved byte %d is 0x%02X", ErrSync, idx, b)
			}
			d.header[d.headerCount] = b
			d.headerCount++
			return nil, nil
		}
		dataType := DataType(b)
		if !dataType.IsValid() {
			d.Reset()
			return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidDataType, b)
		}
		d.header[d.headerCount] = b
		d.headerCount++
		d.dataType = dataType
		d.state = READING_LENGTH
		return nil, nil

	case READING_LENGTH:
		d.lengthField[d.lengthCount] = b
		d.lengthCount++
		if d.lengthCount < LENGTH_FIELD_LENGTH {
			return nil, nil
		}
		d.length = binary.BigEndian.Uint32(d.lengthField[:])
		if d.length > d.codec.maxPayload() {
			length := d.length
			d.Reset()
			return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrMalformedLength, length, d.codec.maxPayload())
		}
		if d.length == 0 {
			return d.complete()
		}
		d.payload = make([]byte, 0, d.length)
		d.wireCount = 0
		d.state = READING_PAYLOAD
		return nil, nil

	case READING_PAYLOAD:
		d.payload = append(d.payload, b)
		if d.payloadDone() {
			return d.complete()
		}
		return nil, nil
	}

	d.Reset()
	return nil, nil
}

func (d *Deframer) payloadDone() bool {
	if d.codec.LegacyLengthFold {
		return d.wireCount >= d.length
	}
	return uint32(len(d.payload)) >= d.length
}

func (d *Deframer) complete() (*Frame, error) {
	frame := Frame{DataType: d.dataType, Payload: d.payload}
	if frame.Payload == nil {
		frame.Payload = []byte{}
	}
	d.Reset()
	if expected, ok := frame.DataType.FixedLength(); ok && frame.Length() != expected {
		return nil, &MismatchError{Frame: frame, Expected: expected}
	}
	return &frame, nil
}
