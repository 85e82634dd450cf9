package protocol

import (
	"errors"
	"fmt"
)

// Framing errors. All of them are recovered by discarding the partial frame
// and resynchronising on the byte stream.
var (
	ErrSync            = errors.New("frame sync lost")
	ErrInvalidDataType = errors.New("invalid frame data type")
	ErrLengthMismatch  = errors.New("frame data length does not match data type")
	ErrMalformedLength = errors.New("malformed frame data length")
	ErrPayloadSize     = errors.New("invalid payload size")
)

// MismatchError carries a discarded frame whose length disagrees with its
// data type, so a receiver can still answer it
type MismatchError struct {
	Frame    Frame
	Expected uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: %s wants %d bytes, got %d", ErrLengthMismatch, e.Frame.DataType, e.Expected, e.Frame.Length())
}

func (e *MismatchError) Unwrap() error {
	return ErrLengthMismatch
}
