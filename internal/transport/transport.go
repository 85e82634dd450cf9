// Package transport provides the byte-stream media the link runs over.
package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrReadTimeout  = errors.New("read timeout")
	ErrWriteTimeout = errors.New("write timeout")
	ErrPortNotOpen  = errors.New("port not open")
	ErrClosed       = errors.New("transport closed")
)

// Transport is a full-duplex byte stream. ReadByte blocks until a byte is
// available, the medium's read timeout elapses (ErrReadTimeout) or the
// transport is closed (ErrClosed). Write may be called concurrently with
// ReadByte but not with itself.
type Transport interface {
	Open() error
	Close() error
	ReadByte() (byte, error)
	Write(data []byte) error
}

// Flusher is implemented by media that can discard unsent output
type Flusher interface {
	Flush() error
}

// Medium names accepted in configuration
const (
	MEDIUM_SERIAL = "serial"
	MEDIUM_UDP    = "udp"
	MEDIUM_QUIC   = "quic"
	MEDIUM_SIM    = "sim"
)

// ValidateMedium checks a configured medium name
func ValidateMedium(medium string) error {
	switch strings.ToLower(medium) {
	case MEDIUM_SERIAL, MEDIUM_UDP, MEDIUM_QUIC, MEDIUM_SIM:
		return nil
	}
	return fmt.Errorf("unknown link medium %q", medium)
}

// readBuffer serves single bytes out of larger reads from the medium.
// It is only touched by the reading goroutine.
type readBuffer struct {
	buf []byte
	pos int
	n   int
}

func newReadBuffer(size int) readBuffer {
	return readBuffer{buf: make([]byte, size)}
}

func (r *readBuffer) next() (byte, bool) {
	if r.pos >= r.n {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *readBuffer) fill(n int) {
	r.pos = 0
	r.n = n
}

func (r *readBuffer) reset() {
	r.pos = 0
	r.n = 0
}
