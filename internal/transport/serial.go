package transport

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig describes how to open a UART
type SerialConfig struct {
	Port        string
	BaudRate    int
	DataBits    int
	Parity      string // none, odd, even
	StopBits    int    // 1 or 2
	ReadTimeout time.Duration
}

// Serial is a Transport over a local serial port
type Serial struct {
	config SerialConfig

	mu     sync.Mutex
	port   serial.Port
	closed bool

	rx readBuffer
}

// NewSerial creates an unopened serial transport
func NewSerial(config SerialConfig) *Serial {
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}
	if config.DataBits == 0 {
		config.DataBits = 8
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}
	return &Serial{
		config: config,
		rx:     newReadBuffer(256),
	}
}

func (s *Serial) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.config.BaudRate,
		DataBits: s.config.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	switch strings.ToLower(s.config.Parity) {
	case "", "none", "n":
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", s.config.Parity)
	}

	switch s.config.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", s.config.StopBits)
	}

	return mode, nil
}

// Open opens the port with the configured mode
func (s *Serial) Open() error {
	mode, err := s.mode()
	if err != nil {
		return err
	}

	port, err := serial.Open(s.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.config.Port, err)
	}
	if err := port.SetReadTimeout(s.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.port = port
	s.closed = false
	s.mu.Unlock()
	s.rx.reset()

	log.Printf("Serial port %s opened at %d baud", s.config.Port, s.config.BaudRate)
	return nil
}

func (s *Serial) current() (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.port == nil {
		return nil, ErrPortNotOpen
	}
	return s.port, nil
}

// ReadByte returns the next received byte, or ErrReadTimeout when the port
// stayed silent for the configured read timeout
func (s *Serial) ReadByte() (byte, error) {
	if b, ok := s.rx.next(); ok {
		return b, nil
	}

	port, err := s.current()
	if err != nil {
		return 0, err
	}

	n, err := port.Read(s.rx.buf)
	if err != nil {
		if _, cerr := s.current(); cerr != nil {
			return 0, cerr
		}
		return 0, fmt.Errorf("serial read: %w", err)
	}
	if n == 0 {
		return 0, ErrReadTimeout
	}

	s.rx.fill(n)
	b, _ := s.rx.next()
	return b, nil
}

// Write sends data to the port
func (s *Serial) Write(data []byte) error {
	port, err := s.current()
	if err != nil {
		return err
	}

	n, err := port.Write(data)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteTimeout, n, len(data))
	}
	return nil
}

// Flush discards output queued in the driver that has not been sent yet
func (s *Serial) Flush() error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.ResetOutputBuffer()
}

// Close closes the port. A blocked ReadByte returns ErrClosed.
func (s *Serial) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.closed = true
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
			return nil
		}
		return err
	}
	log.Printf("Serial port %s closed", s.config.Port)
	return nil
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
