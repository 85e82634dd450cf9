package transport

import (
	"fmt"
	"sync"
	"time"
)

// Pipe is one end of an in-memory byte stream. Bytes written to one end are
// read from the other, in order.
type Pipe struct {
	name        string
	in          chan []byte
	out         chan []byte
	readTimeout time.Duration

	rx      []byte
	done    chan struct{}
	peer    *Pipe
	once    sync.Once
	mu      sync.Mutex
	opened  bool
	flushed int
}

// NewPipe returns a connected pair of in-memory transports
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	a := &Pipe{name: "pipe-a", in: ba, out: ab, readTimeout: 100 * time.Millisecond, done: make(chan struct{})}
	b := &Pipe{name: "pipe-b", in: ab, out: ba, readTimeout: 100 * time.Millisecond, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// SetReadTimeout changes how long ReadByte waits before ErrReadTimeout
func (p *Pipe) SetReadTimeout(d time.Duration) {
	p.readTimeout = d
}

func (p *Pipe) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.opened = true
	return nil
}

func (p *Pipe) isOpen() error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return ErrPortNotOpen
	}
	return nil
}

func (p *Pipe) ReadByte() (byte, error) {
	if len(p.rx) > 0 {
		b := p.rx[0]
		p.rx = p.rx[1:]
		return b, nil
	}
	if err := p.isOpen(); err != nil {
		return 0, err
	}

	timer := time.NewTimer(p.readTimeout)
	defer timer.Stop()

	select {
	case chunk := <-p.in:
		p.rx = chunk[1:]
		return chunk[0], nil
	case <-p.done:
		return 0, ErrClosed
	case <-timer.C:
		return 0, ErrReadTimeout
	}
}

func (p *Pipe) Write(data []byte) error {
	if err := p.isOpen(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)

	select {
	case p.out <- chunk:
		return nil
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return fmt.Errorf("%s: peer closed", p.name)
	default:
		return fmt.Errorf("%w: %s buffer full", ErrWriteTimeout, p.name)
	}
}

// Flush discards bytes written by this end that the peer has not read yet
func (p *Pipe) Flush() error {
	n := 0
	for {
		select {
		case <-p.out:
			n++
		default:
			p.mu.Lock()
			p.flushed += n
			p.mu.Unlock()
			return nil
		}
	}
}

// Flushed returns how many queued writes Flush has discarded
func (p *Pipe) Flushed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushed
}

func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
