package link

import (
	"sync"
	"time"

	"github.com/dbehnke/mercurygs/internal/protocol"
	"github.com/dbehnke/mercurygs/internal/transport"
)

// mockTransport records writes and plays back injected bytes
type mockTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	flushes  int
	opened   bool

	rx     chan byte
	closed chan struct{}
	once   sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		rx:     make(chan byte, 4096),
		closed: make(chan struct{}),
	}
}

func (m *mockTransport) Open() error {
	m.mu.Lock()
	m.opened = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockTransport) ReadByte() (byte, error) {
	select {
	case b := <-m.rx:
		return b, nil
	case <-m.closed:
		return 0, transport.ErrClosed
	case <-time.After(10 * time.Millisecond):
		return 0, transport.ErrReadTimeout
	}
}

func (m *mockTransport) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)
	return nil
}

func (m *mockTransport) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// inject queues an encoded frame as if the device had sent it
func (m *mockTransport) inject(frame protocol.Frame) {
	wire, err := protocol.Encode(frame.DataType, frame.Payload)
	if err != nil {
		panic(err)
	}
	m.injectBytes(wire)
}

func (m *mockTransport) injectBytes(data []byte) {
	for _, b := range data {
		m.rx <- b
	}
}

func (m *mockTransport) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func (m *mockTransport) lastWrite() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil
	}
	return m.writes[len(m.writes)-1]
}

func (m *mockTransport) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func (m *mockTransport) setWriteErr(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}
