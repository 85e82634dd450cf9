package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUIC_ALPN identifies the link byte stream during the TLS handshake
const QUIC_ALPN = "mercury-link"

// QUICConfig describes a remote link reached over a single QUIC stream
type QUICConfig struct {
	Address            string
	ServerName         string
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

func (c *QUICConfig) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Second
	}
}

func (c QUICConfig) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  c.IdleTimeout,
		KeepAlivePeriod: c.IdleTimeout / 3,
	}
}

// QUIC is a Transport over one bidirectional QUIC stream
type QUIC struct {
	config QUICConfig

	mu     sync.Mutex
	conn   *quic.Conn
	stream *quic.Stream
	closed bool

	rx readBuffer
}

// NewQUIC creates a client transport that dials config.Address on Open
func NewQUIC(config QUICConfig) *QUIC {
	config.setDefaults()
	return &QUIC{
		config: config,
		rx:     newReadBuffer(1500),
	}
}

// ClientTLS returns the TLS settings used to dial
func (q *QUIC) ClientTLS() *tls.Config {
	return &tls.Config{
		ServerName:         q.config.ServerName,
		InsecureSkipVerify: q.config.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{QUIC_ALPN},
	}
}

// Open dials the remote end and opens the stream. A transport returned by
// QUICListener.Accept is already open.
func (q *QUIC) Open() error {
	q.mu.Lock()
	if q.stream != nil {
		q.closed = false
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.config.DialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, q.config.Address, q.ClientTLS(), q.config.quicConfig())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", q.config.Address, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return fmt.Errorf("failed to open stream to %s: %w", q.config.Address, err)
	}

	q.mu.Lock()
	q.conn = conn
	q.stream = stream
	q.closed = false
	q.mu.Unlock()
	q.rx.reset()

	log.Printf("QUIC link connected to %s", conn.RemoteAddr())
	return nil
}

func (q *QUIC) current() (*quic.Stream, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if q.stream == nil {
		return nil, ErrPortNotOpen
	}
	return q.stream, nil
}

// ReadByte returns the next byte from the stream
func (q *QUIC) ReadByte() (byte, error) {
	if b, ok := q.rx.next(); ok {
		return b, nil
	}

	stream, err := q.current()
	if err != nil {
		return 0, err
	}
	if err := stream.SetReadDeadline(time.Now().Add(q.config.ReadTimeout)); err != nil {
		return 0, fmt.Errorf("quic read: %w", err)
	}

	n, err := stream.Read(q.rx.buf)
	if n > 0 {
		q.rx.fill(n)
		b, _ := q.rx.next()
		return b, nil
	}
	if err == nil {
		return 0, ErrReadTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, ErrReadTimeout
	}
	if _, cerr := q.current(); cerr != nil {
		return 0, cerr
	}
	return 0, fmt.Errorf("quic read: %w", err)
}

// Write sends data on the stream
func (q *QUIC) Write(data []byte) error {
	stream, err := q.current()
	if err != nil {
		return err
	}
	if err := stream.SetWriteDeadline(time.Now().Add(q.config.WriteTimeout)); err != nil {
		return fmt.Errorf("quic write: %w", err)
	}

	if _, err := stream.Write(data); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
		}
		return fmt.Errorf("quic write: %w", err)
	}
	return nil
}

// Close closes the stream and the connection
func (q *QUIC) Close() error {
	q.mu.Lock()
	conn, stream := q.conn, q.stream
	q.conn, q.stream = nil, nil
	q.closed = true
	q.mu.Unlock()

	if conn == nil {
		return nil
	}
	if stream != nil {
		_ = stream.Close()
	}
	log.Printf("QUIC link to %s closed", conn.RemoteAddr())
	return conn.CloseWithError(0, "")
}

// QUICListener accepts link connections, one stream each
type QUICListener struct {
	listener *quic.Listener
	config   QUICConfig
}

// ListenQUIC listens on addr. tlsConf must carry a certificate; NextProtos
// defaults to QUIC_ALPN.
func ListenQUIC(addr string, tlsConf *tls.Config) (*QUICListener, error) {
	if tlsConf == nil || len(tlsConf.Certificates) == 0 {
		return nil, fmt.Errorf("quic listener needs a TLS certificate")
	}
	if tlsConf.NextProtos == nil {
		tlsConf.NextProtos = []string{QUIC_ALPN}
	}

	config := QUICConfig{Address: addr}
	config.setDefaults()

	ln, err := quic.ListenAddr(addr, tlsConf, config.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &QUICListener{listener: ln, config: config}, nil
}

// Addr returns the listening address
func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for a peer and the first stream it opens
func (l *QUICListener) Accept(ctx context.Context) (*QUIC, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}

	log.Printf("QUIC link accepted from %s", conn.RemoteAddr())
	return &QUIC{
		config: l.config,
		conn:   conn,
		stream: stream,
		rx:     newReadBuffer(1500),
	}, nil
}

// Close stops accepting connections
func (l *QUICListener) Close() error {
	return l.listener.Close()
}
