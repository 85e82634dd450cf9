package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const (
	UDP_MAX_DATAGRAM   = 65535
	UDP_RX_BUFFER_SIZE = 2 * UDP_MAX_DATAGRAM
)

// UDPConfig describes a radio modem bridged over UDP. With no RemoteAddress
// the transport answers whichever peer sent the first datagram.
type UDPConfig struct {
	LocalAddress  string
	LocalPort     int
	RemoteAddress string
	RemotePort    int
	ReadTimeout   time.Duration
	Debug         bool
}

// UDP is a Transport carrying the byte stream in datagrams
type UDP struct {
	config UDPConfig

	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
	closed bool

	rx     *RingBuffer
	packet []byte
}

// NewUDP creates an unopened UDP transport
func NewUDP(config UDPConfig) *UDP {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}
	return &UDP{
		config: config,
		rx:     NewRingBuffer(UDP_RX_BUFFER_SIZE, "udp-rx"),
		packet: make([]byte, UDP_MAX_DATAGRAM),
	}
}

// Open binds the local socket and resolves the remote peer if one is configured
func (u *UDP) Open() error {
	localAddr := &net.UDPAddr{IP: net.IPv4zero, Port: u.config.LocalPort}
	if u.config.LocalAddress != "" {
		localAddr.IP = net.ParseIP(u.config.LocalAddress)
		if localAddr.IP == nil {
			return fmt.Errorf("invalid address: %s", u.config.LocalAddress)
		}
	}

	var remote *net.UDPAddr
	if u.config.RemoteAddress != "" {
		var err error
		remote, err = ParseUDPAddr(u.config.RemoteAddress, u.config.RemotePort)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", u.config.RemoteAddress, err)
		}
	}

	conn, err := net.ListenUDP("udp4", localAddr)
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}

	u.mu.Lock()
	u.conn = conn
	u.remote = remote
	u.closed = false
	u.mu.Unlock()
	u.rx.Clear()

	if remote != nil {
		log.Printf("UDP link bound to %s, peer %s", conn.LocalAddr(), remote)
	} else {
		log.Printf("UDP link bound to %s, waiting for peer", conn.LocalAddr())
	}
	return nil
}

// LocalAddr returns the bound address, nil before Open
func (u *UDP) LocalAddr() *net.UDPAddr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr().(*net.UDPAddr)
}

func (u *UDP) socket() (*net.UDPConn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrClosed
	}
	if u.conn == nil {
		return nil, ErrPortNotOpen
	}
	return u.conn, nil
}

// ReadByte returns the next byte of the received stream. Datagrams from
// anyone but the peer are dropped.
func (u *UDP) ReadByte() (byte, error) {
	if b, ok := u.rx.GetByte(); ok {
		return b, nil
	}

	conn, err := u.socket()
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(u.config.ReadTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return 0, u.readError(err)
		}
		n, addr, err := conn.ReadFromUDP(u.packet)
		if err != nil {
			return 0, u.readError(err)
		}
		if !u.acceptFrom(addr) {
			if u.config.Debug {
				log.Printf("UDP link: dropping %d bytes from unknown peer %s", n, addr)
			}
			continue
		}
		if !u.rx.AddData(u.packet[:n]) {
			log.Printf("UDP link: receive buffer full, dropping %d bytes", n)
			continue
		}
		if b, ok := u.rx.GetByte(); ok {
			return b, nil
		}
	}
}

func (u *UDP) readError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrReadTimeout
	}
	if _, serr := u.socket(); serr != nil {
		return serr
	}
	return fmt.Errorf("udp read: %w", err)
}

func (u *UDP) acceptFrom(addr *net.UDPAddr) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.remote == nil {
		u.remote = addr
		log.Printf("UDP link: peer is %s", addr)
		return true
	}
	if u.remote.IP.Equal(addr.IP) && u.remote.Port == addr.Port {
		return true
	}
	return false
}

// Write sends data to the peer as one datagram
func (u *UDP) Write(data []byte) error {
	conn, err := u.socket()
	if err != nil {
		return err
	}

	u.mu.Lock()
	remote := u.remote
	u.mu.Unlock()
	if remote == nil {
		return fmt.Errorf("%w: no UDP peer yet", ErrPortNotOpen)
	}

	if _, err := conn.WriteToUDP(data, remote); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
		}
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

// Close closes the socket
func (u *UDP) Close() error {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.closed = true
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	log.Printf("UDP link closed")
	return conn.Close()
}

// Lookup resolves hostname to an IPv4 address
func Lookup(hostname string) (net.IP, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip, nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address found for %s", hostname)
}

// ParseUDPAddr resolves address and combines it with port
func ParseUDPAddr(address string, port int) (*net.UDPAddr, error) {
	ip, err := Lookup(address)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}
