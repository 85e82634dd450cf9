package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// readN reads n bytes from tr, retrying on read timeouts until deadline
func readN(t *testing.T, tr Transport, n int, deadline time.Duration) []byte {
	t.Helper()
	got := make([]byte, 0, n)
	stop := time.Now().Add(deadline)
	for len(got) < n {
		b, err := tr.ReadByte()
		if errors.Is(err, ErrReadTimeout) {
			if time.Now().After(stop) {
				t.Fatalf("timed out after %d of %d bytes", len(got), n)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ReadByte() unexpected error: %v", err)
		}
		got = append(got, b)
	}
	return got
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(4, "test")

	if !rb.AddData([]byte{1, 2, 3}) {
		t.Fatal("AddData() rejected data that fits")
	}
	if rb.AddData([]byte{4, 5}) {
		t.Error("AddData() accepted data that does not fit")
	}
	if rb.DataSize() != 3 {
		t.Errorf("DataSize() = %d, want 3", rb.DataSize())
	}

	b, ok := rb.GetByte()
	if !ok || b != 1 {
		t.Errorf("GetByte() = %d, %v, want 1, true", b, ok)
	}

	// wraps around the end of the backing array
	if !rb.AddData([]byte{4, 5}) {
		t.Fatal("AddData() rejected data after a read freed space")
	}
	out := make([]byte, 4)
	if !rb.GetData(out) {
		t.Fatal("GetData() failed with 4 bytes stored")
	}
	if !bytes.Equal(out, []byte{2, 3, 4, 5}) {
		t.Errorf("GetData() = %v, want [2 3 4 5]", out)
	}
	if _, ok := rb.GetByte(); ok {
		t.Error("GetByte() on empty buffer returned data")
	}
	if rb.FreeSpace() != 4 {
		t.Errorf("FreeSpace() = %d, want 4", rb.FreeSpace())
	}
}

func TestPipe(t *testing.T) {
	a, b := NewPipe()
	if err := a.Write([]byte{1}); !errors.Is(err, ErrPortNotOpen) {
		t.Errorf("Write() before Open error = %v, want ErrPortNotOpen", err)
	}
	a.Open()
	b.Open()
	b.SetReadTimeout(10 * time.Millisecond)

	if err := a.Write([]byte{0x55, 0xDE}); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	if err := a.Write([]byte{0xAD}); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}

	got := readN(t, b, 3, time.Second)
	if !bytes.Equal(got, []byte{0x55, 0xDE, 0xAD}) {
		t.Errorf("read = % X, want 55 DE AD", got)
	}

	if _, err := b.ReadByte(); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("ReadByte() on idle pipe error = %v, want ErrReadTimeout", err)
	}

	b.Close()
	if _, err := b.ReadByte(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadByte() after Close error = %v, want ErrClosed", err)
	}
}

func TestPipe_Flush(t *testing.T) {
	a, b := NewPipe()
	a.Open()
	b.Open()
	b.SetReadTimeout(10 * time.Millisecond)

	a.Write([]byte{1})
	a.Write([]byte{2})
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush() unexpected error: %v", err)
	}
	if a.Flushed() != 2 {
		t.Errorf("Flushed() = %d, want 2", a.Flushed())
	}
	if _, err := b.ReadByte(); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("ReadByte() after peer flush error = %v, want ErrReadTimeout", err)
	}
}

func TestSerial_Mode(t *testing.T) {
	tests := []struct {
		name    string
		config  SerialConfig
		wantErr bool
	}{
		{"defaults", SerialConfig{Port: "/dev/null"}, false},
		{"odd parity two stop bits", SerialConfig{Parity: "odd", StopBits: 2}, false},
		{"even parity", SerialConfig{Parity: "E"}, false},
		{"bad parity", SerialConfig{Parity: "mark-ish"}, true},
		{"bad stop bits", SerialConfig{StopBits: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSerial(tt.config)
			mode, err := s.mode()
			if tt.wantErr {
				if err == nil {
					t.Error("mode() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("mode() unexpected error: %v", err)
			}
			if mode.BaudRate != 9600 || mode.DataBits != 8 {
				t.Errorf("mode() = %+v, want 9600 baud 8 data bits", mode)
			}
		})
	}
}

func TestSerial_NotOpen(t *testing.T) {
	s := NewSerial(SerialConfig{Port: "/dev/does-not-exist"})
	if _, err := s.ReadByte(); !errors.Is(err, ErrPortNotOpen) {
		t.Errorf("ReadByte() error = %v, want ErrPortNotOpen", err)
	}
	if err := s.Write([]byte{1}); !errors.Is(err, ErrPortNotOpen) {
		t.Errorf("Write() error = %v, want ErrPortNotOpen", err)
	}
	if err := s.Open(); err == nil {
		t.Error("Open() on missing port expected error")
	}
}

func TestUDP_Loopback(t *testing.T) {
	server := NewUDP(UDPConfig{LocalAddress: "127.0.0.1", ReadTimeout: 20 * time.Millisecond})
	if err := server.Open(); err != nil {
		t.Fatalf("server Open() failed: %v", err)
	}
	defer server.Close()

	if err := server.Write([]byte{1}); !errors.Is(err, ErrPortNotOpen) {
		t.Errorf("Write() with no peer error = %v, want ErrPortNotOpen", err)
	}

	client := NewUDP(UDPConfig{
		LocalAddress:  "127.0.0.1",
		RemoteAddress: "127.0.0.1",
		RemotePort:    server.LocalAddr().Port,
		ReadTimeout:   20 * time.Millisecond,
	})
	if err := client.Open(); err != nil {
		t.Fatalf("client Open() failed: %v", err)
	}
	defer client.Close()

	if err := client.Write([]byte{0x55, 0xDE, 0xAD}); err != nil {
		t.Fatalf("client Write() failed: %v", err)
	}
	if got := readN(t, server, 3, 2*time.Second); !bytes.Equal(got, []byte{0x55, 0xDE, 0xAD}) {
		t.Errorf("server read = % X", got)
	}

	// server learned the client as its peer
	if err := server.Write([]byte{0xBE}); err != nil {
		t.Fatalf("server Write() failed: %v", err)
	}
	if got := readN(t, client, 1, 2*time.Second); got[0] != 0xBE {
		t.Errorf("client read = % X", got)
	}
}

func TestUDP_DropsUnknownPeer(t *testing.T) {
	server := NewUDP(UDPConfig{LocalAddress: "127.0.0.1"})
	if err := server.Open(); err != nil {
		t.Fatalf("server Open() failed: %v", err)
	}
	defer server.Close()

	client := NewUDP(UDPConfig{
		LocalAddress:  "127.0.0.1",
		RemoteAddress: "127.0.0.1",
		RemotePort:    server.LocalAddr().Port,
		ReadTimeout:   50 * time.Millisecond,
	})
	if err := client.Open(); err != nil {
		t.Fatalf("client Open() failed: %v", err)
	}
	defer client.Close()

	stranger, err := net.DialUDP("udp4", nil, client.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP() failed: %v", err)
	}
	defer stranger.Close()
	stranger.Write([]byte{0x01, 0x02})

	if _, err := client.ReadByte(); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("ReadByte() error = %v, want ErrReadTimeout", err)
	}
}

func TestUDP_ClosedRead(t *testing.T) {
	u := NewUDP(UDPConfig{LocalAddress: "127.0.0.1"})
	if err := u.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	u.Close()
	if _, err := u.ReadByte(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadByte() after Close error = %v, want ErrClosed", err)
	}
}

func TestQUIC_Loopback(t *testing.T) {
	tlsConf, err := SelfSignedTLS("127.0.0.1")
	if err != nil {
		t.Fatalf("SelfSignedTLS() failed: %v", err)
	}
	ln, err := ListenQUIC("127.0.0.1:0", tlsConf)
	if err != nil {
		t.Skipf("QUIC listen not available: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan *QUIC, 1)
	go func() {
		server, err := ln.Accept(ctx)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- server
	}()

	client := NewQUIC(QUICConfig{
		Address:            ln.Addr().String(),
		InsecureSkipVerify: true,
		ReadTimeout:        20 * time.Millisecond,
	})
	if err := client.Open(); err != nil {
		t.Fatalf("client Open() failed: %v", err)
	}
	defer client.Close()

	// the stream reaches the server with its first data
	if err := client.Write([]byte{0x55, 0xDE}); err != nil {
		t.Fatalf("client Write() failed: %v", err)
	}

	server, ok := <-accepted
	if !ok {
		t.Fatal("Accept() failed")
	}
	defer server.Close()

	if got := readN(t, server, 2, 2*time.Second); !bytes.Equal(got, []byte{0x55, 0xDE}) {
		t.Errorf("server read = % X", got)
	}
	if err := server.Write([]byte{0xAD}); err != nil {
		t.Fatalf("server Write() failed: %v", err)
	}
	if got := readN(t, client, 1, 2*time.Second); got[0] != 0xAD {
		t.Errorf("client read = % X", got)
	}
}

func TestValidateMedium(t *testing.T) {
	for _, m := range []string{"serial", "UDP", "quic", "sim"} {
		if err := ValidateMedium(m); err != nil {
			t.Errorf("ValidateMedium(%q) unexpected error: %v", m, err)
		}
	}
	if err := ValidateMedium("carrier-pigeon"); err == nil {
		t.Error("ValidateMedium() expected error for unknown medium")
	}
}
