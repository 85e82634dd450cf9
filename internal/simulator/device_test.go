package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/dbehnke/mercurygs/internal/link"
	"github.com/dbehnke/mercurygs/internal/protocol"
	"github.com/dbehnke/mercurygs/internal/transport"
)

func TestDevice_TelemetryResponses(t *testing.T) {
	d := New(nil, Options{})

	tests := []struct {
		name     string
		channel  uint32
		dataType protocol.DataType
		value    uint64
		reason   protocol.RejectionReason
	}{
		{"channel 1", 1, protocol.TELEMETRY_DATA, 1, 0},
		{"channel 3", 3, protocol.TELEMETRY_DATA, 3, 0},
		{"channel 12", 12, protocol.TELEMETRY_DATA, 0xFF, 0},
		{"channel 85", 85, protocol.TELEMETRY_DATA, 0x555500FE, 0},
		{"channel 4 rejected", 4, protocol.TELEMETRY_REQUEST_REJECTION, 0, protocol.TM_INVALID_DATA_LENGTH},
		{"unknown channel", 99, protocol.TELEMETRY_REQUEST_REJECTION, 0, protocol.TM_CHANNEL_NOT_SUPPORTED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := d.TelemetryResponse(protocol.TelemetryRequest{Channel: tt.channel})
			if frame.DataType != tt.dataType {
				t.Fatalf("DataType = %s, want %s", frame.DataType, tt.dataType)
			}
			if tt.dataType == protocol.TELEMETRY_DATA {
				data, err := protocol.ParseTelemetryData(frame.Payload)
				if err != nil {
					t.Fatalf("ParseTelemetryData() unexpected error: %v", err)
				}
				if data.Channel != tt.channel || data.Value != tt.value {
					t.Errorf("data = %+v, want channel %d value %d", data, tt.channel, tt.value)
				}
				return
			}
			rej, err := protocol.ParseTelemetryRejection(frame.Payload)
			if err != nil {
				t.Fatalf("ParseTelemetryRejection() unexpected error: %v", err)
			}
			if rej.Channel != tt.channel || rej.Reason != tt.reason {
				t.Errorf("rejection = %+v, want channel %d reason %s", rej, tt.channel, tt.reason)
			}
		})
	}
}

func TestDevice_RandomChannels(t *testing.T) {
	d := New(nil, Options{})
	for ch := uint32(RANDOM_CHANNEL_FIRST); ch <= RANDOM_CHANNEL_LAST; ch++ {
		frame := d.TelemetryResponse(protocol.TelemetryRequest{Channel: ch})
		data, err := protocol.ParseTelemetryData(frame.Payload)
		if err != nil {
			t.Fatalf("channel %d: %v", ch, err)
		}
		if data.Value > 255 {
			t.Errorf("channel %d value %d out of range", ch, data.Value)
		}
	}
}

func TestDevice_TelecommandResponses(t *testing.T) {
	d := New(nil, Options{})

	tests := []struct {
		number uint32
		status protocol.TelecommandStatus
	}{
		{1, protocol.TC_SUCCESS},
		{2, protocol.TC_FAILED},
		{3, protocol.TC_INVALID_LENGTH},
		{4, protocol.TC_COMMAND_NOT_SUPPORTED},
		{5, protocol.TC_INVALID_COMMAND_ARGUMENT},
		{85, protocol.TC_COMMAND_NOT_SUPPORTED},
	}

	for _, tt := range tests {
		frame := d.TelecommandResponse(protocol.TelecommandRequest{Number: tt.number})
		resp, err := protocol.ParseTelecommandResponse(frame.Payload)
		if err != nil {
			t.Fatalf("ParseTelecommandResponse() unexpected error: %v", err)
		}
		if resp.Number != tt.number || resp.Status != tt.status {
			t.Errorf("telecommand %d = %s, want %s", tt.number, resp.Status, tt.status)
		}
	}
}

func TestDevice_PeriodicSampleRange(t *testing.T) {
	d := New(nil, Options{})
	for i := 0; i < 1000; i++ {
		frame := d.PeriodicSample()
		data, _ := protocol.ParseTelemetryData(frame.Payload)
		if data.Channel != DEFAULT_PERIODIC_CHANNEL {
			t.Fatalf("channel = %d, want %d", data.Channel, DEFAULT_PERIODIC_CHANNEL)
		}
		if data.Value > 160 {
			t.Fatalf("sample %d = %d, above 2 * 80", i, data.Value)
		}
	}
}

// linkPair runs a ground station engine against a simulated device over a pipe
func linkPair(t *testing.T, opts Options) (*link.Engine, *Device, <-chan link.Event) {
	t.Helper()
	ground, space := transport.NewPipe()
	space.SetReadTimeout(10 * time.Millisecond)
	if err := space.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	device := New(space, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		device.Run(ctx)
		close(done)
	}()

	engine := link.New(ground, link.Options{Timeout: time.Second, Codec: opts.Codec})
	events, _ := engine.Subscribe(64)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Stop()
		cancel()
		space.Close()
		<-done
	})
	return engine, device, events
}

func next[T link.Event](t *testing.T, events <-chan link.Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

func TestDevice_EndToEnd(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		name := "logical length"
		if legacy {
			name = "legacy length fold"
		}
		t.Run(name, func(t *testing.T) {
			engine, device, events := linkPair(t, Options{Codec: protocol.Codec{LegacyLengthFold: legacy}})

			engine.SendTelemetryRequest(85, false)
			tm := next[link.TelemetryReceived](t, events)
			if tm.Channel != 85 || tm.Value != 0x555500FE || !tm.Matched {
				t.Errorf("telemetry = %+v", tm)
			}

			engine.SendTelecommandRequest(2, [8]byte{}, false)
			tc := next[link.TelecommandResponseReceived](t, events)
			if tc.Number != 2 || tc.Status != protocol.TC_FAILED || !tc.Matched {
				t.Errorf("telecommand = %+v", tc)
			}

			engine.SendTelemetryRequest(1000, false)
			rej := next[link.RejectionReceived](t, events)
			if rej.Channel != 1000 || rej.Reason != protocol.TM_CHANNEL_NOT_SUPPORTED {
				t.Errorf("rejection = %+v", rej)
			}

			if !eventually(func() bool { return device.Stats().Responses == 3 }) {
				t.Errorf("device Responses = %d, want 3", device.Stats().Responses)
			}
			if engine.Stats().Pending != 0 {
				t.Errorf("engine Pending = %d, want 0", engine.Stats().Pending)
			}
		})
	}
}

func TestDevice_AnswersWrongLength(t *testing.T) {
	engine, _, events := linkPair(t, Options{})

	// telecommand 7 with a 5 byte payload
	raw := []byte{0x55, 0xDE, 0xAD, 0xBE, 0x01, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x07, 0x01}
	if err := engine.TransmitRaw(raw); err != nil {
		t.Fatalf("TransmitRaw() failed: %v", err)
	}

	tc := next[link.TelecommandResponseReceived](t, events)
	if tc.Number != 7 || tc.Status != protocol.TC_INVALID_LENGTH || tc.Matched {
		t.Errorf("response = %+v, want unmatched INVALID_LENGTH for 7", tc)
	}
}

func TestDevice_PeriodicTelemetry(t *testing.T) {
	_, device, events := linkPair(t, Options{PeriodicInterval: 20 * time.Millisecond})

	tm := next[link.TelemetryReceived](t, events)
	if tm.Channel != DEFAULT_PERIODIC_CHANNEL || tm.Matched {
		t.Errorf("periodic telemetry = %+v", tm)
	}
	if !eventually(func() bool { return device.Stats().Periodic > 0 }) {
		t.Error("device Periodic = 0")
	}
}
