package link

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/dbehnke/mercurygs/internal/protocol"
)

func TestDispatcher_Routes(t *testing.T) {
	var got []string
	d := &Dispatcher{
		OnTelemetry: func(m protocol.TelemetryData) {
			got = append(got, "telemetry")
		},
		OnRejection: func(m protocol.TelemetryRejection) {
			got = append(got, "rejection")
		},
		OnTelecommandResponse: func(m protocol.TelecommandResponse) {
			got = append(got, "telecommand")
		},
	}

	frames := []protocol.Frame{
		protocol.TelemetryData{Channel: 1, Value: 2}.Frame(),
		protocol.TelemetryRejection{Channel: 1}.Frame(),
		protocol.TelecommandResponse{Number: 1}.Frame(),
		protocol.TelemetryRequest{Channel: 1}.Frame(), // no handler, dropped
		{DataType: protocol.FILE_UPLOAD, Payload: []byte{1, 2, 3}},
	}
	for _, f := range frames {
		if err := d.Dispatch(f); err != nil {
			t.Errorf("Dispatch(%s) unexpected error: %v", f.DataType, err)
		}
	}

	want := []string{"telemetry", "rejection", "telecommand"}
	if len(got) != len(want) {
		t.Fatalf("handlers called %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handler %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatcher_Errors(t *testing.T) {
	d := &Dispatcher{OnTelemetry: func(protocol.TelemetryData) {}}

	err := d.Dispatch(protocol.Frame{DataType: protocol.TELEMETRY_DATA, Payload: []byte{1}})
	if !errors.Is(err, protocol.ErrPayloadSize) {
		t.Errorf("short payload error = %v, want ErrPayloadSize", err)
	}

	err = d.Dispatch(protocol.Frame{DataType: 0x0F})
	if !errors.Is(err, protocol.ErrInvalidDataType) {
		t.Errorf("unknown type error = %v, want ErrInvalidDataType", err)
	}
}

func TestDispatcher_LogsThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	d := &Dispatcher{Debug: true, Logger: log.New(&buf, "[LINK] ", 0)}

	if err := d.Dispatch(protocol.Frame{DataType: protocol.FILE_UPLOAD, Payload: []byte{1, 2}}); err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.HasPrefix(got, "[LINK] ") || !strings.Contains(got, "dropping FILE_UPLOAD frame (2 bytes)") {
		t.Errorf("log output = %q", got)
	}
}

func TestEngine_DispatcherSharesLogger(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "[LINK] ", 0)
	e := New(nil, Options{Logger: logger})
	if e.dispatcher.Logger != logger {
		t.Error("dispatcher does not use the engine logger")
	}
}
