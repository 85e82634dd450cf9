// Package simulator plays the spacecraft end of the link with canned answers,
// for bench testing a ground station without hardware.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/mercurygs/internal/link"
	"github.com/dbehnke/mercurygs/internal/protocol"
	"github.com/dbehnke/mercurygs/internal/transport"
)

const (
	DEFAULT_PERIODIC_CHANNEL = 42
	RANDOM_CHANNEL_FIRST     = 20
	RANDOM_CHANNEL_LAST      = 39
)

// Fixed telemetry values served by the device
var cannedTelemetry = map[uint32]uint64{
	1:  1,
	2:  2,
	3:  3,
	12: 0xFF,
	85: 0x555500FE,
}

// Telecommand numbers with a non-default outcome
var cannedTelecommands = map[uint32]protocol.TelecommandStatus{
	1: protocol.TC_SUCCESS,
	2: protocol.TC_FAILED,
	3: protocol.TC_INVALID_LENGTH,
	5: protocol.TC_INVALID_COMMAND_ARGUMENT,
}

// Options configures a Device
type Options struct {
	Codec protocol.Codec

	// Unsolicited telemetry pushed every PeriodicInterval; zero disables it
	PeriodicChannel  uint32
	PeriodicInterval time.Duration

	// Delay before each answer, to exercise ground station timeouts
	ResponseDelay time.Duration

	Debug bool
}

// Stats counts device activity
type Stats struct {
	Requests  uint64
	Responses uint64
	Periodic  uint64
	Errors    uint64
}

// Device answers telemetry and telecommand requests read from a transport
type Device struct {
	transport transport.Transport
	opts      Options

	deframer   *protocol.Deframer
	dispatcher *link.Dispatcher

	writeMu sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
	phase float64

	requests  atomic.Uint64
	responses atomic.Uint64
	periodic  atomic.Uint64
	failures  atomic.Uint64
}

// New creates a device on an opened transport
func New(t transport.Transport, opts Options) *Device {
	if opts.PeriodicChannel == 0 {
		opts.PeriodicChannel = DEFAULT_PERIODIC_CHANNEL
	}

	d := &Device{
		transport: t,
		opts:      opts,
		deframer:  protocol.NewDeframer(opts.Codec),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x4d455243)),
	}
	d.dispatcher = &link.Dispatcher{
		OnTelemetryRequest: func(req protocol.TelemetryRequest) {
			d.reply(d.TelemetryResponse(req))
		},
		OnTelecommandRequest: func(req protocol.TelecommandRequest) {
			d.reply(d.TelecommandResponse(req))
		},
		Debug: opts.Debug,
	}
	return d
}

// Run serves requests until ctx is cancelled or the transport is closed
func (d *Device) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if d.opts.PeriodicInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.periodicLoop(ctx)
		}()
	}
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b, err := d.transport.ReadByte()
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}

		frame, ferr := d.deframer.Feed(b)
		if ferr != nil {
			d.framingError(ferr)
			continue
		}
		if frame == nil {
			continue
		}

		d.requests.Add(1)
		if d.opts.Debug {
			log.Printf("Simulator: received %s", frame)
		}
		if err := d.dispatcher.Dispatch(*frame); err != nil {
			d.failures.Add(1)
			log.Printf("Simulator: %v", err)
		}
	}
}

// framingError answers requests whose length disagrees with their type, as
// the device firmware does
func (d *Device) framingError(err error) {
	d.failures.Add(1)

	var mismatch *protocol.MismatchError
	if !errors.As(err, &mismatch) || len(mismatch.Frame.Payload) < 4 {
		if d.opts.Debug {
			log.Printf("Simulator: framing error: %v", err)
		}
		return
	}

	id := binary.BigEndian.Uint32(mismatch.Frame.Payload[0:4])

	d.requests.Add(1)
	switch mismatch.Frame.DataType {
	case protocol.TELECOMMAND_REQUEST:
		log.Printf("Simulator: telecommand %d has invalid length %d", id, mismatch.Frame.Length())
		d.reply(protocol.TelecommandResponse{Number: id, Status: protocol.TC_INVALID_LENGTH}.Frame())
	case protocol.TELEMETRY_REQUEST:
		log.Printf("Simulator: telemetry request %d has invalid length %d", id, mismatch.Frame.Length())
		d.reply(protocol.TelemetryRejection{Channel: id, Reason: protocol.TM_INVALID_DATA_LENGTH}.Frame())
	}
}

// TelemetryResponse returns the device's answer to a telemetry request
func (d *Device) TelemetryResponse(req protocol.TelemetryRequest) protocol.Frame {
	if value, ok := cannedTelemetry[req.Channel]; ok {
		return protocol.TelemetryData{Channel: req.Channel, Value: value}.Frame()
	}

	switch {
	case req.Channel == 4:
		return protocol.TelemetryRejection{Channel: req.Channel, Reason: protocol.TM_INVALID_DATA_LENGTH}.Frame()
	case req.Channel >= RANDOM_CHANNEL_FIRST && req.Channel <= RANDOM_CHANNEL_LAST:
		d.rngMu.Lock()
		value := uint64(d.rng.IntN(256))
		d.rngMu.Unlock()
		return protocol.TelemetryData{Channel: req.Channel, Value: value}.Frame()
	}
	return protocol.TelemetryRejection{Channel: req.Channel, Reason: protocol.TM_CHANNEL_NOT_SUPPORTED}.Frame()
}

// TelecommandResponse returns the device's answer to a telecommand
func (d *Device) TelecommandResponse(req protocol.TelecommandRequest) protocol.Frame {
	status, ok := cannedTelecommands[req.Number]
	if !ok {
		status = protocol.TC_COMMAND_NOT_SUPPORTED
	}
	return protocol.TelecommandResponse{Number: req.Number, Status: status}.Frame()
}

// PeriodicSample produces the next value of the unsolicited telemetry wave
func (d *Device) PeriodicSample() protocol.Frame {
	d.rngMu.Lock()
	amplitude := float64(60 + d.rng.IntN(21))
	value := uint64(amplitude * (1 + math.Sin(d.phase)))
	d.phase += 0.01
	if d.phase >= 2*math.Pi {
		d.phase = 0
	}
	d.rngMu.Unlock()

	return protocol.TelemetryData{Channel: d.opts.PeriodicChannel, Value: value}.Frame()
}

func (d *Device) periodicLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.send(d.PeriodicSample()) == nil {
				d.periodic.Add(1)
			}
		}
	}
}

func (d *Device) reply(frame protocol.Frame) {
	if d.opts.ResponseDelay > 0 {
		time.Sleep(d.opts.ResponseDelay)
	}
	if d.send(frame) == nil {
		d.responses.Add(1)
	}
}

func (d *Device) send(frame protocol.Frame) error {
	wire, err := d.opts.Codec.Encode(frame.DataType, frame.Payload)
	if err != nil {
		d.failures.Add(1)
		log.Printf("Simulator: encode %s: %v", frame.DataType, err)
		return err
	}

	d.writeMu.Lock()
	err = d.transport.Write(wire)
	d.writeMu.Unlock()

	if err != nil {
		d.failures.Add(1)
		log.Printf("Simulator: write failed: %v", err)
		return err
	}
	if d.opts.Debug {
		log.Printf("Simulator: sent %s", protocol.FormatBytes(wire))
	}
	return nil
}

// Stats returns the device counters
func (d *Device) Stats() Stats {
	return Stats{
		Requests:  d.requests.Load(),
		Responses: d.responses.Load(),
		Periodic:  d.periodic.Load(),
		Errors:    d.failures.Load(),
	}
}
