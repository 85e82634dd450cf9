// Package link runs the request/response exchange with the remote device:
// framing on the transport, pending request tracking with timeouts and
// continuous transmission.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/mercurygs/internal/protocol"
	"github.com/dbehnke/mercurygs/internal/transport"
)

const (
	DEFAULT_TIMEOUT    = 1000 * time.Millisecond
	DEFAULT_RATE       = 1.0 // Hz
	READ_ERROR_BACKOFF = 250 * time.Millisecond
)

// Options configures an Engine
type Options struct {
	Timeout time.Duration
	Rate    float64
	Codec   protocol.Codec
	Debug   bool
	Logger  *log.Logger
}

// Stats is a snapshot of the link counters
type Stats struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	BytesSent      uint64 `json:"bytes_sent"`
	SyncErrors     uint64 `json:"sync_errors"`
	InvalidTypes   uint64 `json:"invalid_types"`
	LengthErrors   uint64 `json:"length_errors"`
	Responses      uint64 `json:"responses"`
	Unsolicited    uint64 `json:"unsolicited"`
	Timeouts       uint64 `json:"timeouts"`
	ReadErrors     uint64 `json:"read_errors"`
	WriteErrors    uint64 `json:"write_errors"`
	DroppedEvents  uint64 `json:"dropped_events"`

	Pending    int           `json:"pending"`
	Continuous bool          `json:"continuous"`
	Rate       float64       `json:"rate_hz"`
	Timeout    time.Duration `json:"timeout_ns"`
}

type counters struct {
	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
	bytesSent      atomic.Uint64
	syncErrors     atomic.Uint64
	invalidTypes   atomic.Uint64
	lengthErrors   atomic.Uint64
	responses      atomic.Uint64
	unsolicited    atomic.Uint64
	timeouts       atomic.Uint64
	readErrors     atomic.Uint64
	writeErrors    atomic.Uint64
	droppedEvents  atomic.Uint64
}

// Engine owns one link: its transport, deframer, pending requests and
// continuous session
type Engine struct {
	transport transport.Transport
	codec     protocol.Codec
	debug     bool
	logger    *log.Logger

	registry   *Registry
	scheduler  *Scheduler
	dispatcher *Dispatcher
	deframer   *protocol.Deframer

	// encode-then-write is serialised
	writeMu sync.Mutex

	mu      sync.RWMutex
	timeout time.Duration
	rate    float64
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subMu   sync.RWMutex
	subs    map[int]chan Event
	nextSub int

	// single slot hand-off from the reader to the dispatcher
	frames  chan protocol.Frame
	handled chan struct{}

	stats counters
}

// New creates an engine for t. Nothing is opened until Start.
func New(t transport.Transport, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DEFAULT_TIMEOUT
	}
	if ValidateRate(opts.Rate) != nil {
		opts.Rate = DEFAULT_RATE
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[LINK] ", log.LstdFlags)
	}

	e := &Engine{
		transport: t,
		codec:     opts.Codec,
		debug:     opts.Debug,
		logger:    opts.Logger,
		deframer:  protocol.NewDeframer(opts.Codec),
		timeout:   opts.Timeout,
		rate:      opts.Rate,
		subs:      make(map[int]chan Event),
		frames:    make(chan protocol.Frame),
		handled:   make(chan struct{}),
	}

	e.registry = NewRegistry(e.handleTimeout)

	var flush func() error
	if f, ok := t.(transport.Flusher); ok {
		flush = f.Flush
	}
	e.scheduler = NewScheduler(e.handleTick, flush)

	e.dispatcher = &Dispatcher{
		OnTelemetry:           e.handleTelemetry,
		OnRejection:           e.handleRejection,
		OnTelecommandResponse: e.handleTelecommandResponse,
		Debug:                 opts.Debug,
		Logger:                opts.Logger,
	}

	return e
}

// Start opens the transport and starts the reader and dispatcher goroutines
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := e.transport.Open(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to open transport: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.deframer.Reset()
	e.mu.Unlock()

	e.wg.Add(2)
	go e.reader(ctx)
	go e.dispatchLoop(ctx)

	e.logger.Printf("Link started (timeout %v, rate %.2f Hz)", e.Timeout(), e.Rate())
	return nil
}

// Stop cancels the continuous session and every pending timeout, closes the
// transport and waits for the goroutines. Subscriber channels are closed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	if err := e.scheduler.Stop(); err != nil && e.debug {
		e.logger.Printf("Flush on stop failed: %v", err)
	}
	cancel()
	e.registry.Close()
	err := e.transport.Close()
	e.wg.Wait()

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()

	e.logger.Printf("Link stopped")
	return err
}

// Running reports whether Start has been called without a matching Stop
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) reader(ctx context.Context) {
	defer e.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		b, err := e.transport.ReadByte()
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			e.stats.readErrors.Add(1)
			e.logger.Printf("Transport read error: %v", err)
			e.publish(Fault{Message: "transport read failed", Err: err, At: time.Now()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(READ_ERROR_BACKOFF):
			}
			continue
		}

		frame, ferr := e.deframer.Feed(b)
		if ferr != nil {
			e.framingError(ferr)
		}
		if frame == nil {
			continue
		}
		e.stats.framesReceived.Add(1)

		select {
		case e.frames <- *frame:
		case <-ctx.Done():
			return
		}
		select {
		case <-e.handled:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-e.frames:
			if err := e.dispatcher.Dispatch(frame); err != nil {
				e.logger.Printf("Dispatch of %s failed: %v", frame.DataType, err)
				e.publish(Fault{Message: "invalid frame payload", Err: err, At: time.Now()})
			}
			select {
			case e.handled <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) framingError(err error) {
	switch {
	case errors.Is(err, protocol.ErrLengthMismatch), errors.Is(err, protocol.ErrMalformedLength):
		e.stats.lengthErrors.Add(1)
		e.logger.Printf("Protocol error: %v", err)
		e.publish(Fault{Message: "protocol error", Err: err, At: time.Now()})
	case errors.Is(err, protocol.ErrInvalidDataType):
		e.stats.invalidTypes.Add(1)
		if e.debug {
			e.logger.Printf("Framing: %v", err)
		}
	default:
		e.stats.syncErrors.Add(1)
		if e.debug {
			e.logger.Printf("Framing: %v", err)
		}
	}
}

func (e *Engine) countResponse(matched bool) {
	if matched {
		e.stats.responses.Add(1)
	} else {
		e.stats.unsolicited.Add(1)
	}
}

func (e *Engine) handleTelemetry(m protocol.TelemetryData) {
	matched := e.registry.Resolve(KindTelemetry, m.Channel)
	e.countResponse(matched)
	if e.debug {
		e.logger.Printf("Telemetry channel %d = %d (matched=%v)", m.Channel, m.Value, matched)
	}
	e.publish(TelemetryReceived{Channel: m.Channel, Value: m.Value, Matched: matched, At: time.Now()})
}

func (e *Engine) handleRejection(m protocol.TelemetryRejection) {
	matched := e.registry.Resolve(KindTelemetry, m.Channel)
	e.countResponse(matched)
	e.logger.Printf("Telemetry channel %d rejected: %s", m.Channel, m.Reason)
	e.publish(RejectionReceived{Channel: m.Channel, Reason: m.Reason, Matched: matched, At: time.Now()})
}

func (e *Engine) handleTelecommandResponse(m protocol.TelecommandResponse) {
	matched := e.registry.Resolve(KindTelecommand, m.Number)
	e.countResponse(matched)
	if e.debug || m.Status != protocol.TC_SUCCESS {
		e.logger.Printf("Telecommand %d response: %s (matched=%v)", m.Number, m.Status, matched)
	}
	e.publish(TelecommandResponseReceived{Number: m.Number, Status: m.Status, Matched: matched, At: time.Now()})
}

func (e *Engine) handleTimeout(req PendingRequest) {
	e.stats.timeouts.Add(1)
	e.logger.Printf("%s request %d timed out after %v", req.Kind, req.ID, req.Timeout)
	e.publish(TimeoutOccurred{Kind: req.Kind, ID: req.ID, At: time.Now()})
}

func (e *Engine) handleTick(s Session) {
	e.transmit(s, true)
}

// SendTelemetryRequest asks the device for channel. With continuous set the
// request is instead repeated at the configured rate, first after one period.
func (e *Engine) SendTelemetryRequest(channel uint32, continuous bool) error {
	return e.send(KindTelemetry, channel, protocol.TelemetryRequest{Channel: channel}.Frame(), continuous)
}

// SendTelecommandRequest sends command number with its 8 byte argument
func (e *Engine) SendTelecommandRequest(number uint32, argument [8]byte, continuous bool) error {
	req := protocol.TelecommandRequest{Number: number, Argument: argument}
	return e.send(KindTelecommand, number, req.Frame(), continuous)
}

func (e *Engine) send(kind RequestKind, id uint32, frame protocol.Frame, continuous bool) error {
	if !e.Running() {
		return ErrNotRunning
	}

	wire, err := e.codec.Encode(frame.DataType, frame.Payload)
	if err != nil {
		return err
	}
	session := Session{Kind: kind, ID: id, Frame: wire}

	if !continuous {
		return e.transmit(session, false)
	}

	rate := e.Rate()
	if err := e.scheduler.Start(session, rate); err != nil {
		e.publish(Fault{Message: "cannot start continuous transmission", Err: err, At: time.Now()})
		return err
	}
	e.logger.Printf("Continuous %s request %d started at %.2f Hz", kind, id, rate)
	return nil
}

// transmit registers and writes one request. The run state is held until the
// write returns, so Stop waits for it before closing the registry and transport.
func (e *Engine) transmit(s Session, continuous bool) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return ErrNotRunning
	}
	e.registry.Send(s.Kind, s.ID, e.timeout)

	e.writeMu.Lock()
	err := e.transport.Write(s.Frame)
	e.writeMu.Unlock()
	e.mu.RUnlock()

	if err != nil {
		e.stats.writeErrors.Add(1)
		e.logger.Printf("Failed to send %s request %d: %v", s.Kind, s.ID, err)
		e.publish(Fault{Message: fmt.Sprintf("failed to send %s request %d", s.Kind, s.ID), Err: err, At: time.Now()})
		return err
	}

	e.stats.framesSent.Add(1)
	e.stats.bytesSent.Add(uint64(len(s.Frame)))
	if e.debug {
		e.logger.Printf("Sent %s request %d: %s", s.Kind, s.ID, protocol.FormatBytes(s.Frame))
	}
	e.publish(RequestSent{Kind: s.Kind, ID: s.ID, Continuous: continuous, At: time.Now()})
	return nil
}

// TransmitRaw writes operator supplied bytes unmodified. No request is tracked.
func (e *Engine) TransmitRaw(data []byte) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return ErrNotRunning
	}
	e.writeMu.Lock()
	err := e.transport.Write(data)
	e.writeMu.Unlock()
	e.mu.RUnlock()

	if err != nil {
		e.stats.writeErrors.Add(1)
		e.publish(Fault{Message: "failed to send raw bytes", Err: err, At: time.Now()})
		return err
	}
	e.stats.bytesSent.Add(uint64(len(data)))
	e.logger.Printf("Sent raw frame: %s", protocol.FormatBytes(data))
	return nil
}

// StopContinuous ends the continuous session and flushes unsent output
func (e *Engine) StopContinuous() error {
	_, active := e.scheduler.Active()
	if err := e.scheduler.Stop(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	if active {
		e.logger.Printf("Continuous transmission stopped")
	}
	return nil
}

// AdjustRate changes the continuous transmission rate
func (e *Engine) AdjustRate(rateHz float64) error {
	if err := e.scheduler.Adjust(rateHz); err != nil {
		e.publish(Fault{Message: "cannot adjust rate", Err: err, At: time.Now()})
		return err
	}
	e.mu.Lock()
	e.rate = rateHz
	e.mu.Unlock()
	return nil
}

// Rate returns the continuous transmission rate in Hz
func (e *Engine) Rate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rate
}

// SetTimeout changes the timeout given to requests sent from now on
func (e *Engine) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidTimeout
	}
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
	return nil
}

// Timeout returns the current request timeout
func (e *Engine) Timeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeout
}

// Pending returns the outstanding requests, oldest first
func (e *Engine) Pending() []PendingRequest {
	return e.registry.Snapshot()
}

// Stats returns the current counters
func (e *Engine) Stats() Stats {
	_, continuous := e.scheduler.Active()
	return Stats{
		FramesReceived: e.stats.framesReceived.Load(),
		FramesSent:     e.stats.framesSent.Load(),
		BytesSent:      e.stats.bytesSent.Load(),
		SyncErrors:     e.stats.syncErrors.Load(),
		InvalidTypes:   e.stats.invalidTypes.Load(),
		LengthErrors:   e.stats.lengthErrors.Load(),
		Responses:      e.stats.responses.Load(),
		Unsolicited:    e.stats.unsolicited.Load(),
		Timeouts:       e.stats.timeouts.Load(),
		ReadErrors:     e.stats.readErrors.Load(),
		WriteErrors:    e.stats.writeErrors.Load(),
		DroppedEvents:  e.stats.droppedEvents.Load(),
		Pending:        e.registry.Len(),
		Continuous:     continuous,
		Rate:           e.Rate(),
		Timeout:        e.Timeout(),
	}
}

// Subscribe returns a channel receiving every event from now on. When the
// buffer is full events for this subscriber are dropped and counted. The
// channel is closed by cancel or by Stop.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.subMu.Lock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
			e.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (e *Engine) publish(ev Event) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.stats.droppedEvents.Add(1)
			if e.debug {
				e.logger.Printf("Subscriber full, dropping %T", ev)
			}
		}
	}
}
