// Package journal persists link events and telemetry samples published by
// the engine.
package journal

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dbehnke/mercurygs/internal/database"
	"github.com/dbehnke/mercurygs/internal/link"
)

const (
	// DefaultRetention is how long journal rows are kept (7 days)
	DefaultRetention = 168 * time.Hour

	// DefaultPruneInterval is how often expired rows are removed
	DefaultPruneInterval = time.Hour

	// SubscriberBuffer is the event channel depth requested from the engine
	SubscriberBuffer = 256
)

// Store is the persistence the recorder writes to
type Store interface {
	RecordEvent(event *database.LinkEvent) error
	RecordSample(sample *database.TelemetrySample) error
	Prune(before time.Time) (int64, error)
}

// Config holds configuration for the recorder
type Config struct {
	Retention     time.Duration // Rows older than this are pruned (default: 7 days)
	PruneInterval time.Duration // How often to prune (default: 1 hour)
	Debug         bool
}

// Recorder writes engine events to a Store
type Recorder struct {
	store         Store
	logger        *log.Logger
	retention     time.Duration
	pruneInterval time.Duration
	debug         bool

	recorded atomic.Uint64
	failures atomic.Uint64
}

// NewRecorder creates a recorder with the given configuration
func NewRecorder(store Store, logger *log.Logger, config Config) *Recorder {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = DefaultPruneInterval
	}

	return &Recorder{
		store:         store,
		logger:        logger,
		retention:     config.Retention,
		pruneInterval: config.PruneInterval,
		debug:         config.Debug,
	}
}

// Run records events until ctx is cancelled or events is closed. Expired rows
// are pruned on start and then every prune interval.
func (r *Recorder) Run(ctx context.Context, events <-chan link.Event) {
	r.logf("Journal recorder starting (retention: %v)", r.retention)
	r.PruneNow()

	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logf("Journal recorder stopping")
			return

		case ev, ok := <-events:
			if !ok {
				r.logf("Journal recorder stopping: event stream closed")
				return
			}
			if err := r.Record(ev); err != nil {
				r.failures.Add(1)
				r.logf("Failed to journal %T: %v", ev, err)
			}

		case <-ticker.C:
			r.PruneNow()
		}
	}
}

// Record stores one event, and a telemetry sample for received telemetry
func (r *Recorder) Record(ev link.Event) error {
	row, sample := Convert(ev)
	if row == nil {
		return nil
	}

	if err := r.store.RecordEvent(row); err != nil {
		return err
	}
	if sample != nil {
		if err := r.store.RecordSample(sample); err != nil {
			return err
		}
	}

	r.recorded.Add(1)
	if r.debug {
		r.logf("Journalled %s", row)
	}
	return nil
}

// PruneNow removes rows older than the retention period
func (r *Recorder) PruneNow() {
	removed, err := r.store.Prune(time.Now().Add(-r.retention))
	if err != nil {
		r.logf("Journal prune failed: %v", err)
		return
	}
	if removed > 0 {
		r.logf("Journal pruned %d rows", removed)
	}
}

// Recorded returns the number of events stored
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}

// Failures returns the number of events that could not be stored
func (r *Recorder) Failures() uint64 {
	return r.failures.Load()
}

func (r *Recorder) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// Convert maps an engine event to its journal row. Telemetry also yields a
// sample. Unknown events return nil.
func Convert(ev link.Event) (*database.LinkEvent, *database.TelemetrySample) {
	switch e := ev.(type) {
	case link.RequestSent:
		return &database.LinkEvent{
			Kind:        database.EVENT_REQUEST,
			RequestKind: e.Kind.String(),
			Identifier:  e.ID,
			Continuous:  e.Continuous,
			CreatedAt:   e.At,
		}, nil

	case link.TelemetryReceived:
		sample := database.NewTelemetrySample(e.Channel, e.Value, e.Matched, e.At)
		return &database.LinkEvent{
			Kind:        database.EVENT_TELEMETRY,
			RequestKind: link.KindTelemetry.String(),
			Identifier:  e.Channel,
			Outcome:     strconv.FormatUint(e.Value, 10),
			Matched:     e.Matched,
			CreatedAt:   e.At,
		}, &sample

	case link.TelecommandResponseReceived:
		return &database.LinkEvent{
			Kind:        database.EVENT_TELECOMMAND_RESPONSE,
			RequestKind: link.KindTelecommand.String(),
			Identifier:  e.Number,
			Outcome:     e.Status.String(),
			Matched:     e.Matched,
			CreatedAt:   e.At,
		}, nil

	case link.RejectionReceived:
		return &database.LinkEvent{
			Kind:        database.EVENT_REJECTION,
			RequestKind: link.KindTelemetry.String(),
			Identifier:  e.Channel,
			Outcome:     e.Reason.String(),
			Matched:     e.Matched,
			CreatedAt:   e.At,
		}, nil

	case link.TimeoutOccurred:
		return &database.LinkEvent{
			Kind:        database.EVENT_TIMEOUT,
			RequestKind: e.Kind.String(),
			Identifier:  e.ID,
			CreatedAt:   e.At,
		}, nil

	case link.Fault:
		return &database.LinkEvent{
			Kind:      database.EVENT_FAULT,
			Message:   e.Error(),
			CreatedAt: e.At,
		}, nil
	}
	return nil, nil
}
