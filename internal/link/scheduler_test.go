package link

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type tickRecorder struct {
	mu    sync.Mutex
	ticks []Session
	times []time.Time
}

func (r *tickRecorder) tick(s Session) {
	r.mu.Lock()
	r.ticks = append(r.ticks, s)
	r.times = append(r.times, time.Now())
	r.mu.Unlock()
}

func (r *tickRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func (r *tickRecorder) snapshot() ([]Session, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Session(nil), r.ticks...), append([]time.Time(nil), r.times...)
}

func TestScheduler_RejectsUnusableRate(t *testing.T) {
	rec := &tickRecorder{}
	s := NewScheduler(rec.tick, nil)

	tests := []struct {
		name string
		rate float64
		want error
	}{
		{"zero", 0, ErrRateZero},
		{"negative", -1, ErrRateZero},
		{"NaN", math.NaN(), ErrRateZero},
		{"negative infinity", math.Inf(-1), ErrRateZero},
		{"positive infinity", math.Inf(1), ErrRateRange},
		{"vanishingly small", 1e-12, ErrRateRange},
		{"below minimum", MIN_RATE / 2, ErrRateRange},
		{"above maximum", MAX_RATE * 2, ErrRateRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Start(Session{Kind: KindTelemetry, ID: 1}, tt.rate); !errors.Is(err, tt.want) {
				t.Errorf("Start(rate=%v) error = %v, want %v", tt.rate, err, tt.want)
			}
			if err := s.Adjust(tt.rate); !errors.Is(err, tt.want) {
				t.Errorf("Adjust(rate=%v) error = %v, want %v", tt.rate, err, tt.want)
			}
		})
	}

	time.Sleep(50 * time.Millisecond)
	if _, active := s.Active(); active {
		t.Error("session active after rejected Start")
	}
	if s.Rate() != 0 {
		t.Errorf("Rate() = %v after rejected calls, want 0", s.Rate())
	}
	if n := rec.count(); n != 0 {
		t.Errorf("ticks = %d after rejected Start, want 0", n)
	}
}

func TestValidateRate_Limits(t *testing.T) {
	for _, rate := range []float64{MIN_RATE, 1, MAX_RATE} {
		if err := ValidateRate(rate); err != nil {
			t.Errorf("ValidateRate(%v) unexpected error: %v", rate, err)
		}
	}
}

func TestScheduler_FirstTickAfterOnePeriod(t *testing.T) {
	rec := &tickRecorder{}
	s := NewScheduler(rec.tick, nil)
	defer s.Stop()

	start := time.Now()
	if err := s.Start(Session{Kind: KindTelemetry, ID: 7}, 5); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("%d ticks before the first period elapsed", rec.count())
	}

	time.Sleep(200 * time.Millisecond)
	ticks, times := rec.snapshot()
	if len(ticks) != 1 {
		t.Fatalf("ticks after 300ms at 5 Hz = %d, want 1", len(ticks))
	}
	if ticks[0].ID != 7 {
		t.Errorf("tick ID = %d, want 7", ticks[0].ID)
	}
	if d := times[0].Sub(start); d < 200*time.Millisecond {
		t.Errorf("first tick after %v, want >= 200ms", d)
	}
}

func TestScheduler_Cadence(t *testing.T) {
	rec := &tickRecorder{}
	s := NewScheduler(rec.tick, nil)

	if err := s.Start(Session{Kind: KindTelecommand, ID: 1}, 50); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	time.Sleep(510 * time.Millisecond)
	s.Stop()

	// floor(0.51 * 50) = 25
	if n := rec.count(); n < 20 || n > 26 {
		t.Errorf("ticks in 510ms at 50 Hz = %d, want about 25", n)
	}

	n := rec.count()
	time.Sleep(100 * time.Millisecond)
	if rec.count() != n {
		t.Errorf("ticks continued after Stop: %d -> %d", n, rec.count())
	}
}

func TestScheduler_AdjustPreservesPhase(t *testing.T) {
	rec := &tickRecorder{}
	s := NewScheduler(rec.tick, nil)
	defer s.Stop()

	start := time.Now()
	if err := s.Start(Session{Kind: KindTelemetry, ID: 1}, 5); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := s.Adjust(20); err != nil {
		t.Fatalf("Adjust() unexpected error: %v", err)
	}
	if s.Period() != 50*time.Millisecond {
		t.Errorf("Period() = %v, want 50ms", s.Period())
	}

	// the tick armed at 200ms keeps its deadline
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("tick fired at %v, before the armed 200ms deadline", time.Since(start))
	}

	time.Sleep(280 * time.Millisecond)
	_, times := rec.snapshot()
	if len(times) < 3 {
		t.Fatalf("ticks after adjust = %d, want at least 3", len(times))
	}
	if d := times[0].Sub(start); d < 200*time.Millisecond {
		t.Errorf("first tick after %v, want >= 200ms", d)
	}
	if gap := times[2].Sub(times[1]); gap > 150*time.Millisecond {
		t.Errorf("gap between ticks after adjust = %v, want about 50ms", gap)
	}
}

func TestScheduler_AdjustWhileIdle(t *testing.T) {
	s := NewScheduler(func(Session) {}, nil)
	if err := s.Adjust(4); err != nil {
		t.Fatalf("Adjust() unexpected error: %v", err)
	}
	if s.Rate() != 4 {
		t.Errorf("Rate() = %v, want 4", s.Rate())
	}
	if s.Period() != 0 {
		t.Errorf("Period() = %v with no session, want 0", s.Period())
	}
}

func TestScheduler_StartReplacesSession(t *testing.T) {
	rec := &tickRecorder{}
	s := NewScheduler(rec.tick, nil)
	defer s.Stop()

	s.Start(Session{Kind: KindTelemetry, ID: 1}, 20)
	s.Start(Session{Kind: KindTelecommand, ID: 2}, 20)

	time.Sleep(180 * time.Millisecond)
	ticks, _ := rec.snapshot()
	if len(ticks) == 0 {
		t.Fatal("no ticks from replacement session")
	}
	for _, tick := range ticks {
		if tick.ID != 2 {
			t.Errorf("tick from replaced session %d", tick.ID)
		}
	}
}

func TestScheduler_StopFlushes(t *testing.T) {
	flushes := 0
	s := NewScheduler(func(Session) {}, func() error {
		flushes++
		return nil
	})

	s.Start(Session{Kind: KindTelemetry, ID: 1}, 10)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() unexpected error: %v", err)
	}
	if flushes != 1 {
		t.Errorf("flushes = %d, want 1", flushes)
	}
	if _, active := s.Active(); active {
		t.Error("session still active after Stop")
	}
}
