package link

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Continuous transmission rate limits, in Hz
const (
	MIN_RATE = 0.001 // one send every 1000 s
	MAX_RATE = 1000  // one send every millisecond
)

// Session is a request repeated at a fixed rate until stopped or replaced
type Session struct {
	Kind  RequestKind
	ID    uint32
	Frame []byte // encoded wire bytes
}

// TickFunc transmits one repetition of a session
type TickFunc func(s Session)

type activeSession struct {
	Session
	period time.Duration
	next   time.Time
	timer  *time.Timer
}

// Scheduler runs at most one continuous session. Ticks keep a fixed phase:
// each deadline is the previous deadline plus the period.
type Scheduler struct {
	mu     sync.Mutex
	tick   TickFunc
	flush  func() error
	active *activeSession
	rate   float64
}

// NewScheduler creates an idle scheduler. flush may be nil.
func NewScheduler(tick TickFunc, flush func() error) *Scheduler {
	return &Scheduler{tick: tick, flush: flush}
}

func periodFor(rateHz float64) time.Duration {
	return time.Duration(float64(time.Second) / rateHz)
}

// ValidateRate checks that rateHz gives a usable period. Zero, negative and
// NaN rates return ErrRateZero; finite rates outside MIN_RATE..MAX_RATE and
// infinities return ErrRateRange.
func ValidateRate(rateHz float64) error {
	if math.IsNaN(rateHz) || rateHz <= 0 {
		return ErrRateZero
	}
	if math.IsInf(rateHz, 0) || rateHz < MIN_RATE || rateHz > MAX_RATE {
		return fmt.Errorf("%w: %g Hz not within %g..%g Hz", ErrRateRange, rateHz, MIN_RATE, float64(MAX_RATE))
	}
	return nil
}

// Start begins sending s every 1/rateHz seconds, the first send one period
// from now. A running session is replaced.
func (s *Scheduler) Start(session Session, rateHz float64) error {
	if err := ValidateRate(rateHz); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.timer.Stop()
	}

	a := &activeSession{
		Session: session,
		period:  periodFor(rateHz),
	}
	a.next = time.Now().Add(a.period)
	a.timer = time.AfterFunc(a.period, func() { s.fire(a) })
	s.active = a
	s.rate = rateHz
	return nil
}

func (s *Scheduler) fire(a *activeSession) {
	s.mu.Lock()
	if s.active != a {
		// stopped or replaced after this timer was armed
		s.mu.Unlock()
		return
	}
	a.next = a.next.Add(a.period)
	delay := time.Until(a.next)
	if delay < 0 {
		delay = 0
	}
	a.timer = time.AfterFunc(delay, func() { s.fire(a) })
	session := a.Session
	s.mu.Unlock()

	s.tick(session)
}

// Adjust changes the rate. The tick already armed keeps its deadline and the
// new period applies from there. With no session running the rate is kept
// for the next Start.
func (s *Scheduler) Adjust(rateHz float64) error {
	if err := ValidateRate(rateHz); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rateHz
	if s.active != nil {
		s.active.period = periodFor(rateHz)
	}
	return nil
}

// Stop cancels the running session, if any, and flushes unsent output
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.active != nil {
		s.active.timer.Stop()
		s.active = nil
	}
	s.mu.Unlock()

	if s.flush != nil {
		return s.flush()
	}
	return nil
}

// Active returns the running session
func (s *Scheduler) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Session{}, false
	}
	return s.active.Session, true
}

// Rate returns the last rate given to Start or Adjust
func (s *Scheduler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Period returns the running session's period, zero when idle
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return 0
	}
	return s.active.period
}
