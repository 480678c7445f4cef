// Package countdown drives a participant's output device from an absolute
// target instant using ticks aligned to 100ms boundaries.
package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/flare/telemetry"
)

// Phase is where the scheduler is within one output cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
)

func (p Phase) String() string {
	if p == PhaseActive {
		return "active"
	}
	return "idle"
}

// Device is the part of an output device the scheduler drives.
type Device interface {
	BeginOutput()
	EndOutput()
	Release()
}

// Listener observes the countdown. Callbacks run on the scheduler goroutine.
type Listener interface {
	RemainingChanged(seconds int)
	OutputChanged(phase Phase, cycle int)
	Completed()
}

type nopListener struct{}

func (nopListener) RemainingChanged(int)     {}
func (nopListener) OutputChanged(Phase, int) {}
func (nopListener) Completed()               {}

// State is a point-in-time view of the scheduler.
type State struct {
	FlareName        string    `json:"flareName"`
	NextFire         time.Time `json:"nextFire"`
	RemainingSeconds int       `json:"remainingSeconds"`
	Display          string    `json:"display"`
	Phase            string    `json:"phase"`
	Cycle            int       `json:"cycle"`
	Suspended        bool      `json:"suspended"`
	Done             bool      `json:"done"`
}

type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithListener(l Listener) Option {
	return func(s *Scheduler) { s.listener = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns the output device from handoff until the flare completes
// or is abandoned. Run executes every tick and every device call on a single
// goroutine; Activate and Deactivate may be called from any goroutine and
// never wait on the device.
type Scheduler struct {
	clock    clockwork.Clock
	device   Device
	listener Listener
	metrics  *telemetry.Metrics
	name     string

	mu        sync.Mutex
	nextFire  time.Time
	repeat    time.Duration
	phase     Phase
	cycle     int
	remaining int
	suspended bool
	done      bool

	wakeCh chan struct{}
}

func NewScheduler(target Target, device Device, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    clockwork.NewRealClock(),
		device:   device,
		listener: nopListener{},
		name:     target.FlareName,
		nextFire: target.Instant,
		repeat:   target.Repeat,
		phase:    PhaseIdle,
		wakeCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until the flare completes (nil) or ctx is cancelled
// (flare.ErrCancelled). The device is released on either exit.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("flare", s.name).
		Time("target", s.nextFire).
		Dur("repeat", s.repeat).
		Msg("countdown started")

	defer s.device.Release()

	var timer clockwork.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	var due time.Time
	released := false
	for {
		if ctx.Err() != nil {
			return s.cancelled()
		}
		if s.isSuspended() {
			if !released {
				s.device.Release()
				released = true
			}
			select {
			case <-s.wakeCh:
				continue
			case <-ctx.Done():
				return s.cancelled()
			}
		}

		released = false
		if !due.IsZero() {
			s.metrics.Tick(s.clock.Since(due))
		}
		if s.tick() {
			log.Info().Str("flare", s.name).Msg("countdown completed")
			return nil
		}

		delay := s.delay()
		due = s.clock.Now().Add(delay)
		if timer == nil {
			timer = s.clock.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}

		select {
		case <-timer.Chan():
		case <-s.wakeCh:
			stopAndDrainTimer(timer)
			due = time.Time{}
		case <-ctx.Done():
			return s.cancelled()
		}
	}
}

func (s *Scheduler) cancelled() error {
	log.Info().Str("flare", s.name).Msg("countdown abandoned")
	return flare.ErrCancelled
}

type transition int

const (
	noTransition transition = iota
	beginTransition
	endTransition
)

// tick applies one scheduler step and reports whether the flare is done.
// State advances under the lock; the device and listener are called after
// it is released.
func (s *Scheduler) tick() bool {
	s.mu.Lock()
	if s.done || s.suspended {
		done := s.done
		s.mu.Unlock()
		return done
	}

	now := s.clock.Now()
	remaining := s.nextFire.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	s.remaining = int(remaining / time.Second)

	next := noTransition
	if s.remaining == 0 {
		if s.phase == PhaseIdle {
			next = beginTransition
			s.phase = PhaseActive
			s.cycle++
		} else {
			next = endTransition
			if s.repeat == 0 {
				s.done = true
			} else {
				s.phase = PhaseIdle
				s.nextFire = s.nextFire.Add(s.repeat)
				// cycles missed while suspended are skipped, not replayed
				for !s.nextFire.After(now) {
					s.nextFire = s.nextFire.Add(s.repeat)
				}
			}
		}
	}
	cycle, left, done := s.cycle, s.remaining, s.done
	s.mu.Unlock()

	switch next {
	case beginTransition:
		s.device.BeginOutput()
		s.metrics.OutputBegun()
		log.Debug().Str("flare", s.name).Int("cycle", cycle).Msg("output began")
		s.listener.OutputChanged(PhaseActive, cycle)
	case endTransition:
		s.device.EndOutput()
		log.Debug().Str("flare", s.name).Int("cycle", cycle).Msg("output ended")
		s.listener.OutputChanged(PhaseIdle, cycle)
	}

	s.listener.RemainingChanged(left)
	if done {
		s.listener.Completed()
	}
	return done
}

func (s *Scheduler) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NextDelay(s.nextFire, s.clock.Now())
}

func (s *Scheduler) isSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended && !s.done
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Deactivate suspends ticking. Run finishes any output call in progress,
// then releases the device and makes no further output call until Activate.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	if s.suspended || s.done {
		s.mu.Unlock()
		return
	}
	s.suspended = true
	s.mu.Unlock()

	log.Debug().Str("flare", s.name).Msg("countdown suspended")
	s.wake()
}

// Activate resumes ticking immediately against the unchanged target. The
// device is reacquired lazily on the next output.
func (s *Scheduler) Activate() {
	s.mu.Lock()
	if !s.suspended {
		s.mu.Unlock()
		return
	}
	s.suspended = false
	s.mu.Unlock()

	log.Debug().Str("flare", s.name).Msg("countdown resumed")
	s.wake()
}

func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		FlareName:        s.name,
		NextFire:         s.nextFire,
		RemainingSeconds: s.remaining,
		Display:          FormatTime(s.remaining),
		Phase:            s.phase.String(),
		Cycle:            s.cycle,
		Suspended:        s.suspended,
		Done:             s.done,
	}
}
