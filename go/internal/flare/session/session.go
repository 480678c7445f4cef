// Package session hosts one flare screen: it waits for the quorum, hands
// the published start to the countdown and reports progress as events.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/flare/countdown"
	"github.com/mobflare/mobflare/go/internal/flare/events"
	"github.com/mobflare/mobflare/go/internal/flare/output"
	"github.com/mobflare/mobflare/go/internal/flare/quorum"
	"github.com/mobflare/mobflare/go/internal/flare/telemetry"
	"github.com/mobflare/mobflare/go/internal/models"
)

// Sink receives every event a session produces. Emit must not block; it is
// called from the countdown goroutine.
type Sink interface {
	Emit(event events.Event)
}

type SinkFunc func(event events.Event)

func (f SinkFunc) Emit(event events.Event) { f(event) }

type Option func(*Session)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithSink(sink Sink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// WithFallback sets the device used when the primary fails to initialize.
func WithFallback(d output.Device) Option {
	return func(s *Session) { s.fallback = d }
}

// Status combines the waiter and countdown views.
type Status struct {
	Quorum    quorum.Status    `json:"quorum"`
	Countdown *countdown.State `json:"countdown,omitempty"`
}

type Session struct {
	name         string
	client       quorum.Client
	device       output.Device
	fallback     output.Device
	clock        clockwork.Clock
	pollInterval time.Duration
	metrics      *telemetry.Metrics
	sinks        []Sink

	mu        sync.Mutex
	waiter    *quorum.Waiter
	scheduler *countdown.Scheduler
	suspended bool
	abandoned bool
	cancel    context.CancelFunc

	// touched only from quorum and countdown callbacks
	state         quorum.State
	phase         countdown.Phase
	lastJoinCount int
	lastRemaining int
	cycles        int
}

func New(client quorum.Client, device output.Device, flareName string, opts ...Option) *Session {
	s := &Session{
		name:          flareName,
		client:        client,
		device:        device,
		clock:         clockwork.NewRealClock(),
		pollInterval:  quorum.DefaultPollInterval,
		lastJoinCount: -1,
		lastRemaining: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.waiter = quorum.NewWaiter(client, flareName,
		quorum.WithClock(s.clock),
		quorum.WithPollInterval(s.pollInterval),
		quorum.WithReporter(s),
		quorum.WithMetrics(s.metrics),
	)
	return s
}

func (s *Session) Name() string {
	return s.name
}

// Run blocks until the flare completes, fails or is abandoned. Abandonment
// returns flare.ErrCancelled.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.abandoned {
		s.mu.Unlock()
		return flare.ErrCancelled
	}
	s.cancel = cancel
	s.mu.Unlock()

	handoff, err := s.waiter.Run(ctx)
	if err != nil {
		return s.finish(err)
	}

	target := handoff.Target()
	s.emit(events.TypeFlareSynchronized, events.FlareSynchronizedPayload{
		StartTime:          handoff.Flare.StartInstant(),
		TargetTime:         target.Instant,
		CountdownSeconds:   handoff.Flare.CountdownSeconds,
		RepeatDeciSeconds:  handoff.Flare.RepeatDeciSeconds,
		StaggerDeciSeconds: handoff.Flare.StaggerDeciSeconds,
		ParticipantIndex:   handoff.ParticipantIndex,
	})

	device := s.initDevice(ctx)
	scheduler := countdown.NewScheduler(target, device,
		countdown.WithClock(s.clock),
		countdown.WithListener(s),
		countdown.WithMetrics(s.metrics),
	)

	s.mu.Lock()
	s.scheduler = scheduler
	if s.suspended {
		scheduler.Deactivate()
	}
	s.mu.Unlock()

	return s.finish(scheduler.Run(ctx))
}

func (s *Session) initDevice(ctx context.Context) output.Device {
	err := s.device.Initialize(ctx)
	if err == nil {
		return s.device
	}
	if s.fallback == nil {
		log.Warn().Err(err).Str("flare", s.name).Msg("output device unavailable, countdown runs dark")
		return s.device
	}
	log.Warn().Err(err).Str("flare", s.name).Msg("output device unavailable, using fallback")
	if ferr := s.fallback.Initialize(ctx); ferr != nil {
		log.Warn().Err(ferr).Str("flare", s.name).Msg("fallback output unavailable")
	}
	return s.fallback
}

func (s *Session) finish(err error) error {
	switch {
	case err == nil:
		s.emit(events.TypeFlareCompleted, events.FlareCompletedPayload{Cycles: s.cycles})
		return nil
	case errors.Is(err, flare.ErrCancelled):
		s.emit(events.TypeFlareAbandoned, events.FlareAbandonedPayload{State: s.state.String()})
		return flare.ErrCancelled
	default:
		s.emit(events.TypeFlareFailed, events.FlareFailedPayload{
			Kind:  flare.Classify(err).String(),
			Error: err.Error(),
		})
		return err
	}
}

// Deactivate backgrounds the screen: polling pauses, or the countdown
// suspends and releases the output device.
func (s *Session) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
	if s.scheduler != nil {
		s.scheduler.Deactivate()
		return
	}
	s.waiter.Deactivate()
}

func (s *Session) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
	if s.scheduler != nil {
		s.scheduler.Activate()
		return
	}
	s.waiter.Activate()
}

// Abandon stops the session from any state. No poll or tick fires after it
// returns.
func (s *Session) Abandon() {
	s.mu.Lock()
	s.abandoned = true
	cancel := s.cancel
	s.mu.Unlock()

	s.waiter.Abandon()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	st := Status{Quorum: s.waiter.Status()}
	if scheduler != nil {
		cs := scheduler.Snapshot()
		st.Countdown = &cs
	}
	return st
}

func (s *Session) emit(t events.Type, payload interface{}) {
	if len(s.sinks) == 0 {
		return
	}
	e, err := events.New(t, s.name, s.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	for _, sink := range s.sinks {
		sink.Emit(e)
	}
}

// quorum.Reporter

func (s *Session) StateChanged(_ string, state quorum.State) {
	s.state = state
	log.Debug().Str("flare", s.name).Str("state", state.String()).Msg("quorum state changed")
}

func (s *Session) Joined(_ string, participantIndex int) {
	s.emit(events.TypeFlareJoined, events.FlareJoinedPayload{ParticipantIndex: participantIndex})
}

func (s *Session) Progress(f *models.Flare) {
	if f.JoinCount == s.lastJoinCount {
		return
	}
	s.lastJoinCount = f.JoinCount
	s.emit(events.TypeQuorumProgress, events.QuorumProgressPayload{
		JoinCount:  f.JoinCount,
		QuorumSize: f.QuorumSize,
		State:      s.state.String(),
	})
}

// countdown.Listener

func (s *Session) RemainingChanged(seconds int) {
	if seconds == s.lastRemaining {
		return
	}
	s.lastRemaining = seconds
	s.emit(events.TypeTimerTick, events.TimerTickPayload{
		RemainingSec: seconds,
		Display:      countdown.FormatTime(seconds),
		Phase:        s.phase.String(),
	})
}

func (s *Session) OutputChanged(phase countdown.Phase, cycle int) {
	s.phase = phase
	if phase == countdown.PhaseActive {
		s.cycles = cycle
		s.emit(events.TypeOutputBegan, events.OutputPayload{Cycle: cycle})
		return
	}
	s.emit(events.TypeOutputEnded, events.OutputPayload{Cycle: cycle})
}

func (s *Session) Completed() {
	log.Debug().Str("flare", s.name).Int("cycles", s.cycles).Msg("countdown completed")
}
