// Package quorum joins a named flare and polls the coordinator until the
// quorum is met and a start instant is published.
package quorum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/flare/countdown"
	"github.com/mobflare/mobflare/go/internal/flare/telemetry"
	"github.com/mobflare/mobflare/go/internal/models"
)

// DefaultPollInterval is the pause between the end of one poll and the
// start of the next.
const DefaultPollInterval = time.Second

// Client is the slice of the coordinator client the waiter uses.
type Client interface {
	JoinFlare(ctx context.Context, name string) (int, error)
	FetchFlare(ctx context.Context, name string) (*models.Flare, error)
	CancelInFlight() bool
}

// Reporter observes progress. Calls come from the Run goroutine.
type Reporter interface {
	StateChanged(name string, state State)
	Joined(name string, participantIndex int)
	Progress(f *models.Flare)
}

type NopReporter struct{}

func (NopReporter) StateChanged(string, State) {}
func (NopReporter) Joined(string, int)         {}
func (NopReporter) Progress(*models.Flare)     {}

// Handoff is everything the countdown needs once the quorum is met.
type Handoff struct {
	Flare            models.Flare
	ParticipantIndex int
}

func (h Handoff) Target() countdown.Target {
	return countdown.NewTarget(&h.Flare, h.ParticipantIndex)
}

// Status is a point-in-time view of the waiter.
type Status struct {
	FlareName   string             `json:"flareName"`
	State       string             `json:"state"`
	Participant models.Participant `json:"participant"`
	JoinCount   int                `json:"joinCount"`
	QuorumSize  int                `json:"quorumSize"`
	Suspended   bool               `json:"suspended"`
}

type Option func(*Waiter)

func WithClock(clock clockwork.Clock) Option {
	return func(w *Waiter) { w.clock = clock }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(w *Waiter) { w.reporter = r }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Waiter) { w.metrics = m }
}

// Waiter runs the join state machine for one flare. Polls run serially on
// the Run goroutine; Activate, Deactivate and Abandon are safe from any
// goroutine.
type Waiter struct {
	client   Client
	clock    clockwork.Clock
	interval time.Duration
	reporter Reporter
	metrics  *telemetry.Metrics
	name     string

	mu          sync.Mutex
	state       State
	participant models.Participant
	latest      *models.Flare
	suspended   bool
	abandoned   bool
	cancel      context.CancelFunc

	wakeCh chan struct{}
}

func NewWaiter(client Client, flareName string, opts ...Option) *Waiter {
	w := &Waiter{
		client:      client,
		clock:       clockwork.NewRealClock(),
		interval:    DefaultPollInterval,
		reporter:    NopReporter{},
		name:        flareName,
		state:       StateNotJoined,
		participant: models.Participant{FlareName: flareName},
		wakeCh:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the flare starts. It returns flare.ErrCancelled after
// Abandon or ctx cancellation, and a classified error when the flare or
// this client is rejected.
func (w *Waiter) Run(ctx context.Context) (Handoff, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	if w.abandoned {
		w.mu.Unlock()
		return Handoff{}, flare.ErrCancelled
	}
	w.cancel = cancel
	w.mu.Unlock()

	log.Info().Str("flare", w.name).Dur("interval", w.interval).Msg("waiting for quorum")

	var timer clockwork.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	wait := false
	for {
		if w.isSuspended() {
			select {
			case <-w.wakeCh:
				wait = true
				continue
			case <-ctx.Done():
				return Handoff{}, w.terminate()
			}
		}

		if wait {
			if timer == nil {
				timer = w.clock.NewTimer(w.interval)
			} else {
				timer.Reset(w.interval)
			}
			select {
			case <-timer.Chan():
				wait = false
			case <-w.wakeCh:
				stopAndDrainTimer(timer)
			case <-ctx.Done():
				return Handoff{}, w.terminate()
			}
			continue
		}

		handoff, done, err := w.poll(ctx)
		if err != nil {
			return Handoff{}, err
		}
		if done {
			return handoff, nil
		}
		wait = true
	}
}

// poll is one tick: join while still unjoined, then fetch.
func (w *Waiter) poll(ctx context.Context) (Handoff, bool, error) {
	if w.shouldJoin() {
		w.setState(StateJoining)
		idx, err := w.client.JoinFlare(ctx, w.name)
		switch {
		case err == nil:
			w.metrics.JoinAttempt("ok")
			w.mu.Lock()
			w.participant.Index = idx
			w.participant.Joined = true
			w.mu.Unlock()
			log.Info().Str("flare", w.name).Int("participant", idx).Msg("joined flare")
			w.reporter.Joined(w.name, idx)
		case flare.Retryable(err):
			// still unjoined; the next tick retries
			w.metrics.JoinAttempt("transient")
			log.Warn().Err(err).Str("flare", w.name).Msg("join failed, retrying on next poll")
		case flare.Classify(err) == flare.KindCancelled:
			w.metrics.JoinAttempt("cancelled")
			return Handoff{}, false, w.terminate()
		default:
			w.metrics.JoinAttempt("rejected")
			return Handoff{}, false, w.fail(err)
		}
	}

	w.setState(StatePolling)
	f, err := w.client.FetchFlare(ctx, w.name)
	if err != nil {
		switch {
		case flare.Retryable(err):
			w.metrics.PollCall("transient")
			log.Warn().Err(err).Str("flare", w.name).Msg("poll failed")
			return Handoff{}, false, nil
		case flare.Classify(err) == flare.KindCancelled:
			w.metrics.PollCall("cancelled")
			return Handoff{}, false, w.terminate()
		default:
			w.metrics.PollCall("rejected")
			return Handoff{}, false, w.fail(err)
		}
	}
	if f == nil {
		w.metrics.PollCall("absent")
		return Handoff{}, false, w.fail(fmt.Errorf("flare %q: %w", w.name, flare.ErrInvalidSession))
	}

	w.mu.Lock()
	w.latest = f
	participant, abandoned := w.participant, w.abandoned
	w.mu.Unlock()
	w.reporter.Progress(f)

	if !f.Started() {
		w.metrics.PollCall("waiting")
		log.Debug().
			Str("flare", w.name).
			Int("joined", f.JoinCount).
			Int("quorum", f.QuorumSize).
			Msg("quorum not met")
		return Handoff{}, false, nil
	}

	w.metrics.PollCall("started")
	if abandoned || ctx.Err() != nil {
		return Handoff{}, false, w.terminate()
	}
	if !participant.Joined {
		// without an index the stagger slot is unknown
		return Handoff{}, false, w.fail(fmt.Errorf("flare %q started before this client joined: %w", w.name, flare.ErrInvalidSession))
	}
	w.setState(StateSynchronized)
	log.Info().
		Str("flare", w.name).
		Time("start", f.StartInstant()).
		Int("participant", participant.Index).
		Msg("quorum met")
	return Handoff{Flare: *f, ParticipantIndex: participant.Index}, true, nil
}

func (w *Waiter) fail(err error) error {
	log.Error().Err(err).Str("flare", w.name).Str("kind", flare.Classify(err).String()).Msg("flare wait failed")
	w.setState(StateError)
	w.setState(StateTerminated)
	return err
}

func (w *Waiter) terminate() error {
	w.setState(StateTerminated)
	log.Info().Str("flare", w.name).Msg("flare wait abandoned")
	return flare.ErrCancelled
}

func (w *Waiter) setState(s State) {
	w.mu.Lock()
	if w.state == s || w.state.Terminal() {
		w.mu.Unlock()
		return
	}
	w.state = s
	w.mu.Unlock()
	w.reporter.StateChanged(w.name, s)
}

func (w *Waiter) shouldJoin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.participant.Joined
}

func (w *Waiter) isSuspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspended
}

func (w *Waiter) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Deactivate pauses polling. A poll already in flight completes; no new
// one starts until Activate. Join state is kept.
func (w *Waiter) Deactivate() {
	w.mu.Lock()
	w.suspended = true
	w.mu.Unlock()
	w.wake()
}

// Activate resumes polling one interval from now.
func (w *Waiter) Activate() {
	w.mu.Lock()
	if !w.suspended {
		w.mu.Unlock()
		return
	}
	w.suspended = false
	w.mu.Unlock()
	w.wake()
}

// Abandon stops the waiter from any state and aborts the request in flight.
func (w *Waiter) Abandon() {
	w.mu.Lock()
	w.abandoned = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.client.CancelInFlight()
}

func (w *Waiter) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		FlareName:   w.name,
		State:       w.state.String(),
		Participant: w.participant,
		Suspended:   w.suspended,
	}
	if w.latest != nil {
		st.JoinCount = w.latest.JoinCount
		st.QuorumSize = w.latest.QuorumSize
	}
	return st
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
