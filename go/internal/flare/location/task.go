package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/models"
)

// DefaultTimeout bounds a blocking fetch.
const DefaultTimeout = 120 * time.Second

// future resolves exactly once, with a fix or with unavailability, whichever
// the provider reports first.
type future struct {
	once sync.Once
	done chan struct{}
	loc  models.Location
	ok   bool
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) OnLocation(loc models.Location) {
	f.once.Do(func() {
		f.loc, f.ok = loc, true
		close(f.done)
	})
}

func (f *future) OnUnavailable() {
	f.once.Do(func() {
		close(f.done)
	})
}

// Task performs one bounded location request at a time per call.
type Task struct {
	provider Provider
	clock    clockwork.Clock
	timeout  time.Duration
}

func NewTask(provider Provider, clock clockwork.Clock, timeout time.Duration) *Task {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Task{provider: provider, clock: clock, timeout: timeout}
}

// Fetch blocks until the provider delivers a fix, reports unavailability,
// the timeout elapses or ctx is done. Every failure wraps
// flare.ErrLocationUnavailable; cancellation additionally wraps ctx.Err().
func (t *Task) Fetch(ctx context.Context) (models.Location, error) {
	f := newFuture()
	stop := t.provider.RequestUpdates(f)
	defer stop()

	timer := t.clock.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		if !f.ok {
			return models.Location{}, fmt.Errorf("provider reported no fix: %w", flare.ErrLocationUnavailable)
		}
		return f.loc, nil
	case <-timer.Chan():
		log.Warn().Dur("timeout", t.timeout).Msg("location request timed out")
		return models.Location{}, fmt.Errorf("no fix within %s: %w", t.timeout, flare.ErrLocationUnavailable)
	case <-ctx.Done():
		// a cancelled request is reported like any other missing fix
		return models.Location{}, fmt.Errorf("location request cancelled: %w", flare.ErrLocationUnavailable)
	}
}
