package location

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare/telemetry"
	"github.com/mobflare/mobflare/go/internal/models"
)

// Locator answers "where am I" with the cheapest acceptable source: a fresh
// cached fix, then the provider's last known fix (refreshed in the
// background), then a blocking request.
type Locator struct {
	provider Provider
	task     *Task
	cache    *Cache
	metrics  *telemetry.Metrics
	progress func()

	// background refreshes outlive the Locate call that started them
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	refreshing bool
	wg         sync.WaitGroup
}

type LocatorOption func(*Locator)

// WithProgress registers fn to run before Locate blocks on a fresh fix.
func WithProgress(fn func()) LocatorOption {
	return func(l *Locator) { l.progress = fn }
}

func NewLocator(provider Provider, task *Task, cache *Cache, metrics *telemetry.Metrics, opts ...LocatorOption) *Locator {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Locator{
		provider: provider,
		task:     task,
		cache:    cache,
		metrics:  metrics,
		progress: func() {},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locator) Locate(ctx context.Context) (models.Location, error) {
	if loc, ok := l.cache.Fresh(); ok {
		l.metrics.LocationRequest("cache")
		return loc, nil
	}

	if loc, ok := l.provider.LastKnown(); ok && loc.Valid {
		l.metrics.LocationRequest("last_known")
		l.cache.Put(loc)
		l.refresh()
		return loc, nil
	}

	l.progress()
	loc, err := l.task.Fetch(ctx)
	if err != nil {
		l.metrics.LocationRequest("failed")
		return models.Location{}, err
	}
	l.metrics.LocationRequest("fresh")
	l.cache.Put(loc)
	return loc, nil
}

// refresh starts a background fetch unless one is already running.
func (l *Locator) refresh() {
	l.mu.Lock()
	if l.refreshing {
		l.mu.Unlock()
		return
	}
	l.refreshing = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			l.refreshing = false
			l.mu.Unlock()
		}()

		loc, err := l.task.Fetch(l.ctx)
		if err != nil {
			log.Debug().Err(err).Msg("background location refresh failed")
			return
		}
		l.cache.Put(loc)
		log.Debug().Float64("lat", loc.Latitude).Float64("lon", loc.Longitude).Msg("location refreshed")
	}()
}

// Wait blocks until any background refresh has finished.
func (l *Locator) Wait() {
	l.wg.Wait()
}

// Close abandons a running background refresh and waits for it.
func (l *Locator) Close() {
	l.cancel()
	l.wg.Wait()
}
