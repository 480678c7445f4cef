package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare/events"
)

type Config struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  256,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Dispatcher queues events in memory and publishes them on its own
// goroutine so a slow broker never delays a countdown tick. Events that do
// not fit in the queue are dropped.
type Dispatcher struct {
	publisher Publisher
	config    Config
	queue     chan events.Event

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(publisher Publisher, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Dispatcher{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan events.Event, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("event dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	log.Debug().Int("queue_size", d.config.QueueSize).Msg("event dispatcher started")
	return nil
}

// Stop publishes what is already queued, then returns.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("event dispatcher not running")
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()
	return d.publisher.Close()
}

// Enqueue never blocks. Timer ticks are display-only and are not queued.
func (d *Dispatcher) Enqueue(event events.Event) {
	if event.Type == events.TypeTimerTick {
		return
	}
	select {
	case d.queue <- event:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("flare", event.FlareName).
			Msg("event queue full, dropping event")
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.drain(context.Background())
			return
		case <-d.stopChan:
			d.drain(ctx)
			return
		case event := <-d.queue:
			d.publishWithRetry(ctx, event)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.publishOnce(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) publishOnce(ctx context.Context, event events.Event) {
	if err := d.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.Type)).
			Msg("failed to publish event")
	}
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, event events.Event) {
	var lastErr error
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-d.stopChan:
				return
			case <-time.After(d.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := d.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}
		return
	}

	log.Error().Err(lastErr).
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Int("max_retries", d.config.MaxRetries).
		Msg("giving up on event")
}
