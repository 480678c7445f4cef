package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobflare/mobflare/go/internal/flare/events"
)

type fakePublisher struct {
	mu        sync.Mutex
	failFirst int
	attempts  int
	published []events.Event
	closed    bool
}

func (p *fakePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failFirst {
		return errors.New("nats: no responders available for request")
	}
	p.published = append(p.published, e)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func mustEvent(t *testing.T, typ events.Type, cycle int) events.Event {
	t.Helper()
	e, err := events.New(typ, "Alpha Bravo Kilo", time.Now(), events.OutputPayload{Cycle: cycle})
	require.NoError(t, err)
	return e
}

func TestDispatcherRetries(t *testing.T) {
	pub := &fakePublisher{failFirst: 2}
	d := NewDispatcher(pub, Config{QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond})
	require.NoError(t, d.Start(context.Background()))

	d.Enqueue(mustEvent(t, events.TypeOutputBegan, 1))
	assert.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())
	assert.True(t, pub.closed)
	assert.Equal(t, 3, pub.attempts)
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, DefaultConfig())

	for i := 1; i <= 5; i++ {
		d.Enqueue(mustEvent(t, events.TypeOutputEnded, i))
	}
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())

	assert.Equal(t, 5, pub.count())
	assert.Error(t, d.Stop(), "second stop")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, Config{QueueSize: 2})

	for i := 0; i < 5; i++ {
		d.Enqueue(mustEvent(t, events.TypeOutputBegan, i))
	}
	assert.Len(t, d.queue, 2)
}

type recordingCollector struct {
	types   []string
	success []bool
}

func (c *recordingCollector) RecordEventProcessed(eventType string, success bool, _ time.Duration) {
	c.types = append(c.types, eventType)
	c.success = append(c.success, success)
}

func TestMetricPublisher(t *testing.T) {
	pub := &fakePublisher{failFirst: 1}
	collector := &recordingCollector{}
	mp := NewMetricPublisher(pub, collector)

	assert.Error(t, mp.Publish(context.Background(), mustEvent(t, events.TypeFlareCompleted, 0)))
	assert.NoError(t, mp.Publish(context.Background(), mustEvent(t, events.TypeFlareCompleted, 0)))

	assert.Equal(t, []string{"FlareCompleted", "FlareCompleted"}, collector.types)
	assert.Equal(t, []bool{false, true}, collector.success)

	require.NoError(t, mp.Close())
	assert.True(t, pub.closed)
}

func TestMessage(t *testing.T) {
	e := mustEvent(t, events.TypeOutputBegan, 3)
	msg, err := message("flare.events", e)
	require.NoError(t, err)

	assert.Equal(t, "flare.events.OutputBegan", msg.Subject)
	assert.Equal(t, "OutputBegan", msg.Header.Get("Event-Type"))
	assert.Equal(t, "Alpha Bravo Kilo", msg.Header.Get("Flare-Name"))
	assert.Equal(t, e.ID.String(), msg.Header.Get("Event-ID"))

	var back events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &back))
	assert.Equal(t, e.ID, back.ID)
	assert.JSONEq(t, `{"cycle":3}`, string(back.Payload))
}

func TestStreamConfig(t *testing.T) {
	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	sc := p.streamConfig()
	assert.Equal(t, "FLARE_EVENTS", sc.Name)
	assert.Equal(t, []string{"flare.events.>"}, sc.Subjects)
	assert.True(t, isStreamConfigEqual(sc, p.streamConfig()))

	changed := sc
	changed.MaxAge = time.Hour
	assert.False(t, isStreamConfigEqual(sc, changed))
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher()
	assert.NoError(t, p.Publish(context.Background(), mustEvent(t, events.TypeOutputBegan, 1)))
	assert.NoError(t, p.Close())
}

func TestDispatcherSkipsTimerTicks(t *testing.T) {
	d := NewDispatcher(&fakePublisher{}, DefaultConfig())
	e, err := events.New(events.TypeTimerTick, "x", time.Now(), events.TimerTickPayload{RemainingSec: 3})
	require.NoError(t, err)

	d.Enqueue(e)
	assert.Empty(t, d.queue)
}
