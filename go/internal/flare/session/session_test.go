package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/flare/events"
	"github.com/mobflare/mobflare/go/internal/models"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type fakeClient struct {
	mu        sync.Mutex
	fetches   int
	startOn   int
	joinErr   error
	joinIndex int
}

func (c *fakeClient) JoinFlare(context.Context, string) (int, error) {
	return c.joinIndex, c.joinErr
}

func (c *fakeClient) FetchFlare(_ context.Context, name string) (*models.Flare, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	f := &models.Flare{Name: name, QuorumSize: 2, JoinCount: 1, CountdownSeconds: 1}
	if c.startOn > 0 && c.fetches >= c.startOn {
		f.JoinCount = 2
		f.CountdownStartTime = t0.UnixMilli()
	}
	return f, nil
}

func (c *fakeClient) CancelInFlight() bool { return false }

func (c *fakeClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

type fakeDevice struct {
	mu      sync.Mutex
	initErr error
	ops     []string
}

func (d *fakeDevice) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *fakeDevice) Initialize(context.Context) error {
	d.record("init")
	return d.initErr
}
func (d *fakeDevice) BeginOutput() { d.record("begin") }
func (d *fakeDevice) EndOutput()   { d.record("end") }
func (d *fakeDevice) Release()     { d.record("release") }

func (d *fakeDevice) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// types returns the emitted event types without timer ticks.
func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Type
	for _, e := range l.events {
		if e.Type != events.TypeTimerTick {
			out = append(out, e.Type)
		}
	}
	return out
}

// drive advances the fake clock in 100ms steps whenever the session is
// parked on a timer, until Run returns.
func drive(t *testing.T, fc *clockwork.FakeClock, done <-chan error, maxSteps int) error {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		parked := make(chan error, 1)
		go func() { parked <- fc.BlockUntilContext(ctx, 1) }()

		select {
		case err := <-done:
			cancel()
			return err
		case err := <-parked:
			cancel()
			require.NoError(t, err)
			fc.Advance(100 * time.Millisecond)
		}
	}
	t.Fatal("session did not finish")
	return nil
}

func TestSessionRunsToCompletion(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	client := &fakeClient{startOn: 3, joinIndex: 1}
	device := &fakeDevice{}
	log := &eventLog{}

	s := New(client, device, "Alpha Bravo Kilo", WithClock(fc), WithSink(log))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.NoError(t, drive(t, fc, done, 200))

	assert.Equal(t, []events.Type{
		events.TypeFlareJoined,
		events.TypeQuorumProgress,
		events.TypeQuorumProgress,
		events.TypeFlareSynchronized,
		events.TypeOutputBegan,
		events.TypeOutputEnded,
		events.TypeFlareCompleted,
	}, log.types())

	ops := device.calls()
	assert.Equal(t, "init", ops[0])
	assert.Contains(t, ops, "begin")
	assert.Contains(t, ops, "end")
	assert.Equal(t, "release", ops[len(ops)-1])

	st := s.Status()
	assert.Equal(t, "synchronized", st.Quorum.State)
	require.NotNil(t, st.Countdown)
	assert.True(t, st.Countdown.Done)
	assert.Equal(t, 1, st.Countdown.Cycle)
}

func TestSessionAbandonWhileWaiting(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	client := &fakeClient{}
	device := &fakeDevice{}
	log := &eventLog{}

	s := New(client, device, "Lima Mike Oscar", WithClock(fc), WithSink(log))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	s.Abandon()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, flare.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("abandon did not stop the session")
	}

	polls := client.fetchCount()
	fc.Advance(time.Minute)
	assert.Equal(t, polls, client.fetchCount())
	assert.Empty(t, device.calls())

	types := log.types()
	assert.Equal(t, events.TypeFlareAbandoned, types[len(types)-1])
}

func TestSessionInvalidFlare(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	client := &fakeClient{joinErr: flare.ErrInvalidSession}
	log := &eventLog{}

	s := New(client, &fakeDevice{}, "Nobody", WithClock(fc), WithSink(log))
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, flare.ErrInvalidSession)

	require.Len(t, log.events, 1)
	assert.Equal(t, events.TypeFlareFailed, log.events[0].Type)
	p, err := events.ParsePayload(log.events[0])
	require.NoError(t, err)
	assert.Equal(t, "invalid_session", p.(*events.FlareFailedPayload).Kind)
}

func TestSessionFallbackDevice(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	client := &fakeClient{startOn: 1}
	primary := &fakeDevice{initErr: errors.New("no torch")}
	fallback := &fakeDevice{}

	s := New(client, primary, "Papa Quebec Romeo", WithClock(fc), WithFallback(fallback))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.NoError(t, drive(t, fc, done, 50))

	assert.Equal(t, []string{"init"}, primary.calls())
	assert.Contains(t, fallback.calls(), "begin")
}

func TestSessionDeactivateBeforeStart(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	client := &fakeClient{}

	s := New(client, &fakeDevice{}, "Sierra Tango Uniform", WithClock(fc))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	s.Deactivate()
	assert.True(t, s.Status().Quorum.Suspended)
	s.Activate()
	assert.False(t, s.Status().Quorum.Suspended)

	s.Abandon()
	assert.ErrorIs(t, <-done, flare.ErrCancelled)
}
