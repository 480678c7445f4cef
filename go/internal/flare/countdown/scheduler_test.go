package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobflare/mobflare/go/internal/flare"
)

var testStart = time.UnixMilli(1_700_000_000_000)

type call struct {
	op string
	at time.Time
}

type recordingDevice struct {
	clock clockwork.Clock

	mu    sync.Mutex
	calls []call
}

func (d *recordingDevice) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{op: op, at: d.clock.Now()})
}

func (d *recordingDevice) BeginOutput() { d.record("begin") }
func (d *recordingDevice) EndOutput()   { d.record("end") }
func (d *recordingDevice) Release()     { d.record("release") }

func (d *recordingDevice) ops(filter ...string) []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []call
	for _, c := range d.calls {
		for _, f := range filter {
			if c.op == f {
				out = append(out, c)
			}
		}
	}
	return out
}

type recordingListener struct {
	mu        sync.Mutex
	remaining []int
	completed bool
}

func (l *recordingListener) RemainingChanged(s int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = append(l.remaining, s)
}
func (l *recordingListener) OutputChanged(Phase, int) {}
func (l *recordingListener) Completed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = true
}

// step waits for the scheduler to park on its timer and advances the clock.
// It returns true once Run has exited.
func step(t *testing.T, fc *clockwork.FakeClock, done <-chan error, d time.Duration) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	parked := make(chan error, 1)
	go func() { parked <- fc.BlockUntilContext(ctx, 1) }()

	select {
	case <-done:
		return true
	case err := <-parked:
		require.NoError(t, err, "scheduler never waited on its timer")
		fc.Advance(d)
		return false
	}
}

func startScheduler(t *testing.T, target Target, opts ...Option) (*Scheduler, *recordingDevice, *clockwork.FakeClock, chan error, context.CancelFunc) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(testStart)
	dev := &recordingDevice{clock: fc}
	s := NewScheduler(target, dev, append([]Option{WithClock(fc)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return s, dev, fc, done, cancel
}

func TestSchedulerOneShot(t *testing.T) {
	listener := &recordingListener{}
	target := Target{FlareName: "once", Instant: testStart.Add(2 * time.Second)}
	s, dev, fc, done, _ := startScheduler(t, target, WithListener(listener))

	var finished bool
	for i := 0; i < 100 && !finished; i++ {
		finished = step(t, fc, done, 100*time.Millisecond)
	}
	require.True(t, finished, "one-shot flare never completed")

	begins := dev.ops("begin")
	ends := dev.ops("end")
	require.Len(t, begins, 1)
	require.Len(t, ends, 1)
	// remaining floors to zero 900ms before the target
	assert.Equal(t, testStart.Add(1100*time.Millisecond), begins[0].at)
	assert.Equal(t, testStart.Add(1200*time.Millisecond), ends[0].at)
	assert.NotEmpty(t, dev.ops("release"))

	fc.Advance(10 * time.Second)
	assert.Len(t, dev.ops("begin"), 1)

	state := s.Snapshot()
	assert.True(t, state.Done)
	assert.Equal(t, 1, state.Cycle)
	assert.True(t, listener.completed)
	assert.Equal(t, 2, listener.remaining[0])
}

func TestSchedulerRepeatCycles(t *testing.T) {
	target := Target{
		FlareName: "repeat",
		Instant:   testStart.Add(2 * time.Second),
		Repeat:    2 * time.Second,
	}
	_, dev, fc, done, cancel := startScheduler(t, target)

	for i := 0; i < 70; i++ {
		require.False(t, step(t, fc, done, 100*time.Millisecond))
	}
	cancel()
	assert.ErrorIs(t, <-done, flare.ErrCancelled)

	outputs := dev.ops("begin", "end")
	require.Len(t, outputs, 6)
	for i, c := range outputs {
		if i%2 == 0 {
			assert.Equal(t, "begin", c.op, "begin must never repeat without an end")
		} else {
			assert.Equal(t, "end", c.op)
		}
	}

	begins := dev.ops("begin")
	for i := 1; i < len(begins); i++ {
		assert.Equal(t, 2*time.Second, begins[i].at.Sub(begins[i-1].at))
	}
}

func TestSchedulerPastTargetFiresImmediately(t *testing.T) {
	target := Target{FlareName: "late", Instant: testStart.Add(-30 * time.Second)}
	_, dev, fc, done, _ := startScheduler(t, target)

	var finished bool
	for i := 0; i < 5 && !finished; i++ {
		finished = step(t, fc, done, 100*time.Millisecond)
	}
	require.True(t, finished)

	begins := dev.ops("begin")
	require.Len(t, begins, 1)
	assert.Equal(t, testStart, begins[0].at)
}

func TestSchedulerSuspendResume(t *testing.T) {
	target := Target{FlareName: "bg", Instant: testStart.Add(2 * time.Second)}
	s, dev, fc, done, _ := startScheduler(t, target)

	for i := 0; i < 5; i++ {
		require.False(t, step(t, fc, done, 100*time.Millisecond))
	}

	s.Deactivate()
	assert.True(t, s.Snapshot().Suspended)
	require.Eventually(t, func() bool { return len(dev.ops("release")) == 1 }, 2*time.Second, time.Millisecond)

	// the target passes while suspended
	fc.Advance(3 * time.Second)
	assert.Empty(t, dev.ops("begin"))

	s.Activate()

	var finished bool
	for i := 0; i < 10 && !finished; i++ {
		finished = step(t, fc, done, 100*time.Millisecond)
	}
	require.True(t, finished)
	assert.Len(t, dev.ops("begin"), 1)
	assert.Len(t, dev.ops("end"), 1)
}

func TestSchedulerRepeatSkipsMissedCycles(t *testing.T) {
	target := Target{
		FlareName: "skip",
		Instant:   testStart.Add(2 * time.Second),
		Repeat:    time.Second,
	}
	s, dev, fc, done, cancel := startScheduler(t, target)

	// through the first begin and end
	for i := 0; i < 13; i++ {
		require.False(t, step(t, fc, done, 100*time.Millisecond))
	}
	require.Len(t, dev.ops("end"), 1)

	s.Deactivate()
	fc.Advance(10 * time.Second)
	s.Activate()

	for i := 0; i < 5; i++ {
		require.False(t, step(t, fc, done, 100*time.Millisecond))
	}
	cancel()
	<-done

	// the overdue fire runs once, then the schedule jumps past the elapsed
	// cycles instead of replaying them
	outputs := dev.ops("begin", "end")
	for i, c := range outputs {
		if i%2 == 0 {
			assert.Equal(t, "begin", c.op)
		} else {
			assert.Equal(t, "end", c.op)
		}
	}
	assert.Len(t, dev.ops("begin"), 3)
	assert.Equal(t, testStart.Add(13*time.Second), s.Snapshot().NextFire)
}

func TestSchedulerCancelReleasesDevice(t *testing.T) {
	target := Target{FlareName: "gone", Instant: testStart.Add(time.Minute)}
	_, dev, fc, done, cancel := startScheduler(t, target)

	require.False(t, step(t, fc, done, 100*time.Millisecond))
	cancel()
	assert.ErrorIs(t, <-done, flare.ErrCancelled)
	assert.Len(t, dev.ops("release"), 1)
	assert.Empty(t, dev.ops("begin"))
}

// stallingDevice blocks in BeginOutput until unblocked, like a strobe
// waiting on its broker.
type stallingDevice struct {
	recordingDevice
	entered chan struct{}
	unblock chan struct{}
}

func (d *stallingDevice) BeginOutput() {
	close(d.entered)
	<-d.unblock
	d.record("begin")
}

func TestSchedulerDeactivateDoesNotWaitOnDevice(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testStart)
	dev := &stallingDevice{
		recordingDevice: recordingDevice{clock: fc},
		entered:         make(chan struct{}),
		unblock:         make(chan struct{}),
	}
	target := Target{FlareName: "slow", Instant: testStart}
	s := NewScheduler(target, dev, WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-dev.entered
	returned := make(chan struct{})
	go func() {
		s.Deactivate()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Deactivate blocked on the device")
	}

	close(dev.unblock)
	require.Eventually(t, func() bool { return len(dev.ops("release")) == 1 }, 2*time.Second, time.Millisecond)

	ops := dev.ops("begin", "release")
	require.Len(t, ops, 2)
	assert.Equal(t, "begin", ops[0].op)
	assert.Equal(t, "release", ops[1].op)

	fc.Advance(time.Second)
	assert.Empty(t, dev.ops("end"), "no output while suspended")

	cancel()
	assert.ErrorIs(t, <-done, flare.ErrCancelled)
}
