package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobflare/mobflare/go/internal/config"
	"github.com/mobflare/mobflare/go/internal/flare"
	"github.com/mobflare/mobflare/go/internal/flare/events"
	"github.com/mobflare/mobflare/go/internal/flare/location"
	"github.com/mobflare/mobflare/go/internal/models"
)

func isolateEnv(t *testing.T, serverURL string) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("MOBFLARE_CONFIG", "")
	t.Setenv("MOBFLARE_SERVER_URI", serverURL)
	t.Setenv("MOBFLARE_OUTPUT", "notify")
	t.Setenv("MOBFLARE_LOCATION_PROVIDER", "static")
	t.Setenv("MOBFLARE_LATITUDE", "37.5")
	t.Setenv("MOBFLARE_LONGITUDE", "-122.25")
	t.Setenv("MOBFLARE_POLL_INTERVAL", "50ms")
	t.Setenv("NATS_URL", "")
	t.Setenv("MOBFLARE_GATEWAY_ADDR", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return executeContext(ctx, args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// silentProvider has no last known fix and never answers a request.
type silentProvider struct {
	requested chan struct{}
}

func (p *silentProvider) LastKnown() (models.Location, bool) { return models.Location{}, false }

func (p *silentProvider) RequestUpdates(location.Listener) func() {
	close(p.requested)
	return func() {}
}

// startedFlare answers joins and reports a flare whose countdown started now.
func startedFlare(t *testing.T, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/flare/"+name, r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			_, _ = fmt.Fprintf(w, `{"name":%q}`, name)
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"participantNumber":0}`))
		default:
			_, _ = fmt.Fprintf(w, `{"flareName":%q,"quorumSize":1,"joinCount":1,"countdownSeconds":0,"countdownStartTime":%d}`,
				name, time.Now().UnixMilli())
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{flare.ErrCancelled, 0},
		{fmt.Errorf("list: %w", flare.ErrObsoleteClient), 3},
		{flare.ErrInvalidSession, 4},
		{flare.ErrDuplicateName, 5},
		{flare.ErrLocationUnavailable, 6},
		{fmt.Errorf("boom"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, exitCode(tt.err), "%v", tt.err)
	}
}

func TestCreateOptionsSettings(t *testing.T) {
	none := func(string) bool { return false }

	s, err := createOptions{flareType: "repeat"}.settings(none)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(models.FlareTypeRepeat), s)

	set := map[string]bool{"quorum": true, "repeat": true}
	s, err = createOptions{flareType: "wave_repeat", quorum: 4, repeat: 3}.settings(func(f string) bool { return set[f] })
	require.NoError(t, err)
	assert.Equal(t, 4, s.QuorumSize)
	assert.Equal(t, 30, s.RepeatDeciSeconds)
	assert.Equal(t, 5, s.StaggerDeciSeconds)

	_, err = createOptions{flareType: "sparkle"}.settings(none)
	assert.Error(t, err)

	_, err = createOptions{flareType: "once", quorum: 0}.settings(func(f string) bool { return f == "quorum" })
	assert.Error(t, err)
}

func TestDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := newDisplay(&buf)
	at := time.UnixMilli(1_700_000_000_000)

	emit := func(typ events.Type, payload interface{}) {
		e, err := events.New(typ, "Alpha Bravo Kilo", at, payload)
		require.NoError(t, err)
		d.Emit(e)
	}

	emit(events.TypeQuorumProgress, events.QuorumProgressPayload{JoinCount: 2, QuorumSize: 3})
	emit(events.TypeTimerTick, events.TimerTickPayload{RemainingSec: 5, Display: "0:05", Phase: "idle"})
	emit(events.TypeFlareCompleted, events.FlareCompletedPayload{Cycles: 1})

	assert.Equal(t, "waiting for quorum: 2/3 joined\n\r0:05  idle \ndone after 1 cycle(s)\n", buf.String())
}

func TestNameCommand(t *testing.T) {
	isolateEnv(t, "http://127.0.0.1:1")

	out, err := execute(t, "name")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 3)
}

func TestListCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list", r.URL.Path)
		assert.Equal(t, "37.5", r.URL.Query().Get("latitude"))
		_, _ = w.Write([]byte(`[{"name":"Far Away","km":1.9},{"name":"Close By","km":0.1}]`))
	}))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "Close By\nFar Away\n", out)
}

func TestListCommandObsoleteClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	_, err := execute(t, "list")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestListCommandLocationCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected coordinator call %s", r.URL.Path)
	}))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	provider := &silentProvider{requested: make(chan struct{})}
	orig := newLocationProvider
	newLocationProvider = func(*Services, context.Context) location.Provider { return provider }
	t.Cleanup(func() { newLocationProvider = orig })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := executeContext(ctx, "list")
		done <- result{out, err}
	}()

	select {
	case <-provider.requested:
	case <-time.After(5 * time.Second):
		t.Fatal("list never asked for a location")
	}
	cancel()

	select {
	case r := <-done:
		require.Error(t, r.err)
		assert.ErrorIs(t, r.err, flare.ErrLocationUnavailable)
		assert.Equal(t, 6, exitCode(r.err))
		assert.Contains(t, r.out, "obtaining location")
	case <-time.After(5 * time.Second):
		t.Fatal("list did not return after cancellation")
	}
}

func TestJoinCommandFires(t *testing.T) {
	srv := httptest.NewServer(startedFlare(t, "live"))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	out, err := execute(t, "join", "live")
	require.NoError(t, err)
	assert.Contains(t, out, "joined live as participant #0")
	assert.Contains(t, out, "*** FLARE #1 ***")
	assert.Contains(t, out, "done after 1 cycle(s)")
}

func TestJoinCommandInvalidFlare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	_, err := execute(t, "join", "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, flare.ErrInvalidSession)
	assert.Equal(t, 4, exitCode(err))
}

func TestCreateCommand(t *testing.T) {
	srv := httptest.NewServer(startedFlare(t, "fresh"))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	out, err := execute(t, "create", "--name", "fresh", "--countdown", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "*** FLARE #1 ***")
}

func TestCreateCommandDuplicateName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()
	isolateEnv(t, srv.URL)

	_, err := execute(t, "create", "--name", "taken")
	require.Error(t, err)
	assert.Equal(t, 5, exitCode(err))
}

func TestRunSessionSignals(t *testing.T) {
	var fetches atomic.Int32
	polled := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"participantNumber":1}`))
			return
		}
		fetches.Add(1)
		select {
		case polled <- struct{}{}:
		default:
		}
		_, _ = w.Write([]byte(`{"flareName":"slow","quorumSize":5,"joinCount":1,"countdownSeconds":10}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Coordinator.ServerURI = srv.URL
	cfg.Coordinator.PollInterval = 20 * time.Millisecond

	var out bytes.Buffer
	ctx := context.Background()
	svc, err := setupServices(ctx, cfg, &out)
	require.NoError(t, err)
	defer svc.Close()

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- runSession(ctx, svc, "slow", &out, signals) }()

	<-polled
	signals <- syscall.SIGUSR1
	signals <- syscall.SIGUSR2
	signals <- syscall.SIGINT

	select {
	case err := <-done:
		assert.ErrorIs(t, err, flare.ErrCancelled)
		assert.Equal(t, 0, exitCode(err))
	case <-time.After(5 * time.Second):
		t.Fatal("session ignored SIGINT")
	}
	assert.Positive(t, fetches.Load())
}

func TestRunSessionRejectsEmptyName(t *testing.T) {
	svc, err := setupServices(context.Background(), config.Default(), &bytes.Buffer{})
	require.NoError(t, err)
	defer svc.Close()

	err = runSession(context.Background(), svc, "  ", &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, errNoFlareName)
}
