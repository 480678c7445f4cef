package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare/events"
)

// display renders session events on the terminal. Countdown ticks rewrite
// the current line.
type display struct {
	mu      sync.Mutex
	w       io.Writer
	ticking bool
}

func newDisplay(w io.Writer) *display {
	return &display{w: w}
}

func (d *display) Emit(e events.Event) {
	payload, err := events.ParsePayload(e)
	if err != nil {
		log.Debug().Err(err).Str("event_type", string(e.Type)).Msg("display skipped event")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch p := payload.(type) {
	case *events.TimerTickPayload:
		fmt.Fprintf(d.w, "\r%s  %s ", p.Display, p.Phase)
		d.ticking = true
		return
	case *events.FlareJoinedPayload:
		d.line("joined %s as participant #%d", e.FlareName, p.ParticipantIndex)
	case *events.QuorumProgressPayload:
		d.line("waiting for quorum: %d/%d joined", p.JoinCount, p.QuorumSize)
	case *events.FlareSynchronizedPayload:
		d.line("synchronized, firing at %s", p.TargetTime.Local().Format("15:04:05.000"))
	case *events.FlareCompletedPayload:
		d.line("done after %d cycle(s)", p.Cycles)
	case *events.FlareFailedPayload:
		d.line("failed: %s", p.Error)
	case *events.FlareAbandonedPayload:
		d.line("abandoned")
	}
}

func (d *display) line(format string, args ...interface{}) {
	if d.ticking {
		fmt.Fprintln(d.w)
		d.ticking = false
	}
	fmt.Fprintf(d.w, format+"\n", args...)
}
