package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare/session"
)

// runUntilSignalled runs one flare session with the process signals wired
// in: SIGUSR1 backgrounds it, SIGUSR2 brings it back, SIGINT and SIGTERM
// abandon it.
func runUntilSignalled(ctx context.Context, svc *Services, name string, out io.Writer) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	return runSession(ctx, svc, name, out, signals)
}

func runSession(ctx context.Context, svc *Services, name string, out io.Writer, signals <-chan os.Signal) error {
	if strings.TrimSpace(name) == "" {
		return errNoFlareName
	}

	device, fallback, err := svc.OutputDevice()
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithClock(svc.Clock),
		session.WithPollInterval(svc.Config.Coordinator.PollInterval),
		session.WithMetrics(svc.Metrics),
		session.WithSink(session.SinkFunc(svc.Events.Enqueue)),
		session.WithSink(newDisplay(out)),
	}
	if svc.Gateway != nil {
		opts = append(opts, session.WithSink(session.SinkFunc(svc.Gateway.Publish)))
	}
	if fallback != nil {
		opts = append(opts, session.WithFallback(fallback))
	}
	sess := session.New(svc.Coordinator, device, name, opts...)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	for {
		select {
		case err := <-done:
			if err == nil {
				log.Info().Str("flare", name).Msg("flare complete")
			}
			return err
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				log.Info().Str("flare", name).Msg("backgrounded")
				sess.Deactivate()
			case syscall.SIGUSR2:
				log.Info().Str("flare", name).Msg("foregrounded")
				sess.Activate()
			default:
				log.Info().Str("flare", name).Str("signal", sig.String()).Msg("abandoning flare")
				sess.Abandon()
			}
		}
	}
}

var errNoFlareName = errors.New("flare name must not be empty")
