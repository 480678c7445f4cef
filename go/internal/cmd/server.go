package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare/gateway"
)

// startGateway serves the status gateway in the background. The returned
// func stops it and waits for the shutdown.
func startGateway(ctx context.Context, svc *gateway.Service) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil {
			log.Error().Err(err).Msg("status gateway failed")
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
