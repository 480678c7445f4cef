package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/clients/coordinator_client"
	"github.com/mobflare/mobflare/go/internal/config"
	"github.com/mobflare/mobflare/go/internal/flare/eventbus"
	"github.com/mobflare/mobflare/go/internal/flare/gateway"
	"github.com/mobflare/mobflare/go/internal/flare/location"
	"github.com/mobflare/mobflare/go/internal/flare/output"
	"github.com/mobflare/mobflare/go/internal/flare/quorum"
	"github.com/mobflare/mobflare/go/internal/flare/telemetry"
	"github.com/mobflare/mobflare/go/internal/models"
)

var _ quorum.Client = (*coordinator_client.CoordinatorClient)(nil)

type Services struct {
	Config      *config.Config
	Clock       clockwork.Clock
	Metrics     *telemetry.Metrics
	Coordinator *coordinator_client.CoordinatorClient
	Events      *eventbus.Dispatcher
	Gateway     *gateway.Service

	out      io.Writer
	clientID string
	locator  *location.Locator
	closers  []func()
}

func setupServices(ctx context.Context, cfg *config.Config, out io.Writer) (*Services, error) {
	// Wire up dependency chain
	// Metrics → Coordinator client → Event bus → Gateway

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := &Services{
		Config:      cfg,
		Clock:       clockwork.NewRealClock(),
		Metrics:     telemetry.NewMetrics(registry, registry),
		Coordinator: coordinator_client.NewCoordinatorClient(cfg.Coordinator.ServerURI, cfg.Coordinator.ClientVersion),
		out:         out,
		clientID:    "mobflare-" + strconv.Itoa(os.Getpid()),
	}

	svc.Coordinator.SetTimeout(cfg.Coordinator.RequestTimeout)
	log.Debug().
		Str("server", svc.Coordinator.BaseURL()).
		Int("client_version", svc.Coordinator.ClientVersion()).
		Dur("timeout", cfg.Coordinator.RequestTimeout).
		Msg("coordinator client configured")

	publisher, err := setupPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc.Events = eventbus.NewDispatcher(eventbus.NewMetricPublisher(publisher, svc.Metrics), eventbus.DefaultConfig())
	if err := svc.Events.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	svc.closers = append(svc.closers, func() {
		if err := svc.Events.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event dispatcher")
		}
	})

	if cfg.GatewayAddr != "" {
		svc.Gateway = gateway.NewService(gateway.Config{
			Addr:             cfg.GatewayAddr,
			ConnectionConfig: gateway.DefaultConnectionConfig(),
		}, svc.Metrics)
		svc.closers = append(svc.closers, startGateway(ctx, svc.Gateway))
	}

	return svc, nil
}

// setupPublisher picks JetStream when a NATS URL is configured and falls
// back to logging the events.
func setupPublisher(ctx context.Context, cfg *config.Config) (eventbus.Publisher, error) {
	if cfg.NATSURL == "" {
		return eventbus.NewLogPublisher(), nil
	}
	jsCfg := eventbus.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	publisher, err := eventbus.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event bus: %w", err)
	}
	return publisher, nil
}

// Locate resolves the current location, connecting the provider on first
// use.
func (s *Services) Locate(ctx context.Context) (models.Location, error) {
	if s.locator == nil {
		provider := newLocationProvider(s, ctx)
		task := location.NewTask(provider, s.Clock, s.Config.Location.Timeout)
		cache := location.NewCache(s.Clock, s.Config.Location.MaxAge)
		s.locator = location.NewLocator(provider, task, cache, s.Metrics, location.WithProgress(func() {
			fmt.Fprintf(s.out, "obtaining location (up to %s, Ctrl-C to cancel)...\n", s.Config.Location.Timeout)
		}))
		s.closers = append(s.closers, s.locator.Close)
	}
	return s.locator.Locate(ctx)
}

var newLocationProvider = (*Services).setupLocationProvider

func (s *Services) setupLocationProvider(ctx context.Context) location.Provider {
	cfg := s.Config.Location
	if cfg.Provider != config.LocationMQTT {
		return location.NewStaticProvider(s.Clock, cfg.Latitude, cfg.Longitude)
	}

	provider := location.NewMQTTProvider(s.Config.MQTTBroker, s.clientID+"-location", cfg.MQTTTopic, s.Clock)
	if err := provider.Connect(ctx); err != nil {
		// requests report unavailable until the broker comes back
		log.Warn().Err(err).Str("broker", s.Config.MQTTBroker).Msg("location broker unreachable")
	}
	s.closers = append(s.closers, provider.Close)
	return provider
}

// OutputDevice returns the configured device and, for hardware outputs, the
// notifier to fall back on.
func (s *Services) OutputDevice() (output.Device, output.Device, error) {
	device, err := output.New(output.Options{
		Kind:       output.Kind(s.Config.Output.Kind),
		LEDName:    s.Config.Output.LEDName,
		MQTTBroker: s.Config.MQTTBroker,
		MQTTTopic:  s.Config.Output.StrobeTopic,
		ClientID:   s.clientID + "-strobe",
		Writer:     s.out,
	})
	if err != nil {
		return nil, nil, err
	}
	if output.Kind(s.Config.Output.Kind) == output.KindNotify {
		return device, nil, nil
	}
	return device, output.NewNotifier(s.out), nil
}

// Close releases everything in reverse order of setup.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
