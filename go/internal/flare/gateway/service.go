package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mobflare/mobflare/go/internal/flare/events"
	"github.com/mobflare/mobflare/go/internal/flare/telemetry"
)

type Config struct {
	Addr             string
	ConnectionConfig ConnectionConfig
}

func DefaultConfig() Config {
	return Config{
		Addr:             "127.0.0.1:8787",
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// Service wires the connection manager, the state store and the HTTP routes.
type Service struct {
	config            Config
	connectionManager *ConnectionManager
	store             *StateStore
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	metrics           *telemetry.Metrics
}

func NewService(config Config, metrics *telemetry.Metrics) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, metrics)
	store := NewStateStore()
	return &Service{
		config:            config,
		connectionManager: cm,
		store:             store,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(store),
		metrics:           metrics,
	}
}

// Publish records the event and pushes it to the flare's viewers.
func (s *Service) Publish(event events.Event) {
	if err := s.store.ProcessEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("gateway ignored event")
		return
	}
	s.connectionManager.BroadcastToFlare(event.FlareName, &event)
}

func (s *Service) State(flareName string) (FlareState, bool) {
	return s.store.Get(flareName)
}

// Handler returns the full route set behind CORS, speaking HTTP/1.1 and h2c.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	s.wsHandler.RegisterRoutes(mux)
	mux.Handle("/api/state", s.metrics.WrapHandler("/api/state", http.HandlerFunc(s.stateHandler.HandleGetFlareState)))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// Run serves until ctx is done, then shuts the server down.
func (s *Service) Run(ctx context.Context) error {
	go s.connectionManager.Start(ctx)

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.config.Addr).Msg("status gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("status gateway stopped")
	return nil
}
