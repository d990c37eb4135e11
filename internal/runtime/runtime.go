package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/eventstore"
	"github.com/murmurlabs/murmur-core/internal/gateway"
	"github.com/murmurlabs/murmur-core/internal/generator"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/transcriber"
)

// Runtime wires the gateway and both inference workers into a single
// process connected by the message bus.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	telemetryShutdown func(context.Context) error
	embedded          *natsserver.EmbeddedServer
	busClient         *bus.Client
	store             *eventstore.Store
	transcribeWorker  *transcriber.Worker
	transcribeSvc     *transcriber.Service
	generateWorker    *generator.Worker
	generateSvc       *generator.Service
	gateway           *gateway.Server
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Run starts every configured component and blocks until ctx is
// cancelled, then tears everything down in reverse order.
func (r *Runtime) Run(ctx context.Context) error {
	telemetryShutdown, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.telemetryShutdown = telemetryShutdown

	if err := r.startBus(ctx); err != nil {
		r.shutdown()
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	if err := r.startTranscriber(ctx); err != nil {
		r.shutdown()
		return err
	}
	if err := r.startGenerator(ctx); err != nil {
		r.shutdown()
		return err
	}

	gatewayErr := make(chan error, 1)
	if r.cfg.Gateway.Enabled {
		r.gateway = gateway.New(r.cfg.Gateway, r.cfg.HTTP, r.busClient, metricsHandler, r.ready, r.logger)
		go func() {
			if err := r.gateway.Start(); err != nil && err != http.ErrServerClosed {
				gatewayErr <- err
			}
		}()
	}

	r.logger.Info("runtime started",
		slog.Bool("transcriber", r.transcribeSvc != nil),
		slog.Bool("generator", r.generateSvc != nil),
		slog.Bool("gateway", r.gateway != nil))

	select {
	case <-ctx.Done():
	case err := <-gatewayErr:
		r.shutdown()
		return fmt.Errorf("gateway: %w", err)
	}

	r.shutdown()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = client
	return nil
}

func (r *Runtime) startTranscriber(ctx context.Context) error {
	if !r.cfg.Transcriber.Enabled {
		return nil
	}

	var factory transcriber.Factory
	switch r.cfg.Transcriber.Mode {
	case "mock":
		factory = transcriber.NewMockFactory()
	case "exec":
		var err error
		factory, err = transcriber.NewExecFactory(r.cfg.Transcriber)
		if err != nil {
			return fmt.Errorf("transcriber exec factory: %w", err)
		}
	default:
		return fmt.Errorf("unknown transcriber mode %q", r.cfg.Transcriber.Mode)
	}

	decoder := audio.NewDecoder(r.cfg.Decoder)
	r.transcribeWorker = transcriber.NewWorker(r.cfg.Transcriber, r.cfg.Scheduler, decoder, factory, r.logger)
	r.transcribeSvc = transcriber.NewService(ctx, r.cfg.Transcriber, r.busClient, r.transcribeWorker, r.store, r.logger)
	if err := r.transcribeSvc.Start(); err != nil {
		return fmt.Errorf("start transcriber service: %w", err)
	}
	return nil
}

func (r *Runtime) startGenerator(ctx context.Context) error {
	if !r.cfg.Generator.Enabled {
		return nil
	}

	var factory generator.Factory
	switch r.cfg.Generator.Mode {
	case "mock":
		factory = generator.NewMockFactory()
	case "exec":
		var err error
		factory, err = generator.NewExecFactory(r.cfg.Generator)
		if err != nil {
			return fmt.Errorf("generator exec factory: %w", err)
		}
	case "openai":
		factory = generator.NewOpenAIFactory(r.cfg.Generator)
	default:
		return fmt.Errorf("unknown generator mode %q", r.cfg.Generator.Mode)
	}

	r.generateWorker = generator.NewWorker(r.cfg.Generator, r.cfg.Scheduler, factory, r.logger)
	r.generateSvc = generator.NewService(ctx, r.cfg.Generator, r.busClient, r.generateWorker, r.store, r.logger)
	if err := r.generateSvc.Start(); err != nil {
		return fmt.Errorf("start generator service: %w", err)
	}
	return nil
}

func (r *Runtime) ready() bool {
	if r.busClient == nil || !r.busClient.Healthy() {
		return false
	}
	if r.transcribeSvc != nil && !r.transcribeSvc.Healthy() {
		return false
	}
	if r.generateSvc != nil && !r.generateSvc.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.gateway != nil {
		if err := r.gateway.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("gateway shutdown", slog.String("error", err.Error()))
		}
	}
	// Service Close drains the subscription, waits for in-flight
	// handlers, then closes its worker.
	if r.generateSvc != nil {
		r.generateSvc.Close()
	}
	if r.transcribeSvc != nil {
		r.transcribeSvc.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.telemetryShutdown != nil {
		if err := r.telemetryShutdown(shutdownCtx); err != nil {
			r.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("runtime stopped")
}
