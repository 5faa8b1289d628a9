// Command trader runs scripted strategies against live market data, trading
// on paper venues and journaling order events to PostgreSQL when enabled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	dbmigrations "github.com/coachpo/quanta/db/migrations"
	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/app/runner"
	"github.com/coachpo/quanta/internal/app/scripting"
	"github.com/coachpo/quanta/internal/backtest"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/adapters/stream"
	"github.com/coachpo/quanta/internal/infra/config"
	"github.com/coachpo/quanta/internal/infra/persistence"
	"github.com/coachpo/quanta/internal/infra/persistence/migrations"
	"github.com/coachpo/quanta/internal/infra/persistence/postgres"
	httpserver "github.com/coachpo/quanta/internal/infra/server/http"
	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	streamClientID           = "STREAM"
	databaseConnectTimeout   = 15 * time.Second
	shutdownTimeout          = 30 * time.Second
	sinkShutdownTimeout      = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	apiShutdownTimeout       = 5 * time.Second
	apiReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, resolveConfigPath(*cfgPath)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base, err := observability.NewLogger(os.Stdout, cfg.Trader.LogLevel, cfg.Trader.LogFormat)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	observability.SetLogger(base)
	logger := base.With(observability.F("component", "trader"))
	logger.Info("configuration initialised",
		observability.F("path", configPath),
		observability.F("env", string(cfg.Environment)),
		observability.F("venues", len(cfg.Venues)),
		observability.F("instruments", len(cfg.Instruments)))

	tel, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		return err
	}

	rt, err := runner.NewLiveRuntime(model.TraderID(cfg.Trader.ID), cfg.Runner.QueueCapacity, base)
	if err != nil {
		return err
	}
	live := runner.NewLiveRunner(runner.Config{
		Exec: execution.Config{
			SubmitRate:  cfg.Risk.SubmitRate,
			SubmitBurst: cfg.Risk.SubmitBurst,
			LogEvents:   cfg.Environment == config.EnvDev,
		},
	}, rt, base)

	if err := addInstruments(rt, cfg); err != nil {
		return err
	}
	if err := addPaperVenues(live, cfg, logger); err != nil {
		return err
	}
	if err := addStream(live, rt, cfg, base); err != nil {
		return err
	}
	actors, err := addScripts(ctx, live, rt, cfg, base)
	if err != nil {
		return err
	}
	logger.Info("strategy instances registered", observability.F("count", len(actors)))

	store, sink, err := openJournal(ctx, cfg, base)
	if err != nil {
		return err
	}
	journal := persistence.NewMemoryLog()
	if sink != nil {
		live.ExecEngine().SetEventWriter(execution.Tee(journal, sink))
	} else {
		live.ExecEngine().SetEventWriter(journal)
	}

	var lifecycle conc.WaitGroup
	server := buildAPIServer(cfg, journal, base)
	if server != nil {
		startAPIServer(&lifecycle, logger, server)
	}

	runErr := live.Run(ctx)
	stats := live.Stats()
	logger.Info("runner finished",
		observability.F("data", stats.Data),
		observability.F("timers", stats.Timers),
		observability.F("reason", stats.Reason))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:    server,
		lifecycle: &lifecycle,
		sink:      sink,
		store:     store,
		telemetry: tel,
	})
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(shutdownStart).String()))

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func initTelemetry(ctx context.Context, logger observability.Logger, cfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(cfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.Telemetry.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Info("telemetry initialized",
			observability.F("endpoint", telemetryCfg.OTLPEndpoint),
			observability.F("service", telemetryCfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

func addInstruments(rt *runner.Runtime, cfg config.AppConfig) error {
	for _, ic := range cfg.Instruments {
		inst, err := ic.Instrument()
		if err != nil {
			return err
		}
		if err := rt.Cache.AddInstrument(inst); err != nil {
			return err
		}
	}
	return nil
}

func addPaperVenues(live *runner.LiveRunner, cfg config.AppConfig, logger observability.Logger) error {
	for _, vc := range cfg.Venues {
		ec, cc, err := backtest.VenueFromConfig(vc)
		if err != nil {
			return err
		}
		if _, err := live.AddPaperVenue(ec, cc); err != nil {
			return fmt.Errorf("paper venue %s: %w", vc.Name, err)
		}
		logger.Info("paper venue added",
			observability.F("venue", vc.Name),
			observability.F("oms_type", vc.OmsType),
			observability.F("routing", vc.Routing))
	}
	return nil
}

func addStream(live *runner.LiveRunner, rt *runner.Runtime, cfg config.AppConfig, logger observability.Logger) error {
	if cfg.Stream.URL == "" {
		logger.Warn("no stream url configured; strategies will only see timers")
		return nil
	}
	client, err := stream.NewClient(stream.Config{
		ClientID:    streamClientID,
		Venue:       model.Venue(cfg.Stream.Venue),
		URL:         cfg.Stream.URL,
		DialTimeout: cfg.Stream.DialTimeout,
		MaxBackoff:  cfg.Stream.MaxBackoff,
	}, live.Sink(), rt.Clock, logger)
	if err != nil {
		return err
	}
	return live.AddDataClient(client, true)
}

func addScripts(ctx context.Context, live *runner.LiveRunner, rt *runner.Runtime, cfg config.AppConfig, logger observability.Logger) ([]*scripting.ScriptActor, error) {
	if cfg.Scripts.Directory == "" {
		return nil, nil
	}
	loader, err := scripting.NewLoader(cfg.Scripts.Directory)
	if err != nil {
		return nil, err
	}
	if err := loader.Refresh(ctx); err != nil {
		return nil, err
	}
	var actors []*scripting.ScriptActor
	for _, name := range loader.Names() {
		module, err := loader.Get(name)
		if err != nil {
			return nil, err
		}
		a, err := scripting.New(module, scripting.Config{}, rt.Bus, logger)
		if err != nil {
			return nil, err
		}
		if err := live.AddStrategy(a.Strategy); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, nil
}

func openJournal(ctx context.Context, cfg config.AppConfig, logger observability.Logger) (*postgres.Store, *execution.AsyncSink, error) {
	if !cfg.Database.Enabled {
		return nil, nil, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, databaseConnectTimeout)
	defer cancel()
	if cfg.Database.RunMigrations {
		if err := migrations.ApplyFS(connectCtx, cfg.Database.DSN, dbmigrations.Files, logger); err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	store, err := postgres.Open(connectCtx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	sink, err := execution.NewSink(store.Events(), cfg.Database.SinkWorkers, cfg.Database.SinkQueue, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, sink, nil
}

func buildAPIServer(cfg config.AppConfig, journal *persistence.MemoryLog, logger observability.Logger) *http.Server {
	if cfg.API.Addr == "" {
		return nil
	}
	handler := httpserver.NewHandler(httpserver.Info{
		TraderID:    model.TraderID(cfg.Trader.ID),
		Environment: string(cfg.Environment),
		StartedAt:   time.Now(),
	}, journal, logger)
	return &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           handler,
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger observability.Logger, server *http.Server) {
	logger.Info("status server listening", observability.F("addr", server.Addr))
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", observability.F("error", err.Error()))
		}
	})
}

type gracefulShutdownConfig struct {
	server    *http.Server
	lifecycle *conc.WaitGroup
	sink      *execution.AsyncSink
	store     *postgres.Store
	telemetry *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown: " + name)
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown step failed", observability.F("step", name), observability.F("error", err.Error()))
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping status server", apiShutdownTimeout, cfg.server.Shutdown)
	}
	if cfg.lifecycle != nil {
		cfg.lifecycle.Wait()
	}
	if cfg.sink != nil {
		shutdownStep("draining order event sink", sinkShutdownTimeout, cfg.sink.Close)
	}
	if cfg.store != nil {
		shutdownStep("closing database pool", sinkShutdownTimeout, func(context.Context) error {
			cfg.store.Close()
			return nil
		})
	}
	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
}
