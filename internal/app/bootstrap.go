package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/event"
	"trade_sim/internal/feed"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/bus"
	"trade_sim/internal/infra/storage"
	"trade_sim/internal/models"
	"trade_sim/internal/service"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Logger    *slog.Logger
	Metrics   *infra.Metrics
	Storage   *storage.Storage
	Publisher *bus.Publisher
	Manager   *service.Manager

	configPath string
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = infra.DefaultConfigPath
	}
	return &Bootstrap{
		configPath: configPath,
		Metrics:    infra.GlobalMetrics,
		Manager:    service.NewManager(),
	}
}

// Initialize loads config, sets up logging and opens the optional result stores.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	slog.Info("🚀 Bootstrapping Trade Simulator...", slog.String("version", cfg.App.Version))

	// 3. Pre-allocate snapshot records
	event.Warmup()

	// 4. Initialize Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		b.Manager.SetHistory(store)
		slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 5. Result bus. Redis is optional; an unreachable server only disables it.
	if cfg.Redis.Enabled {
		rdb, err := bus.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("Redis unavailable, result bus disabled", slog.Any("error", err))
		} else {
			b.Publisher = bus.NewPublisher(rdb, cfg.Redis.Prefix, cfg.LatestTTL())
			b.Manager.SetLatestStore(b.Publisher)
			slog.Info("✅ Redis result bus ready", slog.String("addr", cfg.Redis.Addr))
		}
	}
	return nil
}

// BuildSimulations creates one feed+pipeline per configured simulation.
// extra sinks (for example a stdout printer) receive every result too.
func (b *Bootstrap) BuildSimulations(extra ...domain.ResultSink) error {
	cfg := b.Config
	suite, err := models.NewSuite(cfg.Models, b.Logger)
	if err != nil {
		return fmt.Errorf("build models: %w", err)
	}

	sinks := make([]domain.ResultSink, 0, 2+len(extra))
	if b.Storage != nil {
		sinks = append(sinks, b.Storage)
	}
	if b.Publisher != nil {
		sinks = append(sinks, b.Publisher)
	}
	sinks = append(sinks, extra...)

	engineCfg := engine.Config{
		MaxDepth:       cfg.Engine.MaxDepth,
		LatencyWindow:  cfg.Engine.LatencyWindow,
		HorizonSeconds: cfg.Engine.HorizonSeconds,
		DumpDir:        cfg.Engine.DumpDir,
	}

	for i, sc := range cfg.Simulations {
		params, err := sc.Parameters()
		if err != nil {
			return &domain.ConfigError{Field: fmt.Sprintf("simulations[%d]", i), Err: err}
		}
		id := sc.ID
		if id == "" {
			id = uuid.NewString()
		}
		pipeline, err := engine.NewPipeline(id, params, suite, engineCfg, b.Metrics, b.Logger)
		if err != nil {
			return err
		}
		sim := service.NewSimulation(b.newSource(params), pipeline, sinks, b.Metrics, b.Logger)
		if err := b.Manager.Add(sim); err != nil {
			return &domain.ConfigError{Field: fmt.Sprintf("simulations[%d].id", i), Err: err}
		}
		slog.Info("✅ Simulation ready",
			slog.String("id", id),
			slog.String("symbol", params.Symbol),
			slog.Bool("mock_feed", cfg.Feed.Mock))
	}
	return nil
}

func (b *Bootstrap) newSource(params domain.SimulationParameters) domain.FeedSource {
	cfg := b.Config
	if cfg.Feed.Mock {
		return feed.NewMockSource(params.Symbol, params.Exchange, cfg.MockInterval(), uint64(time.Now().UnixNano()), b.Logger)
	}
	return feed.NewSource(
		feed.OptionsFromConfig(cfg),
		feed.NewWebsocketDialer(cfg.HandshakeTimeout()),
		cfg.Feed.Channel,
		params.Symbol,
		cfg.Feed.QueueSize,
		b.Metrics,
		b.Logger,
	)
}

// Run streams every simulation and serves /metrics, /simulations and pprof
// until ctx ends.
func (b *Bootstrap) Run(ctx context.Context) error {
	sims := b.Manager.List()
	if len(sims) == 0 {
		return errors.New("no simulations configured")
	}
	if b.Storage != nil {
		for _, sim := range sims {
			if err := b.Storage.StartRun(sim.ID(), sim.Parameters()); err != nil {
				slog.Warn("Failed to record run start", slog.String("id", sim.ID()), slog.Any("error", err))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Manager.Run(gctx)
	})
	if b.Config.Metrics.Enabled {
		b.serveHTTP(gctx, g)
	}
	err := g.Wait()

	if b.Storage != nil {
		for _, sim := range sims {
			if ferr := b.Storage.FinishRun(sim.ID(), sim.Emitted()); ferr != nil {
				slog.Warn("Failed to record run end", slog.String("id", sim.ID()), slog.Any("error", ferr))
			}
		}
	}
	return err
}

func (b *Bootstrap) serveHTTP(ctx context.Context, g *errgroup.Group) {
	addr := b.Config.Metrics.Addr
	api := b.Manager.Handler()
	root := http.NewServeMux()
	root.Handle("/metrics", infra.MetricsHandler(infra.NewRegistry(b.Metrics)))
	root.Handle("/simulations", api)
	root.Handle("/simulations/", api)
	root.Handle("/debug/pprof/", http.DefaultServeMux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		// Localhost only for security
		slog.Info("🕵️ Metrics and pprof server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// Close releases the stores opened by Initialize.
func (b *Bootstrap) Close() {
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			slog.Warn("Failed to close redis client", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}
