package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/chairwatch/internal/api"
	"github.com/ashureev/chairwatch/internal/catalog"
	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/config"
	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/middleware"
	"github.com/ashureev/chairwatch/internal/monitor"
	"github.com/ashureev/chairwatch/internal/predictor"
	"github.com/ashureev/chairwatch/internal/probe"
	"github.com/ashureev/chairwatch/internal/store"
	"github.com/ashureev/chairwatch/internal/stream"
	"github.com/ashureev/chairwatch/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port, dbPath, driver string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and gRPC health servers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(port, dbPath, driver)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP listen port (overrides PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	cmd.Flags().StringVar(&driver, "store", "", "store driver: sqlite|memory (overrides STORE_DRIVER)")
	return cmd
}

func monitorSettings(cfg *config.Config) monitor.Settings {
	s := monitor.DefaultSettings()
	s.HydrationDelay = cfg.Monitor.HydrationDelay
	s.TaskCooldown = cfg.Monitor.TaskCooldown
	s.DwellThreshold = cfg.Monitor.TaskDwellThreshold
	s.CooldownDebounce = cfg.Monitor.CooldownDebounce
	s.SessionTick = cfg.Monitor.SessionTick
	s.SessionPersistEvery = cfg.Monitor.SessionPersistEvery
	s.SampleInterval = cfg.Monitor.BehaviorSampleInterval
	s.BufferSize = cfg.Monitor.BehaviorBufferSize
	s.RecommendationsEnabled = cfg.Monitor.RecommendationsEnabled
	s.Adaptive = cfg.Monitor.AdaptiveTasks
	s.RetrainInterval = cfg.Model.RetrainInterval
	s.MinRetrainSamples = cfg.Model.MinRetrainSamples
	s.WriteTimeout = cfg.StoreWriteTimeout
	return s
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.Open(cfg.StoreDriver, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected")

	events := eventlog.NewWriter(repo, cfg.Location, cfg.StoreWriteTimeout, logger)

	tasks, err := catalog.NewSource(cfg.TaskCatalogPath, logger)
	if err != nil {
		return err
	}

	trainer := predictor.NewTrainer(
		predictor.NewSoftmax(predictor.SoftmaxOptions{}),
		cfg.Model.MinRetrainSamples, cfg.Model.Seed, logger,
	)
	defer func() {
		if closeErr := trainer.Close(); closeErr != nil {
			slog.Warn("Failed to close predictor", "error", closeErr)
		}
	}()

	monitors := monitor.NewManager(monitor.Config{
		Repo:     repo,
		Events:   events,
		Clock:    clock.System{},
		Catalog:  tasks,
		Model:    trainer,
		Settings: monitorSettings(cfg),
		Logger:   logger,
	})
	defer monitors.Close()
	hub := stream.NewHub()

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	api.NewHealthHandler(repo, monitors).RegisterHealth(r)
	api.NewChairHandler(api.NewHandler(repo, monitors, events)).RegisterRoutes(r)
	stream.NewHandler(repo, monitors, hub, cfg.AllowedOrigins(), cfg.IsDevelopment()).RegisterRoutes(r)

	// Serve embedded dashboard (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WriteTimeout stays 0 for the WebSocket stream.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := trainer.Bootstrap(gctx, cfg.Model.BootstrapSamples); err != nil && gctx.Err() == nil {
			slog.Warn("Predictor bootstrap failed, adaptive tasks fall back to rules", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return tasks.Watch(gctx)
	})
	g.Go(func() error {
		if err := monitors.OpenKnown(gctx); err != nil {
			slog.Warn("Some chair monitors failed to start", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return monitors.RunSweeper(gctx, monitor.SweepOptions{
			Interval:      cfg.SweepInterval,
			IdleTTL:       cfg.ChairIdleTTL,
			RetentionDays: cfg.ReportRetentionDays,
		})
	})
	g.Go(func() error {
		return probe.New(repo, 0, logger).ListenAndServe(gctx, ":"+cfg.GRPCHealthPort)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		hub.Close()
		monitors.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
