package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"northpole/internal/config"
	"northpole/internal/email"
	"northpole/internal/handler"
	"northpole/internal/llm"
	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/notify"
	"northpole/internal/repository"
	"northpole/internal/service"
	"northpole/internal/tasks"
)

// app holds the fully wired components shared by all subcommands.
type app struct {
	cfg       *config.Settings
	log       *logger.Logger
	repo      *repository.SQLiteRepository
	collector *metrics.Collector
	jobs      *service.JobService
	worker    *service.WorkerService
	scheduler *service.SchedulerService
	api       *handler.Handler
}

func buildApp() (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	collector := metrics.NewCollector()
	jobs := service.NewJobService(repo, collector, log, cfg.JobMaxAttempts)

	deps := &tasks.Deps{
		Entities:           repo,
		Enqueuer:           jobs,
		Mail:               email.NewMailTransport(&cfg.Mail, log),
		LLM:                llm.NewOpenAIClient(&cfg.OpenAI, log),
		Notifier:           notify.NewNotifier(repo, log),
		Metrics:            collector,
		Limiter:            tasks.NewRateLimiter(5, time.Hour),
		Log:                log,
		SafetyCheckEnabled: cfg.OpenAI.SafetyCheckEnabled,
	}

	return &app{
		cfg:       cfg,
		log:       log,
		repo:      repo,
		collector: collector,
		jobs:      jobs,
		worker: service.NewWorkerService(repo, tasks.DefaultRegistry(), deps,
			collector, log, cfg.PollInterval, cfg.LeaseDuration),
		scheduler: service.NewSchedulerService(repo, jobs, log, cfg.FetchInterval),
		api:       handler.New(jobs, repo, collector, log),
	}, nil
}

func (a *app) close() {
	if err := a.repo.Close(); err != nil {
		a.log.Error("failed to close database", "error", err)
	}
	a.log.Sync()
}

func (a *app) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("http server listening", "addr", a.cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func run(fn func(*app, context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fn(a, ctx)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "northpole",
		Short:         "Santa's letter-processing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Run the job queue worker",
		RunE: run(func(a *app, ctx context.Context) error {
			return a.worker.Run(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "scheduler",
		Short: "Run the periodic inbox fetch scheduler",
		RunE: run(func(a *app, ctx context.Context) error {
			return a.scheduler.Run(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the read-only ops API",
		RunE: run(func(a *app, ctx context.Context) error {
			return a.serveHTTP(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run worker, scheduler and ops API in one process",
		RunE: run(func(a *app, ctx context.Context) error {
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.worker.Run(ctx) })
			g.Go(func() error { return a.scheduler.Run(ctx) })
			g.Go(func() error { return a.serveHTTP(ctx) })
			return g.Wait()
		}),
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
