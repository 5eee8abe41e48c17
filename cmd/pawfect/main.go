package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/sources"
	"github.com/pawfectfind/pawfect-importer/store"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(cfg)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "pawfect",
		Short:         "Bulk import and verification for the PawfectFind catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())

			cfg.ReportFormat = strings.ToLower(cfg.ReportFormat)
			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", slog.Any("error", err))
				return err
			}
			return nil
		},
	}

	f := root.PersistentFlags()
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "Backend adapter: sql or rest")
	f.StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "SQL driver: postgres or sqlite3")
	f.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "SQL DSN for reads")
	f.StringVar(&cfg.DatabaseAdminURL, "database-admin-url", cfg.DatabaseAdminURL, "SQL DSN for writes (defaults to --database-url)")
	f.StringVar(&cfg.SupabaseURL, "supabase-url", cfg.SupabaseURL, "Supabase project URL for the rest backend")
	f.StringVar(&cfg.PriceSource, "price-source", cfg.PriceSource, "Verification price source: api or page")
	f.StringVar(&cfg.ReportFile, "report", cfg.ReportFile, "Write per-record results to this file")
	f.StringVar(&cfg.ReportFormat, "format", cfg.ReportFormat, "Report format: csv, json, or dual")
	f.StringVar(&cfg.OnError, "on-error", cfg.OnError, "After a failed record: prompt, continue, or abort")
	f.StringVar(&cfg.FeedCharset, "charset", cfg.FeedCharset, "Feed character set, e.g. windows-1252")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Publish run status to this Redis server")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum retry attempts per vendor request")
	f.Float64Var(&cfg.RequestsPerSec, "rps", cfg.RequestsPerSec, "Vendor requests per second")

	root.AddCommand(
		newImportCmd(cfg),
		newVerifyCmd(cfg),
		newServeCmd(cfg),
		newMigrateCmd(cfg),
	)
	return root
}

// app holds the wired components shared by the commands.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	registry      *prometheus.Registry
	metrics       *pipeline.Metrics
	sourceMetrics *sources.Metrics
	store         *store.Handle
	status        *pipeline.RedisStatusSink
	metricsServer *http.Server
	closers       []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	a := &app{
		cfg:           cfg,
		logger:        slog.Default(),
		registry:      registry,
		metrics:       pipeline.NewMetrics(registry),
		sourceMetrics: sources.NewMetrics(registry),
	}

	switch cfg.Backend {
	case "rest":
		a.store = store.NewRESTHandle(cfg, nil)
	default:
		h, closer, err := store.OpenSQLHandle(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.store = h
		a.closers = append(a.closers, closer)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.status = pipeline.NewRedisStatusSink(client, cfg.RedisStatusTTL)
		a.closers = append(a.closers, client.Close)
	}
	return a, nil
}

// sinks returns the progress sinks every run reports to.
func (a *app) sinks() []pipeline.ProgressSink {
	sinks := []pipeline.ProgressSink{pipeline.LogSink{Logger: a.logger}}
	if a.status != nil {
		sinks = append(sinks, a.status)
	}
	return sinks
}

func (a *app) sourceOptions() []sources.Option {
	return []sources.Option{sources.WithMetrics(a.sourceMetrics), sources.WithLogger(a.logger)}
}

func (a *app) priceSource() (sources.PriceSource, error) {
	if a.cfg.PriceSource == "page" {
		return sources.NewPageScraper(a.cfg, a.sourceOptions()...)
	}
	return sources.NewAmazonClient(a.cfg, a.sourceOptions()...)
}

func (a *app) startMetricsServer() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	a.metricsServer = &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", a.cfg.MetricsAddr))
}

// Close stops the metrics server and releases backend connections.
func (a *app) Close() {
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("close", slog.Any("error", err))
		}
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
