package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/importer"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/server"
	"github.com/pawfectfind/pawfect-importer/store"
	"github.com/pawfectfind/pawfect-importer/verify"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			decider := pipeline.NewQueueDecider(func(d pipeline.Decision) {
				a.logger.Info("decision pending",
					slog.String("decision_id", d.ID),
					slog.String("run_id", d.RunID),
					slog.String("kind", string(d.Kind)),
					slog.String("key", d.Key),
				)
			})
			tracker := pipeline.NewTracker()
			sinks := append(a.sinks(), tracker)
			svc := importer.NewService(cfg, a.store, decider,
				importer.WithLogger(a.logger),
				importer.WithRunnerOptions(
					pipeline.WithSinks(sinks...),
					pipeline.WithMetrics(a.metrics),
				),
			)

			deps := server.Deps{
				Importer: svc,
				Decider:  decider,
				Tracker:  tracker,
				Status:   a.status,
				Queue:    verify.NewQueue(a.store),
				Gatherer: a.registry,
				Origins:  cfg.CORSOrigins,
				Logger:   a.logger,
			}
			if prices, err := a.priceSource(); err != nil {
				a.logger.Warn("verification disabled", slog.Any("error", err))
			} else {
				deps.Sweeper = verify.NewSweeper(cfg, a.store, prices,
					verify.WithMetrics(a.metrics),
					verify.WithLogger(a.logger),
				)
			}

			return server.New(deps).ListenAndServe(ctx, cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Admin API listen address")
	cmd.Flags().StringSliceVar(&cfg.CORSOrigins, "cors-origin", cfg.CORSOrigins, "Allowed CORS origins")
	return cmd
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Backend != "sql" {
				return fmt.Errorf("migrate needs the sql backend, got %q", cfg.Backend)
			}
			s, err := store.OpenSQL(cmd.Context(), cfg.DatabaseDriver, cfg.PrivilegedDatabaseURL())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Migrate(cmd.Context()); err != nil {
				slog.Error("migration failed", slog.Any("error", err))
				return err
			}
			slog.Info("schema up to date", slog.String("driver", cfg.DatabaseDriver))
			return nil
		},
	}
}
