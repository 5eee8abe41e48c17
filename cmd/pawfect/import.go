package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/importer"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/sources"
)

func newImportCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import catalog records",
	}
	cmd.AddCommand(
		newFeedImportCmd(cfg, "products", models.EntityProduct, "Import a CJ Affiliate product feed (CSV or XLSX)"),
		newFeedImportCmd(cfg, "breeds", models.EntityBreed, "Import a breed sheet (CSV or XLSX)"),
		newFeedImportCmd(cfg, "articles", models.EntityArticle, "Import an article sheet (CSV or XLSX)"),
		newAmazonImportCmd(cfg),
		newVideoImportCmd(cfg),
	)
	return cmd
}

func newFeedImportCmd(cfg *config.Config, use string, entity models.Entity, short string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cfg, entity, func(ctx context.Context, svc *importer.Service) (*models.RunReport, error) {
				return svc.ImportFile(ctx, entity, file)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Feed file path (required)")
	cmd.Flags().StringVar(&cfg.FeedSheet, "sheet", cfg.FeedSheet, "XLSX sheet name (default first sheet)")
	mustMarkRequired(cmd, "file")
	return cmd
}

func newAmazonImportCmd(cfg *config.Config) *cobra.Command {
	var query string
	var pages int
	cmd := &cobra.Command{
		Use:   "amazon",
		Short: "Import marketplace search results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cfg, models.EntityProduct, func(ctx context.Context, svc *importer.Service) (*models.RunReport, error) {
				return svc.ImportAmazon(ctx, query, pages)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search keywords (required)")
	cmd.Flags().IntVar(&pages, "pages", 1, "Result pages to import")
	mustMarkRequired(cmd, "query")
	return cmd
}

func newVideoImportCmd(cfg *config.Config) *cobra.Command {
	var query string
	var maxResults int
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Import YouTube search results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cfg, models.EntityVideo, func(ctx context.Context, svc *importer.Service) (*models.RunReport, error) {
				return svc.ImportVideos(ctx, query, maxResults)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search keywords (required)")
	cmd.Flags().IntVar(&maxResults, "max", 10, "Maximum videos to import")
	mustMarkRequired(cmd, "query")
	return cmd
}

// mustMarkRequired panics when a flag name is misspelled; it only fails for
// flags that were never defined.
func mustMarkRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("mark %s --%s required: %v", cmd.Name(), name, err))
		}
	}
}

func runImport(ctx context.Context, cfg *config.Config, entity models.Entity, fn func(context.Context, *importer.Service) (*models.RunReport, error)) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.startMetricsServer()

	decider, err := pipeline.WithErrorPolicy(pipeline.NewPromptDecider(os.Stdin, os.Stderr), cfg.OnError)
	if err != nil {
		return err
	}

	opts := []importer.Option{
		importer.WithLogger(a.logger),
		importer.WithRunnerOptions(
			pipeline.WithSinks(a.sinks()...),
			pipeline.WithMetrics(a.metrics),
		),
	}
	if entity == models.EntityProduct && cfg.RapidAPIKey != "" {
		client, err := sources.NewAmazonClient(cfg, a.sourceOptions()...)
		if err != nil {
			return err
		}
		opts = append(opts, importer.WithAmazon(client))
	}
	if entity == models.EntityVideo {
		client, err := sources.NewYouTubeClient(cfg, a.sourceOptions()...)
		if err != nil {
			return err
		}
		opts = append(opts, importer.WithYouTube(client))
	}

	svc := importer.NewService(cfg, a.store, decider, opts...)
	start := time.Now()
	report, err := fn(ctx, svc)
	if report != nil {
		printSummary(report, time.Since(start), cfg.ReportFile)
	}
	if err != nil && !errors.Is(err, pipeline.ErrAborted) {
		a.logger.Error("import failed", slog.Any("error", err))
		return err
	}
	return err
}

func printSummary(report *models.RunReport, duration time.Duration, reportFile string) {
	separator := "--------------------------------------------------"
	s := report.Summary
	fmt.Println("\n" + separator)
	fmt.Printf("Import %s (%s)\n", report.State, report.Entity)
	fmt.Printf("  Run:           %s\n", report.RunID)
	fmt.Printf("  Processed:     %d / %d\n", s.Processed, s.Total)
	fmt.Printf("  Created:       %d\n", s.Created)
	fmt.Printf("  Updated:       %d\n", s.Updated)
	fmt.Printf("  Skipped:       %d\n", s.Skipped)
	fmt.Printf("  Failed:        %d\n", s.Failed)
	if report.AbortReason != "" {
		fmt.Printf("  Aborted:       %s\n", report.AbortReason)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	if reportFile != "" {
		fmt.Printf("  Report file:   %s\n", reportFile)
	}
	fmt.Println(separator)
}
