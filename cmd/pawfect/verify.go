package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/verify"
)

func newVerifyCmd(cfg *config.Config) *cobra.Command {
	var apply, removeUnavailable bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check imported marketplace products for price and availability changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			a.startMetricsServer()

			prices, err := a.priceSource()
			if err != nil {
				return err
			}
			sweeper := verify.NewSweeper(cfg, a.store, prices,
				verify.WithMetrics(a.metrics),
				verify.WithLogger(a.logger),
				verify.WithProgress(func(done, total int) {
					a.logger.Info("verification progress",
						slog.Int("done", done),
						slog.Int("total", total),
						slog.String("percent", fmt.Sprintf("%.1f", models.Percent(done, total))),
					)
				}),
			)

			start := time.Now()
			report, sweepErr := sweeper.VerifyAll(ctx)
			if report == nil {
				return sweepErr
			}

			if cfg.ReportFile != "" {
				if err := pipeline.WriteReport(cfg.ReportFile, cfg.ReportFormat, report.Results); err != nil {
					a.logger.Error("write verification report", slog.Any("error", err))
				}
			}

			queue := verify.NewQueue(a.store)
			queue.Add(report.Results...)
			applied, removed := 0, 0
			for _, r := range queue.Pending() {
				switch {
				case apply && r.PriceChanged:
					if err := queue.ApplyPrice(ctx, r.ProductID); err != nil {
						a.logger.Error("apply price", slog.String("product_id", r.ProductID), slog.Any("error", err))
						continue
					}
					applied++
				case removeUnavailable && !r.Exists && r.Error == "":
					if err := queue.Remove(ctx, r.ProductID); err != nil {
						a.logger.Error("remove product", slog.String("product_id", r.ProductID), slog.Any("error", err))
						continue
					}
					removed++
				}
			}

			printVerification(report, queue.Pending(), applied, removed, time.Since(start))
			return sweepErr
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Store the fetched price of every changed product")
	cmd.Flags().BoolVar(&removeUnavailable, "remove-unavailable", false, "Delete products that no longer exist on the marketplace")
	cmd.Flags().IntVar(&cfg.VerifyChunkSize, "chunk", cfg.VerifyChunkSize, "Concurrent lookups per chunk")
	cmd.Flags().DurationVar(&cfg.VerifyPause, "pause", cfg.VerifyPause, "Pause between chunks")
	return cmd
}

func printVerification(report *models.VerificationReport, pending []models.VerificationResult, applied, removed int, duration time.Duration) {
	separator := "--------------------------------------------------"
	s := report.Summary
	fmt.Println("\n" + separator)
	fmt.Println("Verification complete")
	fmt.Printf("  Checked:       %d\n", s.Checked)
	fmt.Printf("  Unavailable:   %d\n", s.Unavailable)
	fmt.Printf("  Price changes: %d\n", s.PriceUpdates)
	fmt.Printf("  Links fixed:   %d\n", s.LinkUpdates)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	if applied > 0 || removed > 0 {
		fmt.Printf("  Applied:       %d prices, %d removals\n", applied, removed)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	for _, r := range pending {
		switch {
		case r.Error != "":
			fmt.Printf("  ! %s (%s): %s\n", r.Name, r.ProductID, r.Error)
		case !r.Exists:
			fmt.Printf("  - %s (%s): no longer available\n", r.Name, r.ProductID)
		case r.PriceChanged:
			fmt.Printf("  $ %s (%s): %.2f -> %.2f\n", r.Name, r.ProductID, r.CurrentPrice, *r.NewPrice)
		}
	}
	fmt.Println(separator)
}
