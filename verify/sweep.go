// Package verify re-checks imported marketplace products against the live
// listing and keeps the results that need an operator decision.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/parser"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/sources"
	"github.com/pawfectfind/pawfect-importer/store"
)

const msgNoASIN = "Could not find an item id in the affiliate link"

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithMetrics counts sweep outcomes on m.
func WithMetrics(m *pipeline.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithLogger sets the sweep logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProgress is called after every chunk.
func WithProgress(fn func(done, total int)) Option {
	return func(s *Sweeper) {
		s.onProgress = fn
	}
}

// Sweeper runs the verification sweep.
type Sweeper struct {
	store      *store.Handle
	prices     sources.PriceSource
	links      parser.LinkBuilder
	chunkSize  int
	pause      time.Duration
	tolerance  int64 // cents
	metrics    *pipeline.Metrics
	logger     *slog.Logger
	onProgress func(done, total int)
	now        func() time.Time
}

// NewSweeper builds a sweeper that reads offers from prices and corrects
// links through h.
func NewSweeper(cfg *config.Config, h *store.Handle, prices sources.PriceSource, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     h,
		prices:    prices,
		links:     parser.LinkBuilder{SiteURL: cfg.AmazonSiteURL, Tag: cfg.AssociateTag},
		chunkSize: cfg.VerifyChunkSize,
		pause:     cfg.VerifyPause,
		tolerance: parser.ToleranceCents(cfg.PriceTolerance),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type outcome struct {
	result      *models.VerificationResult
	linkUpdated bool
}

// VerifyAll sweeps every stored marketplace product.
func (s *Sweeper) VerifyAll(ctx context.Context) (*models.VerificationReport, error) {
	products, err := s.store.Standard().ListProducts(ctx, models.SourceAmazon)
	if err != nil {
		return nil, err
	}
	return s.Verify(ctx, products)
}

// Verify checks products of the marketplace source and returns only the
// results that differ from the stored state. A failing product never stops
// the sweep; cancellation between chunks returns the partial report with
// ctx.Err().
func (s *Sweeper) Verify(ctx context.Context, products []models.Product) (*models.VerificationReport, error) {
	report := &models.VerificationReport{
		Results:   []models.VerificationResult{},
		StartTime: s.now(),
	}

	targets := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.Source == models.SourceAmazon {
			targets = append(targets, p)
		}
	}

	s.logger.Info("verification sweep started",
		slog.Int("products", len(targets)),
		slog.Int("chunk_size", s.chunkSize),
	)

	outcomes, err := pipeline.ForEachChunk(ctx, targets, s.chunkSize, s.pause, s.check, s.onProgress)
	for _, o := range outcomes {
		if o.result != nil {
			report.Results = append(report.Results, *o.result)
		}
		if o.linkUpdated {
			report.Summary.LinkUpdates++
		}
	}
	counts := Summary(report.Results)
	counts.Checked = len(outcomes)
	counts.LinkUpdates = report.Summary.LinkUpdates
	report.Summary = counts
	report.EndTime = s.now()

	attrs := []any{
		slog.Int("checked", counts.Checked),
		slog.Int("errors", counts.Errors),
		slog.Int("unavailable", counts.Unavailable),
		slog.Int("price_updates", counts.PriceUpdates),
		slog.Int("link_updates", counts.LinkUpdates),
	}
	if err != nil {
		s.logger.Warn("verification sweep interrupted", append(attrs, slog.Any("error", err))...)
		return report, err
	}
	s.logger.Info("verification sweep finished", attrs...)
	return report, nil
}

func (s *Sweeper) check(ctx context.Context, p models.Product) outcome {
	result := &models.VerificationResult{
		ProductID:    p.ID,
		Name:         p.Name,
		CurrentPrice: p.Price,
		CheckedAt:    s.now(),
	}

	asin, ok := parser.ExtractASIN(p.AffiliateLink)
	if !ok && parser.IsASIN(p.ExternalID) {
		asin, ok = p.ExternalID, true
	}
	if !ok {
		result.Error = msgNoASIN
		s.metrics.IncVerification("error")
		return outcome{result: result}
	}
	result.ASIN = asin

	offer, err := s.prices.Lookup(ctx, asin)
	switch {
	case sources.IsNotFound(err):
		s.metrics.IncVerification("unavailable")
		return outcome{result: result}
	case err != nil:
		result.Error = sources.Message(err)
		s.logger.Warn("price lookup failed",
			slog.String("product_id", p.ID),
			slog.String("asin", asin),
			slog.Any("error", err),
		)
		s.metrics.IncVerification("error")
		return outcome{result: result}
	}

	out := outcome{linkUpdated: s.fixLink(ctx, p, asin)}

	if !offer.Available {
		s.metrics.IncVerification("unavailable")
		out.result = result
		return out
	}

	result.Exists = true
	if offer.Price != nil && s.priceChanged(p.Price, *offer.Price) {
		price := *offer.Price
		result.NewPrice = &price
		result.PriceChanged = true
		s.metrics.IncVerification("price_changed")
		out.result = result
		return out
	}
	s.metrics.IncVerification("unchanged")
	return out
}

// priceChanged compares in integer cents so float noise never flags a product.
func (s *Sweeper) priceChanged(stored, fetched float64) bool {
	diff := parser.PriceCents(fetched) - parser.PriceCents(stored)
	if diff < 0 {
		diff = -diff
	}
	return diff > s.tolerance
}

// fixLink rewrites a stored link that is not the canonical one.
func (s *Sweeper) fixLink(ctx context.Context, p models.Product, asin string) bool {
	canonical := s.links.Link(asin)
	if canonical == p.AffiliateLink || p.ID == "" {
		return false
	}
	w, err := s.store.Privileged()
	if err == nil {
		err = w.UpdateProductLink(ctx, p.ID, canonical)
	}
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, store.ErrNoPrivilege) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "affiliate link not corrected",
			slog.String("product_id", p.ID),
			slog.Any("error", err),
		)
		return false
	}
	s.metrics.IncVerification("link_updated")
	return true
}

// Summary counts verification results. Checked and LinkUpdates are known only
// to the sweep and stay zero.
func Summary(results []models.VerificationResult) models.VerificationSummary {
	var s models.VerificationSummary
	for _, r := range results {
		switch {
		case r.Error != "":
			s.Errors++
		case !r.Exists:
			s.Unavailable++
		case r.PriceChanged:
			s.PriceUpdates++
		}
	}
	return s
}
