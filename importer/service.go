package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/parser"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/store"
)

// AmazonSearcher finds marketplace items for a keyword query.
type AmazonSearcher interface {
	Search(ctx context.Context, query string, page int) ([]models.AmazonItem, error)
}

// VideoSearcher finds videos for a keyword query.
type VideoSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.VideoItem, error)
}

// Option configures a Service.
type Option func(*Service)

// WithAmazon enables ImportAmazon.
func WithAmazon(s AmazonSearcher) Option {
	return func(svc *Service) {
		svc.amazon = s
	}
}

// WithYouTube enables ImportVideos.
func WithYouTube(s VideoSearcher) Option {
	return func(svc *Service) {
		svc.youtube = s
	}
}

// WithRunnerOptions applies opts to every runner the service builds.
func WithRunnerOptions(opts ...pipeline.Option) Option {
	return func(svc *Service) {
		svc.runnerOpts = append(svc.runnerOpts, opts...)
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

// Service runs import jobs end to end: read, map, run, report.
type Service struct {
	cfg        *config.Config
	store      *store.Handle
	decider    pipeline.Decider
	runnerOpts []pipeline.Option
	amazon     AmazonSearcher
	youtube    VideoSearcher
	logger     *slog.Logger
}

// NewService builds a service writing through h and asking decider about
// conflicts and failures.
func NewService(cfg *config.Config, h *store.Handle, decider pipeline.Decider, opts ...Option) *Service {
	svc := &Service{
		cfg:     cfg,
		store:   h,
		decider: decider,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ImportFile imports a CSV or XLSX feed from disk.
func (s *Service) ImportFile(ctx context.Context, entity models.Entity, path string, opts ...pipeline.Option) (*models.RunReport, error) {
	mapper, err := feedMapper(entity)
	if err != nil {
		return nil, err
	}
	rows, err := parser.ReadFeed(path, s.feedOptions())
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, entity, parser.MapRows(rows, mapper), opts...)
}

// ImportReader imports a feed read from r. name selects the format by extension.
func (s *Service) ImportReader(ctx context.Context, entity models.Entity, name string, r io.Reader, opts ...pipeline.Option) (*models.RunReport, error) {
	rows, err := s.ReadFeed(entity, name, r)
	if err != nil {
		return nil, err
	}
	return s.ImportRows(ctx, entity, rows, opts...)
}

// ImportRows maps already parsed feed rows and runs them.
func (s *Service) ImportRows(ctx context.Context, entity models.Entity, rows []parser.Row, opts ...pipeline.Option) (*models.RunReport, error) {
	mapper, err := feedMapper(entity)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, entity, parser.MapRows(rows, mapper), opts...)
}

// ReadFeed parses a feed up front so a malformed file is rejected before a run starts.
func (s *Service) ReadFeed(entity models.Entity, name string, r io.Reader) ([]parser.Row, error) {
	if _, err := feedMapper(entity); err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return parser.ReadXLSX(r, s.feedOptions())
	}
	return parser.ReadCSV(r, s.feedOptions())
}

// ImportAmazon searches the marketplace and imports the hits of the first pages.
// Items repeated across pages are imported once.
func (s *Service) ImportAmazon(ctx context.Context, query string, pages int, opts ...pipeline.Option) (*models.RunReport, error) {
	if s.amazon == nil {
		return nil, errors.New("importer: marketplace search not configured")
	}
	if pages < 1 {
		pages = 1
	}
	links := parser.LinkBuilder{SiteURL: s.cfg.AmazonSiteURL, Tag: s.cfg.AssociateTag}

	var records []models.MappedRecord
	seen := make(map[string]struct{})
	for page := 1; page <= pages; page++ {
		items, err := s.amazon.Search(ctx, query, page)
		if err != nil {
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			rec := parser.MapAmazonItem(item, links)
			if rec.Valid() {
				if _, dup := seen[rec.Key]; dup {
					continue
				}
				seen[rec.Key] = struct{}{}
			}
			rec.Line = len(records) + 1
			records = append(records, rec)
		}
	}

	s.logger.Info("marketplace search finished",
		slog.String("query", query),
		slog.Int("items", len(records)),
	)
	return s.Run(ctx, models.EntityProduct, records, opts...)
}

// ImportVideos searches YouTube and imports up to maxResults videos.
func (s *Service) ImportVideos(ctx context.Context, query string, maxResults int, opts ...pipeline.Option) (*models.RunReport, error) {
	if s.youtube == nil {
		return nil, errors.New("importer: video search not configured")
	}
	items, err := s.youtube.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search videos: %w", err)
	}
	records := make([]models.MappedRecord, 0, len(items))
	for i, item := range items {
		rec := parser.MapVideoItem(item)
		rec.Line = i + 1
		records = append(records, rec)
	}
	return s.Run(ctx, models.EntityVideo, records, opts...)
}

// Run drives mapped records through a fresh runner and writes the report file
// when one is configured. The report is returned also for aborted runs.
func (s *Service) Run(ctx context.Context, entity models.Entity, records []models.MappedRecord, opts ...pipeline.Option) (*models.RunReport, error) {
	proc, err := ProcessorFor(entity, s.store)
	if err != nil {
		return nil, err
	}

	runnerOpts := append([]pipeline.Option{pipeline.WithLogger(s.logger)}, s.runnerOpts...)
	runner := pipeline.NewRunner(s.decider, append(runnerOpts, opts...)...)
	report, runErr := runner.Run(ctx, entity, records, proc)
	if report == nil {
		return nil, runErr
	}

	if s.cfg.ReportFile != "" {
		if err := pipeline.WriteReport(s.cfg.ReportFile, s.cfg.ReportFormat, report.Results); err != nil {
			s.logger.Error("write import report",
				slog.String("run_id", report.RunID),
				slog.String("file", s.cfg.ReportFile),
				slog.Any("error", err),
			)
			return report, errors.Join(runErr, fmt.Errorf("write report: %w", err))
		}
	}
	return report, runErr
}

func (s *Service) feedOptions() parser.FeedOptions {
	return parser.FeedOptions{Charset: s.cfg.FeedCharset, Sheet: s.cfg.FeedSheet}
}

func feedMapper(entity models.Entity) (func(parser.Row) models.MappedRecord, error) {
	switch entity {
	case models.EntityProduct:
		return parser.MapCJRow, nil
	case models.EntityBreed:
		return parser.MapBreedRow, nil
	case models.EntityArticle:
		return parser.MapArticleRow, nil
	default:
		return nil, fmt.Errorf("%w: no feed format for %q", ErrUnsupportedEntity, entity)
	}
}
