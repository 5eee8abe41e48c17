package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/parser"
)

// PageScraper reads offers from public marketplace product pages.
type PageScraper struct {
	collector *colly.Collector
	siteURL   string
	metrics   *Metrics
	logger    *slog.Logger
}

// NewPageScraper builds a scraper for cfg.AmazonSiteURL.
func NewPageScraper(cfg *config.Config, opts ...Option) (*PageScraper, error) {
	parsed, err := url.Parse(cfg.AmazonSiteURL)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("site url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	delay := time.Duration(0)
	if cfg.RequestsPerSec > 0 {
		delay = time.Duration(float64(time.Second) / cfg.RequestsPerSec)
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	o := applyOptions(opts)
	if o.http != nil && o.http.Transport != nil {
		collector.WithTransport(o.http.Transport)
	}

	return &PageScraper{
		collector: collector,
		siteURL:   strings.TrimRight(cfg.AmazonSiteURL, "/"),
		metrics:   o.metrics,
		logger:    o.logger,
	}, nil
}

// Lookup scrapes the product page of asin.
func (s *PageScraper) Lookup(ctx context.Context, asin string) (*Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyError(err, 0)
	}
	asin = strings.ToUpper(strings.TrimSpace(asin))

	c := s.collector.Clone()
	var (
		offer    = Offer{ASIN: asin}
		found    bool
		priceSet bool
		visitErr error
		start    time.Time
	)

	c.OnRequest(func(r *colly.Request) {
		start = time.Now()
		s.metrics.IncRequest("amazon_page")
	})
	c.OnResponse(func(r *colly.Response) {
		s.metrics.ObserveDuration("amazon_page", time.Since(start))
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		visitErr = classifyError(fmt.Errorf("page %s: %w", asin, err), status)
		s.metrics.IncError("amazon_page", errorTypeLabel(visitErr))
	})
	c.OnHTML("#productTitle", func(e *colly.HTMLElement) {
		offer.Title = strings.TrimSpace(e.Text)
		found = offer.Title != ""
	})
	c.OnHTML("span.a-price span.a-offscreen", func(e *colly.HTMLElement) {
		if priceSet {
			return
		}
		if price, ok := parser.NormalizePrice(e.Text); ok {
			offer.Price = &price
			priceSet = true
		}
	})
	c.OnHTML("#availability", func(e *colly.HTMLElement) {
		offer.Available = available(e.Text)
	})
	c.OnHTML("form[action='/errors/validateCaptcha']", func(e *colly.HTMLElement) {
		visitErr = ErrRateLimited{Err: fmt.Errorf("page %s: captcha challenge", asin)}
	})

	offer.Available = true
	if err := c.Visit(fmt.Sprintf("%s/dp/%s", s.siteURL, asin)); err != nil && visitErr == nil {
		visitErr = classifyError(fmt.Errorf("visit %s: %w", asin, err), 0)
	}
	if visitErr != nil {
		s.logger.Debug("product page lookup failed", slog.String("asin", asin), slog.Any("error", visitErr))
		return nil, visitErr
	}
	if !found {
		return nil, ErrMalformed{Err: fmt.Errorf("page %s: no product title", asin)}
	}
	return &offer, nil
}
