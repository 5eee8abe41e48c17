// Package sources holds the vendor clients: the marketplace data API, the
// marketplace product-page scraper and the video search API.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pawfectfind/pawfect-importer/config"
)

// Option configures a vendor client.
type Option func(*clientOptions)

// clientOptions are the settings shared by every vendor client.
type clientOptions struct {
	http    *http.Client
	metrics *Metrics
	logger  *slog.Logger
}

func applyOptions(opts []Option) clientOptions {
	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHTTPClient replaces the HTTP client, e.g. with one using a mock transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		if c != nil {
			o.http = c
		}
	}
}

// WithMetrics records requests, retries and errors on m.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// apiClient issues rate-limited JSON GETs with retries.
type apiClient struct {
	source  string
	http    *http.Client
	limiter *rate.Limiter
	retry   retryPolicy
	metrics *Metrics
	logger  *slog.Logger
}

func newAPIClient(source string, cfg *config.Config, opts ...Option) *apiClient {
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		burst = max(1, int(cfg.RequestsPerSec))
	}

	o := applyOptions(opts)
	httpClient := o.http
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &apiClient{
		source:  source,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		retry: retryPolicy{
			maxRetries: cfg.MaxRetries,
			base:       cfg.RetryBackoff,
			max:        cfg.RetryBackoffMax,
		},
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// getJSON sends the request built by newReq and decodes a 2xx body into out.
// Transient failures are retried with capped exponential backoff.
func (a *apiClient) getJSON(ctx context.Context, newReq func(context.Context) (*http.Request, error), out any) error {
	for attempt := 0; ; attempt++ {
		retryAfter, err := a.once(ctx, newReq, out)
		if err == nil {
			return nil
		}

		category := errorTypeLabel(err)
		a.metrics.IncError(a.source, category)
		if !retryable(err) || attempt >= a.retry.maxRetries || ctx.Err() != nil {
			return err
		}

		delay := a.retry.backoff(attempt + 1)
		if retryAfter > delay {
			delay = retryAfter
		}
		a.metrics.IncRetries(a.source)
		a.logger.Debug("retrying vendor request",
			slog.String("source", a.source),
			slog.String("category", category),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := sleep(ctx, delay); err != nil {
			return classifyError(err, 0)
		}
	}
}

func (a *apiClient) once(ctx context.Context, newReq func(context.Context) (*http.Request, error), out any) (time.Duration, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, classifyError(err, 0)
	}
	req, err := newReq(ctx)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", a.source, err)
	}

	a.metrics.IncRequest(a.source)
	start := time.Now()
	resp, err := a.http.Do(req)
	a.metrics.ObserveDuration(a.source, time.Since(start))
	if err != nil {
		return 0, classifyError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := fmt.Errorf("%s %s: http status %d: %s", a.source, req.URL.Path, resp.StatusCode, snippet)
		return parseRetryAfter(resp.Header.Get("Retry-After")), classifyError(cause, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, ErrMalformed{Err: fmt.Errorf("decode %s response: %w", a.source, err)}
	}
	return 0, nil
}

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if p.max > 0 && delay > p.max {
		delay = p.max
	}
	return delay
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
