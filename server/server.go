// Package server exposes the admin HTTP API: start imports, follow their
// progress, answer pending decisions and work the verification queue.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pawfectfind/pawfect-importer/importer"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/verify"
)

// Deps are the components the API drives.
type Deps struct {
	Importer *importer.Service
	// Decider must be the decider the importer was built with.
	Decider  *pipeline.QueueDecider
	// Tracker must be one of the importer's progress sinks.
	Tracker  *pipeline.Tracker
	Status   *pipeline.RedisStatusSink // optional
	Sweeper  *verify.Sweeper           // optional; nil disables /verify
	Queue    *verify.Queue
	Gatherer prometheus.Gatherer // optional; nil disables /metrics
	Origins  []string
	Logger   *slog.Logger
}

// Server is the admin API.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*runEntry
}

// New builds the API. Background runs live until Shutdown.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Tracker == nil {
		deps.Tracker = pipeline.NewTracker()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:   deps,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*runEntry),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	corsCfg := cors.DefaultConfig()
	if len(s.deps.Origins) > 0 {
		corsCfg.AllowOrigins = s.deps.Origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	api.POST("/imports/:entity", s.startImport)
	api.GET("/imports/:id", s.getImport)
	api.GET("/imports/:id/decisions", s.listDecisions)
	api.POST("/decisions/:id", s.answerDecision)

	api.POST("/verify", s.runVerify)
	api.GET("/verify/pending", s.listPending)
	api.POST("/verify/pending/:id/:action", s.resolvePending)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin API listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.Shutdown(shutdownCtx)
}

// Shutdown cancels runs still waiting on the operator and waits for every
// background run to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
