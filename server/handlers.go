package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pawfectfind/pawfect-importer/importer"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/parser"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/store"
	"github.com/pawfectfind/pawfect-importer/verify"
)

var feedEntities = map[string]models.Entity{
	"products": models.EntityProduct,
	"breeds":   models.EntityBreed,
	"articles": models.EntityArticle,
}

type runEntry struct {
	mu     sync.Mutex
	report *models.RunReport
	err    string
	done   bool
}

type runStatus struct {
	RunID    string            `json:"run_id"`
	Progress *models.Progress  `json:"progress,omitempty"`
	Report   *models.RunReport `json:"report,omitempty"`
	Error    string            `json:"error,omitempty"`
	Done     bool              `json:"done"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) startImport(c *gin.Context) {
	entity, ok := feedEntities[c.Param("entity")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown import type, use products, breeds or articles"})
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	rows, err := s.deps.Importer.ReadFeed(entity, fh.Filename, f)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, parser.ErrMalformedFeed) || errors.Is(err, importer.ErrUnsupportedEntity) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	runID := uuid.NewString()
	entry := &runEntry{}
	s.mu.Lock()
	s.runs[runID] = entry
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.deps.Importer.ImportRows(s.ctx, entity, rows, pipeline.WithRunID(runID))
		entry.mu.Lock()
		entry.report = report
		entry.done = true
		if err != nil {
			entry.err = err.Error()
		}
		entry.mu.Unlock()
		if err != nil && !errors.Is(err, pipeline.ErrAborted) {
			s.logger.Error("import run failed", slog.String("run_id", runID), slog.Any("error", err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "rows": len(rows)})
}

func (s *Server) getImport(c *gin.Context) {
	runID := c.Param("id")
	status := runStatus{RunID: runID}

	s.mu.RLock()
	entry, known := s.runs[runID]
	s.mu.RUnlock()
	if known {
		entry.mu.Lock()
		status.Report, status.Error, status.Done = entry.report, entry.err, entry.done
		entry.mu.Unlock()
	}

	if p, ok := s.deps.Tracker.Get(runID); ok {
		status.Progress = &p
	} else if s.deps.Status != nil {
		p, found, err := s.deps.Status.Load(c.Request.Context(), runID)
		if err != nil {
			s.logger.Warn("load run status", slog.String("run_id", runID), slog.Any("error", err))
		}
		if found {
			status.Progress = &p
			status.Done = p.State.Terminal()
		}
	}

	if !known && status.Progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) listDecisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": s.deps.Decider.Pending(c.Param("id"))})
}

type answerRequest struct {
	Choice string `json:"choice" binding:"required"`
}

func (s *Server) answerDecision(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"choice\": ...}"})
		return
	}
	err := s.deps.Decider.Answer(c.Param("id"), req.Choice)
	switch {
	case errors.Is(err, pipeline.ErrUnknownDecision):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrInvalidChoice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) runVerify(c *gin.Context) {
	if s.deps.Sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification is not configured"})
		return
	}
	report, err := s.deps.Sweeper.VerifyAll(c.Request.Context())
	if report != nil {
		s.deps.Queue.Add(report.Results...)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listPending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": s.deps.Queue.Pending()})
}

func (s *Server) resolvePending(c *gin.Context) {
	id := c.Param("id")
	var err error
	switch c.Param("action") {
	case "apply":
		err = s.deps.Queue.ApplyPrice(c.Request.Context(), id)
	case "remove":
		err = s.deps.Queue.Remove(c.Request.Context(), id)
	case "dismiss":
		err = s.deps.Queue.Dismiss(id)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action, use apply, remove or dismiss"})
		return
	}

	switch {
	case errors.Is(err, verify.ErrNotPending), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, verify.ErrNoNewPrice):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNoPrivilege):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}
