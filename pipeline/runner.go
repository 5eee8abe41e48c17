// Package pipeline drives import runs: the sequential batch runner, the operator
// decision channel, progress sinks, result aggregation and report writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawfectfind/pawfect-importer/models"
)

// ErrAborted is returned by Run when the operator stopped the run before the last record.
var ErrAborted = errors.New("pipeline: import aborted")

// Processor performs the per-record backend work of one entity.
type Processor interface {
	// Lookup reports whether a record with the same natural key already exists.
	Lookup(ctx context.Context, rec models.MappedRecord) (existingID string, found bool, err error)
	// Persist writes the record. existingID is empty for a new record.
	Persist(ctx context.Context, rec models.MappedRecord, existingID string) (models.Action, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithSinks adds progress sinks. Every sink receives every progress event.
func WithSinks(sinks ...ProgressSink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithLogger sets the logger used for sink failures and run boundaries.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunID fixes the id of the next run instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) {
		r.runID = id
	}
}

// Runner processes mapped records strictly one after another.
type Runner struct {
	decider Decider
	sinks   []ProgressSink
	logger  *slog.Logger
	metrics *Metrics
	runID   string

	mu    sync.Mutex
	state models.RunState
}

// NewRunner builds a runner that asks decider about conflicts and failures.
func NewRunner(decider Decider, opts ...Option) *Runner {
	r := &Runner{
		decider: decider,
		logger:  slog.Default(),
		state:   models.StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current run state.
func (r *Runner) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run processes records in input order and returns one result per attempted record.
// The report is always returned, also when the run was aborted.
func (r *Runner) Run(ctx context.Context, entity models.Entity, records []models.MappedRecord, proc Processor) (*models.RunReport, error) {
	if r.decider == nil {
		return nil, errors.New("pipeline: runner has no decider")
	}
	if proc == nil {
		return nil, errors.New("pipeline: nil processor")
	}

	runID := r.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	r.runID = ""

	run := &run{
		Runner: r,
		report: &models.RunReport{
			RunID:     runID,
			Entity:    entity,
			Results:   make([]models.ImportResult, 0, len(records)),
			StartTime: time.Now(),
		},
		tally: NewTally(len(records)),
	}

	r.logger.Info("import run started",
		slog.String("run_id", runID),
		slog.String("entity", string(entity)),
		slog.Int("records", len(records)),
	)
	run.setState(ctx, models.StateRunning, nil)

	var runErr error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			run.report.AbortReason = "run cancelled: " + err.Error()
			runErr = fmt.Errorf("%w: %w", ErrAborted, err)
			break
		}

		stop, err := run.processOne(ctx, rec, proc)
		if stop {
			runErr = err
			break
		}
	}

	return run.finish(ctx, runErr)
}

type run struct {
	*Runner
	report *models.RunReport
	tally  *Tally
}

// processOne handles one record. stop is true when the run must not continue.
func (rn *run) processOne(ctx context.Context, rec models.MappedRecord, proc Processor) (stop bool, err error) {
	result := models.ImportResult{Line: rec.Line, Key: rec.Key}

	if !rec.Valid() {
		result.Status = models.StatusFailed
		result.Message = rec.Err.Error()
		return rn.recordFailure(ctx, result)
	}

	existingID, found, err := proc.Lookup(ctx, rec)
	if err != nil {
		result.Status = models.StatusFailed
		result.Message = fmt.Sprintf("lookup failed: %v", err)
		return rn.recordFailure(ctx, result)
	}

	if found {
		rn.setState(ctx, models.StateAwaitingDecision, nil)
		resolution, err := rn.decider.ResolveConflict(ctx, Conflict{
			RunID:      rn.report.RunID,
			Entity:     rn.report.Entity,
			Line:       rec.Line,
			Key:        rec.Key,
			ExistingID: existingID,
		})
		if err != nil {
			rn.report.AbortReason = "conflict decision unavailable: " + err.Error()
			return true, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		rn.metrics.IncDecision("conflict", resolution.String())
		rn.setState(ctx, models.StateRunning, nil)

		switch resolution {
		case ResolveSkip:
			result.Status = models.StatusSkipped
			result.Message = "already exists"
			rn.record(ctx, result)
			return false, nil
		case ResolveCancel:
			result.Status = models.StatusSkipped
			result.Message = "import cancelled"
			rn.record(ctx, result)
			rn.report.AbortReason = fmt.Sprintf("cancelled by operator at %q", rec.Key)
			return true, ErrAborted
		}
	}

	action, err := proc.Persist(ctx, rec, existingID)
	if err != nil {
		result.Status = models.StatusFailed
		result.Message = err.Error()
		return rn.recordFailure(ctx, result)
	}

	result.Status = models.StatusSuccess
	result.Action = action
	rn.record(ctx, result)
	return false, nil
}

// recordFailure appends a failed result and asks whether to go on.
func (rn *run) recordFailure(ctx context.Context, result models.ImportResult) (bool, error) {
	rn.record(ctx, result)

	rn.setState(ctx, models.StateAwaitingDecision, &result)
	proceed, err := rn.decider.ContinueAfterError(ctx, Failure{
		RunID:   rn.report.RunID,
		Entity:  rn.report.Entity,
		Line:    result.Line,
		Key:     result.Key,
		Message: result.Message,
	})
	if err != nil {
		rn.report.AbortReason = "error decision unavailable: " + err.Error()
		return true, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if !proceed {
		rn.metrics.IncDecision("error", "abort")
		rn.report.AbortReason = fmt.Sprintf("aborted by operator after %q failed: %s", result.Key, result.Message)
		return true, ErrAborted
	}
	rn.metrics.IncDecision("error", "continue")
	rn.setState(ctx, models.StateRunning, nil)
	return false, nil
}

func (rn *run) record(ctx context.Context, result models.ImportResult) {
	rn.report.Results = append(rn.report.Results, result)
	rn.tally.Add(result)
	rn.metrics.IncRecord(rn.report.Entity, result.Status)
	rn.emit(ctx, &result)
}

func (rn *run) finish(ctx context.Context, runErr error) (*models.RunReport, error) {
	summary := rn.tally.Summary()
	state := models.StateCompleted
	switch {
	case runErr != nil:
		state = models.StateAborted
	case summary.Failed > 0:
		state = models.StateCompletedWithErrors
	}

	rn.report.Summary = summary
	rn.report.EndTime = time.Now()
	rn.setState(ctx, state, nil)
	rn.metrics.ObserveRun(rn.report.Entity, state, rn.report.EndTime.Sub(rn.report.StartTime))

	attrs := []any{
		slog.String("run_id", rn.report.RunID),
		slog.String("state", string(state)),
		slog.Int("processed", summary.Processed),
		slog.Int("total", summary.Total),
		slog.Int("failed", summary.Failed),
	}
	if runErr != nil {
		rn.logger.Warn("import run aborted", append(attrs, slog.String("reason", rn.report.AbortReason))...)
	} else {
		rn.logger.Info("import run finished", attrs...)
	}
	return rn.report, runErr
}

func (rn *run) setState(ctx context.Context, state models.RunState, last *models.ImportResult) {
	rn.mu.Lock()
	rn.state = state
	rn.mu.Unlock()
	rn.report.State = state
	rn.emit(ctx, last)
}

func (rn *run) emit(ctx context.Context, last *models.ImportResult) {
	summary := rn.tally.Summary()
	progress := models.Progress{
		RunID:     rn.report.RunID,
		Entity:    rn.report.Entity,
		Processed: summary.Processed,
		Total:     summary.Total,
		Percent:   models.Percent(summary.Processed, summary.Total),
		State:     rn.report.State,
		Last:      last,
	}
	// Sinks must observe progress even after ctx is cancelled.
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range rn.sinks {
		if err := sink.Publish(sinkCtx, progress); err != nil {
			rn.logger.Warn("progress sink failed",
				slog.String("run_id", progress.RunID),
				slog.Any("error", err),
			)
		}
	}
}
