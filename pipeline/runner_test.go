package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pawfectfind/pawfect-importer/models"
)

type memoryProcessor struct {
	mu       sync.Mutex
	rows     map[string]string
	persists []string
	failKeys map[string]error
	lookups  int
}

func newMemoryProcessor() *memoryProcessor {
	return &memoryProcessor{rows: make(map[string]string), failKeys: make(map[string]error)}
}

func (m *memoryProcessor) Lookup(_ context.Context, rec models.MappedRecord) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	id, ok := m.rows[rec.Key]
	return id, ok, nil
}

func (m *memoryProcessor) Persist(_ context.Context, rec models.MappedRecord, existingID string) (models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failKeys[rec.Key]; err != nil {
		return models.ActionNone, err
	}
	m.persists = append(m.persists, rec.Key)
	if existingID != "" {
		return models.ActionUpdated, nil
	}
	m.rows[rec.Key] = fmt.Sprintf("id-%d", len(m.rows)+1)
	return models.ActionCreated, nil
}

type scriptedDecider struct {
	resolutions []Resolution
	continues   []bool
	conflicts   []Conflict
	failures    []Failure
}

func (s *scriptedDecider) ResolveConflict(_ context.Context, c Conflict) (Resolution, error) {
	s.conflicts = append(s.conflicts, c)
	if len(s.resolutions) == 0 {
		return ResolveCancel, errors.New("no scripted resolution")
	}
	r := s.resolutions[0]
	s.resolutions = s.resolutions[1:]
	return r, nil
}

func (s *scriptedDecider) ContinueAfterError(_ context.Context, f Failure) (bool, error) {
	s.failures = append(s.failures, f)
	if len(s.continues) == 0 {
		return false, nil
	}
	c := s.continues[0]
	s.continues = s.continues[1:]
	return c, nil
}

func validRecord(line int, key string) models.MappedRecord {
	return models.MappedRecord{
		Line:    line,
		Key:     key,
		Entity:  models.EntityProduct,
		Product: &models.Product{ExternalID: key, Name: key},
	}
}

func invalidRecord(line int, key, msg string) models.MappedRecord {
	return models.MappedRecord{Line: line, Key: key, Entity: models.EntityProduct, Err: errors.New(msg)}
}

func TestRunContinuesPastFailureWhenOperatorAgrees(t *testing.T) {
	proc := newMemoryProcessor()
	decider := &scriptedDecider{continues: []bool{true}}
	tracker := NewTracker()
	runner := NewRunner(decider, WithSinks(tracker), WithRunID("run-1"))

	records := []models.MappedRecord{
		validRecord(2, "1"),
		invalidRecord(3, "2", "Missing product name"),
		validRecord(4, "3"),
	}
	report, err := runner.Run(context.Background(), models.EntityProduct, records, proc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(report.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(report.Results))
	}
	wantStatus := []models.Status{models.StatusSuccess, models.StatusFailed, models.StatusSuccess}
	for i, want := range wantStatus {
		if report.Results[i].Status != want {
			t.Fatalf("result %d status = %s, want %s", i, report.Results[i].Status, want)
		}
	}
	if report.Results[1].Message != "Missing product name" {
		t.Fatalf("message = %q", report.Results[1].Message)
	}
	if report.Summary.Processed != 3 || report.Summary.Failed != 1 || report.Summary.Created != 2 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.State != models.StateCompletedWithErrors {
		t.Fatalf("state = %s", report.State)
	}
	if proc.lookups != 2 {
		t.Fatalf("invalid record must not reach the backend, lookups = %d", proc.lookups)
	}

	progress, ok := tracker.Get("run-1")
	if !ok || progress.Processed != 3 || progress.Percent != 100 || progress.State != models.StateCompletedWithErrors {
		t.Fatalf("final progress = %+v", progress)
	}
}

func TestRunAbortStopsBeforeNextRecord(t *testing.T) {
	proc := newMemoryProcessor()
	proc.failKeys["b"] = errors.New("backend unavailable")
	decider := &scriptedDecider{continues: []bool{false}}
	runner := NewRunner(decider)

	records := []models.MappedRecord{validRecord(2, "a"), validRecord(3, "b"), validRecord(4, "c"), validRecord(5, "d")}
	report, err := runner.Run(context.Background(), models.EntityProduct, records, proc)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if report == nil {
		t.Fatalf("aborted run must still return a report")
	}
	if report.State != models.StateAborted {
		t.Fatalf("state = %s", report.State)
	}
	if report.Summary.Processed != 2 || report.Summary.Total != 4 {
		t.Fatalf("processed/total = %d/%d, want 2/4", report.Summary.Processed, report.Summary.Total)
	}
	if len(proc.persists) != 1 || proc.persists[0] != "a" {
		t.Fatalf("persisted = %v, want only a", proc.persists)
	}
	if report.AbortReason == "" {
		t.Fatalf("expected an abort reason")
	}
	if len(decider.failures) != 1 || decider.failures[0].Message != "backend unavailable" {
		t.Fatalf("failures = %+v", decider.failures)
	}
}

func TestRunConflictResolutions(t *testing.T) {
	tests := []struct {
		name        string
		resolution  Resolution
		wantStatus  models.Status
		wantAction  models.Action
		wantErr     error
		wantResults int
	}{
		{name: "update", resolution: ResolveUpdate, wantStatus: models.StatusSuccess, wantAction: models.ActionUpdated, wantResults: 2},
		{name: "skip", resolution: ResolveSkip, wantStatus: models.StatusSkipped, wantResults: 2},
		{name: "cancel", resolution: ResolveCancel, wantStatus: models.StatusSkipped, wantErr: ErrAborted, wantResults: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newMemoryProcessor()
			proc.rows["dup"] = "existing-1"
			decider := &scriptedDecider{resolutions: []Resolution{tt.resolution}}
			runner := NewRunner(decider)

			report, err := runner.Run(context.Background(), models.EntityBreed,
				[]models.MappedRecord{validRecord(2, "dup"), validRecord(3, "fresh")}, proc)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(report.Results) != tt.wantResults {
				t.Fatalf("results = %d, want %d", len(report.Results), tt.wantResults)
			}
			first := report.Results[0]
			if first.Status != tt.wantStatus || first.Action != tt.wantAction {
				t.Fatalf("first = %+v", first)
			}
			if len(decider.conflicts) != 1 || decider.conflicts[0].ExistingID != "existing-1" {
				t.Fatalf("conflicts = %+v", decider.conflicts)
			}
		})
	}
}

func TestRunReimportWithUpdateIsIdempotent(t *testing.T) {
	proc := newMemoryProcessor()
	decider := &scriptedDecider{resolutions: []Resolution{ResolveUpdate}}
	records := []models.MappedRecord{validRecord(2, "B000000001")}

	if _, err := NewRunner(decider).Run(context.Background(), models.EntityProduct, records, proc); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := NewRunner(decider).Run(context.Background(), models.EntityProduct, records, proc)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(proc.rows) != 1 {
		t.Fatalf("rows = %d, want exactly 1", len(proc.rows))
	}
	if report.Summary.Updated != 1 {
		t.Fatalf("summary = %+v", report.Summary)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := newMemoryProcessor()
	report, err := NewRunner(&scriptedDecider{}).Run(ctx, models.EntityVideo,
		[]models.MappedRecord{validRecord(1, "v1")}, proc)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if report.Summary.Processed != 0 || len(proc.persists) != 0 {
		t.Fatalf("nothing may run after cancellation: %+v", report.Summary)
	}
}

func TestRunEmptyInput(t *testing.T) {
	report, err := NewRunner(&scriptedDecider{}).Run(context.Background(), models.EntityBreed, nil, newMemoryProcessor())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.State != models.StateCompleted || len(report.Results) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRunProgressAfterEveryRecord(t *testing.T) {
	var events []models.Progress
	sink := SinkFunc(func(_ context.Context, p models.Progress) error {
		events = append(events, p)
		return nil
	})
	failing := SinkFunc(func(context.Context, models.Progress) error {
		return errors.New("sink down")
	})

	records := []models.MappedRecord{validRecord(1, "a"), validRecord(2, "b")}
	if _, err := NewRunner(&scriptedDecider{}, WithSinks(sink, failing)).Run(context.Background(), models.EntityProduct, records, newMemoryProcessor()); err != nil {
		t.Fatalf("a failing sink must not fail the run: %v", err)
	}

	var perRecord []float64
	for _, e := range events {
		if e.Last != nil {
			perRecord = append(perRecord, e.Percent)
		}
	}
	if len(perRecord) != 2 || perRecord[0] != 50 || perRecord[1] != 100 {
		t.Fatalf("per-record percents = %v", perRecord)
	}
	if last := events[len(events)-1]; last.State != models.StateCompleted {
		t.Fatalf("last event state = %s", last.State)
	}
}

func TestSummarize(t *testing.T) {
	results := []models.ImportResult{
		{Status: models.StatusSuccess, Action: models.ActionCreated},
		{Status: models.StatusSuccess, Action: models.ActionUpdated},
		{Status: models.StatusSkipped},
		{Status: models.StatusFailed},
		{Status: models.StatusFailed},
	}
	got := Summarize(results)
	want := models.Summary{Total: 5, Processed: 5, Succeeded: 2, Created: 1, Updated: 1, Skipped: 1, Failed: 2}
	if got != want {
		t.Fatalf("summary = %+v, want %+v", got, want)
	}
}
