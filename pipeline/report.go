package pipeline

import (
	"sync"

	"github.com/pawfectfind/pawfect-importer/models"
)

// Tally aggregates import results incrementally.
type Tally struct {
	mu      sync.Mutex
	summary models.Summary
}

// NewTally starts a tally for a run of total records.
func NewTally(total int) *Tally {
	return &Tally{summary: models.Summary{Total: total}}
}

// Add counts one result.
func (t *Tally) Add(r models.ImportResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	add(&t.summary, r)
}

// Summary returns a copy of the counts so far.
func (t *Tally) Summary() models.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Summarize counts results from scratch. Total is the number of results.
func Summarize(results []models.ImportResult) models.Summary {
	s := models.Summary{Total: len(results)}
	for _, r := range results {
		add(&s, r)
	}
	return s
}

func add(s *models.Summary, r models.ImportResult) {
	s.Processed++
	switch r.Status {
	case models.StatusSuccess:
		s.Succeeded++
		switch r.Action {
		case models.ActionCreated:
			s.Created++
		case models.ActionUpdated:
			s.Updated++
		}
	case models.StatusSkipped:
		s.Skipped++
	case models.StatusFailed:
		s.Failed++
	}
}
