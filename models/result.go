package models

import (
	"strconv"
	"time"
)

// Status is the outcome of one import record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Action says what a successful record did to the backend.
type Action string

const (
	ActionNone    Action = ""
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// RunState is the lifecycle state of an import run.
type RunState string

const (
	StateIdle                RunState = "idle"
	StateRunning             RunState = "running"
	StateAwaitingDecision    RunState = "awaiting_decision"
	StateCompleted           RunState = "completed"
	StateCompletedWithErrors RunState = "completed_with_errors"
	StateAborted             RunState = "aborted"
)

// Terminal reports whether no further transitions can happen.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithErrors, StateAborted:
		return true
	default:
		return false
	}
}

// ImportResult is the immutable outcome of one input record.
type ImportResult struct {
	Line    int    `json:"line"`
	Key     string `json:"key"`
	Status  Status `json:"status"`
	Action  Action `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReportHeader implements the report writer row contract.
func (r ImportResult) ReportHeader() []string {
	return []string{"line", "key", "status", "action", "message"}
}

// ReportRow implements the report writer row contract.
func (r ImportResult) ReportRow() []string {
	return []string{strconv.Itoa(r.Line), r.Key, string(r.Status), string(r.Action), r.Message}
}

// Summary holds per-status counts for an import run.
type Summary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RunReport is the terminal view of one import run.
type RunReport struct {
	RunID       string         `json:"run_id"`
	Entity      Entity         `json:"entity"`
	State       RunState       `json:"state"`
	Results     []ImportResult `json:"results"`
	Summary     Summary        `json:"summary"`
	AbortReason string         `json:"abort_reason,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
}

// Progress is emitted after every processed record.
type Progress struct {
	RunID     string        `json:"run_id"`
	Entity    Entity        `json:"entity"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Percent   float64       `json:"percent"`
	State     RunState      `json:"state"`
	Last      *ImportResult `json:"last,omitempty"`
}

// Percent returns processed/total as a percentage; an empty run counts as done.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(processed) / float64(total) * 100
}
