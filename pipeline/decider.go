package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawfectfind/pawfect-importer/models"
)

// Resolution is the operator's answer to a natural-key conflict.
type Resolution int

const (
	ResolveUpdate Resolution = iota
	ResolveSkip
	ResolveCancel
)

func (r Resolution) String() string {
	switch r {
	case ResolveUpdate:
		return "update"
	case ResolveSkip:
		return "skip"
	case ResolveCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Conflict describes a record whose natural key already exists in the backend.
type Conflict struct {
	RunID      string
	Entity     models.Entity
	Line       int
	Key        string
	ExistingID string
}

// Failure describes a record that failed validation or persistence.
type Failure struct {
	RunID   string
	Entity  models.Entity
	Line    int
	Key     string
	Message string
}

// Decider is the operator decision channel. Calls block until the operator
// answers or ctx is done; there is no timeout.
type Decider interface {
	ResolveConflict(ctx context.Context, c Conflict) (Resolution, error)
	ContinueAfterError(ctx context.Context, f Failure) (bool, error)
}

// PromptDecider asks on a terminal.
type PromptDecider struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptDecider reads answers from in and writes prompts to out.
func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{in: bufio.NewReader(in), out: out}
}

// ResolveConflict prompts until it gets update, skip or cancel. End of input cancels.
func (p *PromptDecider) ResolveConflict(ctx context.Context, c Conflict) (Resolution, error) {
	question := fmt.Sprintf("%s %q (line %d) already exists. [u]pdate / [s]kip / [c]ancel import? ", c.Entity, c.Key, c.Line)
	for {
		answer, err := p.ask(ctx, question)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ResolveCancel, nil
			}
			return ResolveCancel, err
		}
		switch answer {
		case "u", "update":
			return ResolveUpdate, nil
		case "s", "skip":
			return ResolveSkip, nil
		case "c", "cancel":
			return ResolveCancel, nil
		}
	}
}

// ContinueAfterError asks whether to go on. Anything but yes aborts.
func (p *PromptDecider) ContinueAfterError(ctx context.Context, f Failure) (bool, error) {
	question := fmt.Sprintf("line %d (%s) failed: %s\ncontinue with the next record? [y/N] ", f.Line, f.Key, f.Message)
	answer, err := p.ask(ctx, question)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return answer == "y" || answer == "yes", nil
}

func (p *PromptDecider) ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(p.out, question); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

// ErrorPolicyDecider answers ContinueAfterError from a fixed policy and passes
// conflicts through to the wrapped decider.
type ErrorPolicyDecider struct {
	Decider
	Continue bool
}

// ContinueAfterError returns the configured policy.
func (d ErrorPolicyDecider) ContinueAfterError(context.Context, Failure) (bool, error) {
	return d.Continue, nil
}

// WithErrorPolicy applies an on-error policy ("prompt", "continue" or "abort") to d.
func WithErrorPolicy(d Decider, policy string) (Decider, error) {
	switch policy {
	case "", "prompt":
		return d, nil
	case "continue":
		return ErrorPolicyDecider{Decider: d, Continue: true}, nil
	case "abort":
		return ErrorPolicyDecider{Decider: d, Continue: false}, nil
	default:
		return nil, fmt.Errorf("unknown on-error policy %q", policy)
	}
}

// DecisionKind tells what a pending decision is about.
type DecisionKind string

const (
	DecisionConflict DecisionKind = "conflict"
	DecisionError    DecisionKind = "error"
)

var (
	// ErrUnknownDecision is returned when answering a decision that is not pending.
	ErrUnknownDecision = errors.New("pipeline: unknown decision")
	// ErrInvalidChoice is returned when the answer does not fit the decision kind.
	ErrInvalidChoice = errors.New("pipeline: invalid choice")
)

// Decision is one question waiting for an operator.
type Decision struct {
	ID         string        `json:"id"`
	Kind       DecisionKind  `json:"kind"`
	RunID      string        `json:"run_id"`
	Entity     models.Entity `json:"entity"`
	Line       int           `json:"line"`
	Key        string        `json:"key"`
	ExistingID string        `json:"existing_id,omitempty"`
	Message    string        `json:"message,omitempty"`
	Choices    []string      `json:"choices"`
	CreatedAt  time.Time     `json:"created_at"`
}

type pendingDecision struct {
	Decision
	answer chan string
}

// QueueDecider parks decisions until someone answers them through Answer.
// It is safe for concurrent use.
type QueueDecider struct {
	mu      sync.Mutex
	pending map[string]*pendingDecision
	notify  func(Decision)
}

// NewQueueDecider returns an empty queue. notify, if set, is called for each new decision.
func NewQueueDecider(notify func(Decision)) *QueueDecider {
	return &QueueDecider{
		pending: make(map[string]*pendingDecision),
		notify:  notify,
	}
}

// ResolveConflict parks the conflict until answered.
func (q *QueueDecider) ResolveConflict(ctx context.Context, c Conflict) (Resolution, error) {
	choice, err := q.wait(ctx, Decision{
		Kind:       DecisionConflict,
		RunID:      c.RunID,
		Entity:     c.Entity,
		Line:       c.Line,
		Key:        c.Key,
		ExistingID: c.ExistingID,
		Choices:    []string{"update", "skip", "cancel"},
	})
	if err != nil {
		return ResolveCancel, err
	}
	switch choice {
	case "update":
		return ResolveUpdate, nil
	case "skip":
		return ResolveSkip, nil
	default:
		return ResolveCancel, nil
	}
}

// ContinueAfterError parks the failure until answered.
func (q *QueueDecider) ContinueAfterError(ctx context.Context, f Failure) (bool, error) {
	choice, err := q.wait(ctx, Decision{
		Kind:    DecisionError,
		RunID:   f.RunID,
		Entity:  f.Entity,
		Line:    f.Line,
		Key:     f.Key,
		Message: f.Message,
		Choices: []string{"continue", "abort"},
	})
	if err != nil {
		return false, err
	}
	return choice == "continue", nil
}

// Pending lists open decisions, oldest first. An empty runID lists all runs.
func (q *QueueDecider) Pending(runID string) []Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Decision, 0, len(q.pending))
	for _, p := range q.pending {
		if runID != "" && p.RunID != runID {
			continue
		}
		out = append(out, p.Decision)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Answer resolves a pending decision with one of its choices.
func (q *QueueDecider) Answer(id, choice string) error {
	choice = strings.ToLower(strings.TrimSpace(choice))

	q.mu.Lock()
	p, ok := q.pending[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDecision, id)
	}
	valid := false
	for _, c := range p.Choices {
		if c == choice {
			valid = true
			break
		}
	}
	if !valid {
		q.mu.Unlock()
		return fmt.Errorf("%w: %q, want one of %s", ErrInvalidChoice, choice, strings.Join(p.Choices, ", "))
	}
	delete(q.pending, id)
	q.mu.Unlock()

	p.answer <- choice
	return nil
}

func (q *QueueDecider) wait(ctx context.Context, d Decision) (string, error) {
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now()
	p := &pendingDecision{Decision: d, answer: make(chan string, 1)}

	q.mu.Lock()
	q.pending[d.ID] = p
	q.mu.Unlock()

	if q.notify != nil {
		q.notify(d)
	}

	select {
	case choice := <-p.answer:
		return choice, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, d.ID)
		q.mu.Unlock()
		return "", ctx.Err()
	}
}
