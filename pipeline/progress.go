package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawfectfind/pawfect-importer/models"
)

// ProgressSink observes run progress. Publish is called after every record and
// on every state change; an error is logged and never stops the run.
type ProgressSink interface {
	Publish(ctx context.Context, p models.Progress) error
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, p models.Progress) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, p models.Progress) error {
	return f(ctx, p)
}

// LogSink writes progress lines to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Publish logs p at debug level, and terminal states at info.
func (s LogSink) Publish(ctx context.Context, p models.Progress) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("run_id", p.RunID),
		slog.String("state", string(p.State)),
		slog.Int("processed", p.Processed),
		slog.Int("total", p.Total),
		slog.String("percent", fmt.Sprintf("%.1f", p.Percent)),
	}
	if p.Last != nil {
		attrs = append(attrs,
			slog.String("key", p.Last.Key),
			slog.String("status", string(p.Last.Status)),
		)
		if p.Last.Message != "" {
			attrs = append(attrs, slog.String("message", p.Last.Message))
		}
	}
	level := slog.LevelDebug
	if p.State.Terminal() || (p.Last != nil && p.Last.Status == models.StatusFailed) {
		level = slog.LevelInfo
	}
	logger.LogAttrs(ctx, level, "import progress", attrs...)
	return nil
}

// Tracker keeps the latest progress of every run in memory.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]models.Progress
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]models.Progress)}
}

// Publish stores p as the latest progress of its run.
func (t *Tracker) Publish(_ context.Context, p models.Progress) error {
	t.mu.Lock()
	t.runs[p.RunID] = p
	t.mu.Unlock()
	return nil
}

// Get returns the latest progress of a run.
func (t *Tracker) Get(runID string) (models.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.runs[runID]
	return p, ok
}

// StatusStore is the subset of the Redis client the status sink needs.
type StatusStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStatusSink stores a JSON snapshot of each run under "pawfect:import:<run id>".
type RedisStatusSink struct {
	client StatusStore
	ttl    time.Duration
}

// NewRedisStatusSink keeps snapshots for ttl after the last update.
func NewRedisStatusSink(client StatusStore, ttl time.Duration) *RedisStatusSink {
	return &RedisStatusSink{client: client, ttl: ttl}
}

// StatusKey returns the Redis key of a run snapshot.
func StatusKey(runID string) string {
	return "pawfect:import:" + runID
}

// Publish writes the snapshot.
func (s *RedisStatusSink) Publish(ctx context.Context, p models.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := s.client.Set(ctx, StatusKey(p.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store run status: %w", err)
	}
	return nil
}

// Load reads a snapshot back. found is false when the key expired or never existed.
func (s *RedisStatusSink) Load(ctx context.Context, runID string) (models.Progress, bool, error) {
	var p models.Progress
	raw, err := s.client.Get(ctx, StatusKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("load run status: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, false, fmt.Errorf("decode run status: %w", err)
	}
	return p, true, nil
}
