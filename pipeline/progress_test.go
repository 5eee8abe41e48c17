package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawfectfind/pawfect-importer/models"
)

type fakeStatusStore struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeStatusStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStatusStore) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisStatusSinkRoundTrip(t *testing.T) {
	store := newFakeStatusStore()
	sink := NewRedisStatusSink(store, 24*time.Hour)

	p := models.Progress{RunID: "r-9", Entity: models.EntityBreed, Processed: 3, Total: 4, Percent: 75, State: models.StateRunning}
	if err := sink.Publish(context.Background(), p); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if store.ttls["pawfect:import:r-9"] != 24*time.Hour {
		t.Fatalf("ttl = %s", store.ttls["pawfect:import:r-9"])
	}

	got, found, err := sink.Load(context.Background(), "r-9")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.Processed != 3 || got.State != models.StateRunning {
		t.Fatalf("loaded = %+v", got)
	}

	if _, found, err := sink.Load(context.Background(), "missing"); found || err != nil {
		t.Fatalf("missing run: found=%v err=%v", found, err)
	}
}

func TestRedisStatusSinkError(t *testing.T) {
	store := newFakeStatusStore()
	store.err = errors.New("connection refused")
	sink := NewRedisStatusSink(store, time.Minute)
	if err := sink.Publish(context.Background(), models.Progress{RunID: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTrackerKeepsLatest(t *testing.T) {
	tr := NewTracker()
	_ = tr.Publish(context.Background(), models.Progress{RunID: "a", Processed: 1})
	_ = tr.Publish(context.Background(), models.Progress{RunID: "a", Processed: 2})
	got, ok := tr.Get("a")
	if !ok || got.Processed != 2 {
		t.Fatalf("got %+v", got)
	}
	if _, ok := tr.Get("b"); ok {
		t.Fatalf("unexpected run b")
	}
}
