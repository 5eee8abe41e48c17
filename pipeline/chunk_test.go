package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestForEachChunkBoundsConcurrencyAndKeepsOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	var inFlight, peak int32
	var progress [][2]int

	results, err := ForEachChunk(context.Background(), items, 5, time.Millisecond,
		func(_ context.Context, n int) int {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return n * 10
		},
		func(done, total int) { progress = append(progress, [2]int{done, total}) },
	)
	if err != nil {
		t.Fatalf("for each chunk: %v", err)
	}
	for i, r := range results {
		if r != items[i]*10 {
			t.Fatalf("results[%d] = %d, want %d", i, r, items[i]*10)
		}
	}
	if peak > 5 {
		t.Fatalf("peak concurrency = %d, want <= 5", peak)
	}
	want := [][2]int{{5, 12}, {10, 12}, {12, 12}}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", progress, want)
		}
	}
}

func TestForEachChunkPausesBetweenChunks(t *testing.T) {
	start := time.Now()
	_, err := ForEachChunk(context.Background(), []int{1, 2, 3}, 1, 20*time.Millisecond,
		func(_ context.Context, n int) int { return n }, nil)
	if err != nil {
		t.Fatalf("for each chunk: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("elapsed = %s, want two pauses", elapsed)
	}
}

func TestForEachChunkStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	results, err := ForEachChunk(ctx, []int{1, 2, 3, 4}, 2, time.Hour,
		func(_ context.Context, n int) int {
			atomic.AddInt32(&calls, 1)
			cancel()
			return n
		}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(results) != 2 || calls != 2 {
		t.Fatalf("results = %v, calls = %d; want first chunk only", results, calls)
	}
}
