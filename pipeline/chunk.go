package pipeline

import (
	"context"
	"sync"
	"time"
)

// ForEachChunk calls fn for every item, running up to size calls at once and
// pausing between chunks. Results keep the input order. onProgress, if set, is
// called after each chunk with the number of finished items.
//
// Cancellation is checked between chunks; calls already started are never
// interrupted. On cancellation the results of the finished chunks are returned
// together with ctx.Err().
func ForEachChunk[T, R any](
	ctx context.Context,
	items []T,
	size int,
	pause time.Duration,
	fn func(context.Context, T) R,
	onProgress func(done, total int),
) ([]R, error) {
	if size <= 0 {
		size = 1
	}
	results := make([]R, len(items))

	for start := 0; start < len(items); start += size {
		if start > 0 && pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return results[:start], ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return results[:start], err
		}

		end := min(start+size, len(items))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = fn(ctx, items[i])
			}(i)
		}
		wg.Wait()

		if onProgress != nil {
			onProgress(end, len(items))
		}
	}
	return results, nil
}
