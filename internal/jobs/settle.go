package jobs

import (
	"context"
	"sync"
)

// settle runs fn over items with at most limit in flight, waits for every
// item to finish, and collects all outcomes. Item failures are recorded,
// never propagated early, so one bad item cannot starve the rest of the
// batch. A canceled context fails the remaining items without starting them.
func settle[T any](ctx context.Context, items []T, limit int, name func(T) string, fn func(context.Context, T) error) *Result {
	if limit < 1 {
		limit = 1
	}

	errs := make([]error, len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(ctx, item)
		}(i, item)
	}
	wg.Wait()

	result := &Result{}
	for i, item := range items {
		result.Add(name(item), errs[i])
	}
	return result
}
