// Package workers runs independent tasks on a bounded goroutine pool and keeps
// their results in input order.
package workers

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when a caller passes n <= 0.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// Map calls fn for every item with at most n calls in flight and returns the
// results indexed like items. The first error cancels the context passed to
// the remaining calls and is returned once all started calls have finished;
// results are discarded in that case.
func Map[T, R any](ctx context.Context, n int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, ctx.Err()
	}

	results := make([]R, len(items))

	if len(items) == 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := fn(ctx, items[0])
		if err != nil {
			return nil, err
		}
		results[0] = r
		return results, nil
	}

	if n <= 0 {
		n = DefaultWorkers()
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(n)

	for i, item := range items {
		i, item := i, item
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			r, err := fn(ectx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
