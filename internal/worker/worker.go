// File: internal/worker/worker.go

// Package worker runs independent remote calls on a bounded pool. Outcomes
// come back in input order so callers commit them to the graph store
// sequentially and deterministically.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one task.
type Result[R any] struct {
	Value R
	Err   error
}

// Gather runs fn for every item with at most limit calls in flight. A
// failing item never cancels the others; its error is reported in its slot.
// Items not yet started when ctx ends fail with the context error.
func Gather[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) []Result[R] {
	out := make([]Result[R], len(items))
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Value, out[i].Err = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Errors returns the non-nil errors of results, in order.
func Errors[R any](results []Result[R]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
