// Package parallel provides bounded goroutine fan-out for volume loading
// and patch extraction.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs body for every i in [0, length) with at most limit calls in
// flight. It returns when all calls have finished.
func ForEach(length, limit int, body func(i int)) {
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < length; i++ {
		i := i
		g.Go(func() error {
			body(i)
			return nil
		})
	}
	g.Wait()
}

// ForEachErr is ForEach for bodies that can fail. After the first error, or
// once ctx is done, no new calls are started; the first error is returned.
func ForEachErr(ctx context.Context, length, limit int, body func(i int) error) error {
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < length; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return body(i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
