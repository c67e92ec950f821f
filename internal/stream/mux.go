package stream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Mux merges sources into one channel of batches stamped with attemptID.
// Messages of one source keep their order. The output is closed once every
// source is drained or ctx is cancelled.
func Mux(ctx context.Context, attemptID string, sources ...<-chan Message) <-chan Batch {
	out := make(chan Batch, 64)
	g, ctx := errgroup.WithContext(ctx)

	for _, src := range sources {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg, ok := <-src:
					if !ok {
						return nil
					}
					select {
					case out <- Batch{AttemptID: attemptID, Message: msg}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out
}
