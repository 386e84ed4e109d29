package edgeconfig

import (
	"context"
)

// flight is a load shared between every caller that asked for it while it
// was pending. complete must be called exactly once.
type flight struct {
	done chan struct{}
	err  error
}

func newFlight() flight {
	return flight{done: make(chan struct{})}
}

func (f *flight) complete(err error) {
	f.err = err
	close(f.done)
}

func (f *flight) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the load completes or ctx is done. Giving up does not
// cancel the load.
func (f *flight) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
