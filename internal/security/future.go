package security

import (
	"context"
	"sync"
)

// Future is a one-shot handle on an asynchronous authentication run. It is
// completed exactly once; later completions are ignored.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result AuthenticationResult
	err    error
}

// newFuture returns an unresolved Future.
func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future. Only the first call takes effect.
func (f *Future) complete(result AuthenticationResult, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the run has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the run finishes or ctx is cancelled. On cancellation it
// returns the context's error; the run itself keeps going on its executor.
func (f *Future) Get(ctx context.Context) (AuthenticationResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return AuthenticationResult{}, ctx.Err()
	}
}
