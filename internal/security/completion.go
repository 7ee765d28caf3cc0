package security

import (
	"net/http"
	"sync"
)

// ResponseSentinel reports whether the response has begun transmission.
// Once headers or body bytes have been written, staging challenge headers
// would be lost or corrupt the response, so completion tasks are skipped.
type ResponseSentinel interface {
	ResponseStarted() bool
}

// ResponseSentinelFunc adapts a function to the ResponseSentinel interface.
type ResponseSentinelFunc func() bool

// ResponseStarted implements ResponseSentinel.
func (f ResponseSentinelFunc) ResponseStarted() bool {
	return f()
}

// completionRunner dispatches a completion task exactly once. The task only
// runs when the response has not started; the finish callback always runs.
type completionRunner struct {
	task     CompletionTask
	sentinel ResponseSentinel
	finish   func()
	once     sync.Once
}

func newCompletionRunner(task CompletionTask, sentinel ResponseSentinel, finish func()) *completionRunner {
	return &completionRunner{
		task:     task,
		sentinel: sentinel,
		finish:   finish,
	}
}

// Complete runs the stored task if the response has not begun, then invokes
// finish. Subsequent calls are no-ops.
func (c *completionRunner) Complete(w http.ResponseWriter, r *http.Request) {
	c.once.Do(func() {
		if c.sentinel == nil || !c.sentinel.ResponseStarted() {
			c.task.Run(w, r)
		}
		if c.finish != nil {
			c.finish()
		}
	})
}
