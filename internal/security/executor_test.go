package security

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineExecutorRunsSynchronously(t *testing.T) {
	t.Parallel()

	exec := NewInlineExecutor()

	ran := false
	err := exec.Execute(func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestGoroutineExecutor(t *testing.T) {
	t.Parallel()

	exec := NewGoroutineExecutor()

	done := make(chan struct{})
	err := exec.Execute(func() { close(done) })
	require.NoError(t, err)
	<-done
}

func TestWorkerPoolExecutesAllTasks(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(4, 8)

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := pool.Execute(func() {
			defer wg.Done()
			count.Add(1)
		})
		require.NoError(t, err)
	}

	wg.Wait()
	pool.Close()
	assert.Equal(t, int64(100), count.Load())
}

func TestWorkerPoolCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(1, 10)

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Execute(func() { count.Add(1) }))
	}

	pool.Close()
	assert.Equal(t, int64(10), count.Load())
}

func TestWorkerPoolExecuteAfterClose(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(1, 1)
	pool.Close()

	err := pool.Execute(func() {})
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestWorkerPoolCloseIdempotent(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(1, 1)
	pool.Close()
	pool.Close()
}

func TestWorkerPoolClampsSizes(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(0, -1)
	defer pool.Close()

	done := make(chan struct{})
	require.NoError(t, pool.Execute(func() { close(done) }))
	<-done
}
