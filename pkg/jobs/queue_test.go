package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueNotStarted(t *testing.T) {
	q := NewQueue("events", func(context.Context, Job) error { return nil }, Config{})
	err := q.Enqueue(Job{ID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestEnqueueFullBufferErrorsInsteadOfBlocking(t *testing.T) {
	started := make(chan struct{})
	var startedOnce sync.Once
	release := make(chan struct{})
	handler := func(ctx context.Context, job Job) error {
		// The worker may pick up the buffered second job during shutdown,
		// so guard against closing the channel twice.
		startedOnce.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	q := NewQueue("events", handler, Config{Workers: 1, BufferSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer func() {
		close(release)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first job")
	}

	// Worker is occupied with j1, so j2 fills the buffer and j3 has
	// nowhere to go. It must fail fast rather than stall the caller.
	require.NoError(t, q.Enqueue(Job{ID: "j2"}))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(Job{ID: "j3"}) }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "full")
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full buffer")
	}
}

func TestQueueProcessesJobs(t *testing.T) {
	var handled atomic.Int64
	q := NewQueue("events", func(context.Context, Job) error {
		handled.Add(1)
		return nil
	}, Config{Workers: 2, BufferSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "security_event"}))
	}

	deadline := time.After(2 * time.Second)
	for handled.Load() < 5 {
		select {
		case <-deadline:
			t.Fatalf("handled %d of 5 jobs", handled.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	q.Stop()
}
