package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/jobs"
)

func TestRecordPersistsSynchronously(t *testing.T) {
	repo := &memSecurityRepo{}
	svc := NewSecurityService(repo, nil, nil)

	svc.Record(context.Background(), &models.SecurityEvent{
		Kind:     models.EventRoleDenied,
		Severity: models.SeverityLow,
		IP:       "203.0.113.9",
	})

	require.Len(t, repo.events, 1)
	assert.NotEmpty(t, repo.events[0].ID)
	assert.False(t, repo.events[0].CreatedAt.IsZero())
}

func TestRecordFallsBackWhenQueueRefuses(t *testing.T) {
	repo := &memSecurityRepo{}
	svc := NewSecurityService(repo, nil, nil)

	started := make(chan struct{})
	var startedOnce sync.Once
	release := make(chan struct{})
	defer close(release)
	svc.queue = jobs.NewQueue("security_events", func(ctx context.Context, job jobs.Job) error {
		// The worker may pick up the buffered second job during shutdown,
		// so guard against closing the channel twice.
		startedOnce.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, jobs.Config{Workers: 1, BufferSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.queue.Start(ctx)
	defer svc.queue.Stop()

	// Occupy the worker and fill the buffer so the queue refuses the
	// next job. The event must still land in the store synchronously.
	svc.Record(ctx, &models.SecurityEvent{Kind: models.EventRoleDenied, Severity: models.SeverityLow})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}
	svc.Record(ctx, &models.SecurityEvent{Kind: models.EventRoleDenied, Severity: models.SeverityLow})

	before := len(repo.events)
	svc.Record(ctx, &models.SecurityEvent{
		Kind:     models.EventFingerprintMismatch,
		Severity: models.SeverityHigh,
		IP:       "203.0.113.9",
	})
	require.Len(t, repo.events, before+1)
	assert.Equal(t, models.EventFingerprintMismatch, repo.events[before].Kind)
}
