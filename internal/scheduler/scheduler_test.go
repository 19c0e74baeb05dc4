package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAsync_ScheduleRunsTask(t *testing.T) {
	t.Parallel()

	s := NewAsync(zap.NewNop())
	done := make(chan struct{})

	id, err := s.Schedule("noop", func(ctx context.Context) { close(done) })
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestAsync_CancelSignalsContext(t *testing.T) {
	t.Parallel()

	s := NewAsync(zap.NewNop())
	started := make(chan struct{})
	stopped := make(chan struct{})

	id, err := s.Schedule("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})
	require.NoError(t, err)

	<-started
	require.True(t, s.Cancel(id))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestAsync_CancelUnknownJob(t *testing.T) {
	t.Parallel()

	s := NewAsync(zap.NewNop())
	require.False(t, s.Cancel(JobID("missing")))
}

func TestAsync_CancelFinishedJob(t *testing.T) {
	t.Parallel()

	s := NewAsync(zap.NewNop())
	done := make(chan struct{})
	id, err := s.Schedule("quick", func(ctx context.Context) { close(done) })
	require.NoError(t, err)
	<-done

	// The job deregisters itself after returning.
	require.Eventually(t, func() bool {
		return !s.Cancel(id)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsync_ShutdownWaitsForJobs(t *testing.T) {
	t.Parallel()

	s := NewAsync(zap.NewNop())
	var finished atomic.Bool
	started := make(chan struct{})

	_, err := s.Schedule("slow", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, s.Shutdown(context.Background()))
	require.True(t, finished.Load())

	_, err = s.Schedule("after-shutdown", func(ctx context.Context) {})
	require.Error(t, err)
}

func TestAsync_ShutdownHonorsDeadline(t *testing.T) {
	t.Parallel()

	s := NewAsync(zap.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})

	_, err := s.Schedule("stubborn", func(ctx context.Context) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
	close(release)
}

func TestSync_RunsInline(t *testing.T) {
	t.Parallel()

	var ran bool
	_, err := Sync{}.Schedule("inline", func(ctx context.Context) { ran = true })
	require.NoError(t, err)
	require.True(t, ran)
}
