// Package scheduler runs long-lived jobs in the background and hands out
// handles for cancellation. Orchestrators receive a Scheduler by injection
// so tests can substitute a synchronous one.
package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task is one unit of background work. It must honor ctx cancellation.
type Task func(ctx context.Context)

// JobID identifies a scheduled task.
type JobID string

// Scheduler starts and cancels background jobs.
type Scheduler interface {
	// Schedule launches task under the given name and returns its handle.
	Schedule(name string, task Task) (JobID, error)
	// Cancel signals the job's context. It reports whether the job was
	// still tracked when the signal was sent.
	Cancel(id JobID) bool
	// Shutdown cancels every job and waits for them to finish, bounded
	// by ctx.
	Shutdown(ctx context.Context) error
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Async is the in-process Scheduler used in production. Each job runs in
// its own goroutine with its own cancelable context.
type Async struct {
	log *zap.Logger

	mu     sync.Mutex
	jobs   map[JobID]*job
	closed bool
}

func NewAsync(log *zap.Logger) *Async {
	return &Async{
		log:  log.Named("scheduler"),
		jobs: make(map[JobID]*job),
	}
}

func (s *Async) Schedule(name string, task Task) (JobID, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", context.Canceled
	}
	id := JobID(uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[id] = j
	s.mu.Unlock()

	s.log.Info("job scheduled", zap.String("job", name), zap.String("job_id", string(id)))

	go func() {
		defer func() {
			cancel()
			close(j.done)
			s.mu.Lock()
			delete(s.jobs, id)
			s.mu.Unlock()
			s.log.Info("job finished", zap.String("job", name), zap.String("job_id", string(id)))
		}()
		task(ctx)
	}()

	return id, nil
}

func (s *Async) Cancel(id JobID) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	j.cancel()
	return true
}

func (s *Async) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.cancel()
		pending = append(pending, j)
	}
	s.mu.Unlock()

	for _, j := range pending {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Sync runs every task inline on the calling goroutine. It exists for
// tests that need deterministic ordering.
type Sync struct{}

func (Sync) Schedule(_ string, task Task) (JobID, error) {
	task(context.Background())
	return JobID(uuid.NewString()), nil
}

func (Sync) Cancel(JobID) bool              { return false }
func (Sync) Shutdown(context.Context) error { return nil }
