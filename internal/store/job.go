package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/store/model"
)

const DefaultJobTTL = 24 * time.Hour

// Job is the session-scoped job state shared by the worker that writes it and
// the poll path that drains it.
type Job interface {
	Create(key string, job *model.Job) error
	Get(key string) (model.Job, error)
	Mutate(key string, fn func(job *model.Job) error) error
	DrainLogs(key string) ([]model.LogEntry, error)
	Drain(key string) (model.Job, error)
	Expire(now time.Time) int
	Run(ctx context.Context, interval time.Duration)
	Len() int
}

type jobEntry struct {
	mu  sync.Mutex
	job model.Job
}

// JobStore keeps jobs in memory. The map lock only guards membership; every
// read or write of a job goes through that job's own lock.
type JobStore struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &JobStore{
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
		jobs: make(map[string]*jobEntry),
	}
}

// Create stores job under key. An existing job for the key is replaced only if
// it has reached a terminal status.
func (s *JobStore) Create(key string, job *model.Job) error {
	if job == nil {
		return fmt.Errorf("creating job for session %s: nil job", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[key]; ok {
		prev.mu.Lock()
		status := prev.job.Status
		prev.mu.Unlock()
		if !status.IsTerminal() {
			return ErrJobInProgress
		}
	}

	s.jobs[key] = &jobEntry{job: job.Clone()}
	return nil
}

func (s *JobStore) Get(key string) (model.Job, error) {
	e, err := s.entry(key)
	if err != nil {
		return model.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// Mutate applies fn to a copy of the job and commits it when fn succeeds.
// Terminal jobs are read-only and progress never moves backwards.
func (s *JobStore) Mutate(key string, fn func(job *model.Job) error) error {
	e, err := s.entry(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.IsTerminal() {
		return ErrJobTerminal
	}

	next := e.job.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if next.Progress < e.job.Progress {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, e.job.Progress, next.Progress)
	}
	next.Progress = min(next.Progress, 100)
	next.UpdatedAt = s.now()
	e.job = next
	return nil
}

// DrainLogs hands out and clears the pending log queue in one step.
func (s *JobStore) DrainLogs(key string) ([]model.LogEntry, error) {
	e, err := s.entry(key)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	logs := e.job.LogQueue
	e.job.LogQueue = nil
	return logs, nil
}

// Drain returns the job as it is right now with the log queue that was
// pending, leaving the stored queue empty.
func (s *JobStore) Drain(key string) (model.Job, error) {
	e, err := s.entry(key)
	if err != nil {
		return model.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.job
	e.job.LogQueue = nil
	return snapshot, nil
}

// Expire drops terminal jobs not updated within the TTL and returns how many
// were removed. Running jobs are left to their worker.
func (s *JobStore) Expire(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.jobs {
		e.mu.Lock()
		expired := e.job.Status.IsTerminal() && e.job.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.jobs, key)
			removed++
		}
	}
	return removed
}

// Run expires jobs every interval until ctx is done.
func (s *JobStore) Run(ctx context.Context, interval time.Duration) {
	logger := zap.S().Named("job_store")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n := s.Expire(s.now()); n > 0 {
			logger.Infow("expired jobs", "count", n, "remaining", s.Len())
		}
	}
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) entry(key string) (*jobEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return e, nil
}
