package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/handlers/validator"
	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/pkg/metrics"
)

// Runner executes the job stored under a session. *provision.Worker is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, sessionID string) error
}

// Spawner starts detached work. *provision.Pool is the production
// implementation.
type Spawner interface {
	Spawn(key string, fn func(ctx context.Context)) error
}

type JobService struct {
	store     store.Job
	spawner   Spawner
	runner    Runner
	validator *validator.Validator
}

func NewJobService(s store.Job, spawner Spawner, runner Runner) *JobService {
	return &JobService{
		store:     s,
		spawner:   spawner,
		runner:    runner,
		validator: validator.NewInstallValidator(),
	}
}

type JobInfo struct {
	ID        uuid.UUID
	SessionID string
	Status    model.JobStatus
}

// Submit creates the job of sessionID and hands it to a worker. It returns as
// soon as the worker is started.
func (s *JobService) Submit(ctx context.Context, sessionID string, cfg *model.InstallConfig) (*JobInfo, error) {
	logger := zap.S().Named("job_service").With("session", sessionID)

	if !joblog.ValidSessionID(sessionID) {
		metrics.IncreaseJobsSubmittedMetric("rejected")
		return nil, NewErrSubmission("invalid session identifier")
	}
	if cfg == nil {
		metrics.IncreaseJobsSubmittedMetric("rejected")
		return nil, NewErrSubmission("installation configuration is required")
	}
	if err := s.validator.Struct(cfg); err != nil {
		metrics.IncreaseJobsSubmittedMetric("rejected")
		return nil, NewErrSubmission("%s", err)
	}

	job := model.NewJob(sessionID, *cfg)
	if err := s.store.Create(sessionID, job); err != nil {
		if errors.Is(err, store.ErrJobInProgress) {
			metrics.IncreaseJobsSubmittedMetric("conflict")
			return nil, NewErrJobInProgress(sessionID)
		}
		return nil, err
	}

	if err := s.spawner.Spawn(sessionID, func(ctx context.Context) {
		if err := s.runner.Run(ctx, sessionID); err != nil {
			zap.S().Named("job_service").Debugw("job ended with error", "session", sessionID, "error", err)
		}
	}); err != nil {
		s.failSpawn(sessionID, cfg, err)
		metrics.IncreaseJobsSubmittedMetric("spawn_failed")
		logger.Errorw("failed to start worker", "job_id", job.ID, "error", err)
		return nil, NewErrSpawn(sessionID, err)
	}

	metrics.IncreaseJobsSubmittedMetric("accepted")
	logger.Infow("installation submitted", "job_id", job.ID)
	return &JobInfo{ID: job.ID, SessionID: sessionID, Status: model.JobStatusPending}, nil
}

// failSpawn moves a job whose worker could not be started straight to error
// so that pollers do not wait on it forever.
func (s *JobService) failSpawn(sessionID string, cfg *model.InstallConfig, cause error) {
	message := joblog.MaskValues("Installation could not be started: "+cause.Error(), cfg.Secrets()...)
	err := s.store.Mutate(sessionID, func(j *model.Job) error {
		j.Status = model.JobStatusError
		j.ErrorMessage = message
		j.LogQueue = append(j.LogQueue, model.LogEntry{
			Level:     model.LogLevelError,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		zap.S().Named("job_service").Errorw("failed to mark job as failed", "session", sessionID, "error", err)
	}
	metrics.IncreaseJobsFinishedMetric(string(model.JobStatusError))
}

// Poll returns the current state of the job and the log entries queued since
// the previous poll. An unknown session yields a not-found result together
// with *ErrJobNotFound.
func (s *JobService) Poll(ctx context.Context, sessionID string) (*model.PollResult, error) {
	job, err := s.store.Drain(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			metrics.IncreasePollsMetric("not_found")
			return NotFoundResult(), NewErrJobNotFound(sessionID)
		}
		return nil, err
	}

	logs := job.LogQueue
	if logs == nil {
		logs = []model.LogEntry{}
	}
	metrics.IncreasePollsMetric(string(job.Status))
	return &model.PollResult{
		Status:   job.Status,
		Progress: job.Progress,
		Logs:     logs,
		Message:  job.ErrorMessage,
	}, nil
}

// Get returns the job of sessionID without draining its queue.
func (s *JobService) Get(ctx context.Context, sessionID string) (*model.Job, error) {
	job, err := s.store.Get(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(sessionID)
		}
		return nil, err
	}
	return &job, nil
}

func NotFoundResult() *model.PollResult {
	return &model.PollResult{
		Status:   model.JobStatusError,
		Progress: 0,
		Logs:     []model.LogEntry{},
		Message:  NoSessionMessage,
	}
}
