package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/pkg/metrics"
)

const DefaultStepTimeout = 10 * time.Minute

// SystemInfoFunc returns the host facts written to the debug log when a job
// starts.
type SystemInfoFunc func(ctx context.Context) map[string]any

type WorkerOption func(w *Worker)

func WithRunner(r CommandRunner) WorkerOption {
	return func(w *Worker) {
		w.runner = r
	}
}

func WithDryRun(dryRun bool) WorkerOption {
	return func(w *Worker) {
		w.dryRun = dryRun
	}
}

func WithStepTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.stepTimeout = d
		}
	}
}

func WithSystemInfo(fn SystemInfoFunc) WorkerOption {
	return func(w *Worker) {
		w.systemInfo = fn
	}
}

// Worker drives a job through its steps. It is the only writer of the job
// while the job is not terminal.
type Worker struct {
	store       store.Job
	logs        *joblog.Manager
	steps       []Step
	runner      CommandRunner
	dryRun      bool
	stepTimeout time.Duration
	systemInfo  SystemInfoFunc
}

func NewWorker(s store.Job, logs *joblog.Manager, steps []Step, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:       s,
		logs:        logs,
		steps:       steps,
		runner:      ExecRunner{},
		stepTimeout: DefaultStepTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	if w.dryRun {
		w.runner = DryRunner{}
	}
	return w
}

func (w *Worker) Steps() []Step {
	return w.steps
}

// Run executes the job stored under sessionID until it completes, a step
// fails or ctx is cancelled. The returned error is the *StepError that ended
// the job, if any.
func (w *Worker) Run(ctx context.Context, sessionID string) (runErr error) {
	log := zap.S().Named("worker").With("session", sessionID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("job panicked", "panic", rec)
			w.abort(sessionID, fmt.Sprintf("installation aborted: %v", rec))
			runErr = errors.Errorf("panic: %v", rec)
		}
	}()

	job, err := w.store.Get(sessionID)
	if err != nil {
		return errors.Wrap(err, "loading job")
	}

	logger, err := w.logs.Logger(sessionID)
	if err != nil {
		w.abort(sessionID, fmt.Sprintf("cannot open installation log: %s", err))
		return err
	}
	logger.AddSecrets(job.Config.Secrets()...)

	metrics.IncreaseJobsRunningMetric()
	defer metrics.DecreaseJobsRunningMetric()

	r := &jobReporter{key: sessionID, store: w.store, log: logger}
	entry, err := logger.Info("Installation started", map[string]any{
		"job_id":  job.ID.String(),
		"steps":   len(w.steps),
		"dry_run": w.dryRun,
	})
	r.apply(entry, err, func(j *model.Job) { j.Status = model.JobStatusRunning })
	log.Infow("job started", "job_id", job.ID)

	if _, err := logger.Config("installation", job.Config.ContextMap()); err != nil {
		log.Warnw("failed to log configuration", "error", err)
	}
	if w.systemInfo != nil {
		if _, err := logger.SystemInfo(w.systemInfo(ctx)); err != nil {
			log.Warnw("failed to log system information", "error", err)
		}
	}

	env := &Env{
		JobID:     job.ID.String(),
		SessionID: sessionID,
		Config:    job.Config,
		Report:    r,
		Runner:    w.runner,
		DryRun:    w.dryRun,
	}

	n := len(w.steps)
	for i, step := range w.steps {
		number := i + 1

		if err := ctx.Err(); err != nil {
			return w.fail(r, NewStepError(number, step.Name(), errors.Wrap(err, "installation interrupted")))
		}

		entry, err := logger.Step(number, step.Name(), "started", map[string]any{"description": step.Description()})
		r.apply(entry, err, setProgress(i*100/n))

		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, w.stepTimeout)
		err = runStep(stepCtx, step, env)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			metrics.ObserveStepDurationMetric(step.Name(), "failure", elapsed)
			return w.fail(r, NewStepError(number, step.Name(), err))
		}
		metrics.ObserveStepDurationMetric(step.Name(), "success", elapsed)

		entry, err = logger.Step(number, step.Name(), "completed", map[string]any{"duration": elapsed.String()})
		r.apply(entry, err, setProgress((i+1)*100/n))
	}

	entry, err = logger.Info("Installation completed successfully", map[string]any{"job_id": job.ID.String()})
	r.apply(entry, err, func(j *model.Job) {
		j.Progress = 100
		j.Status = model.JobStatusCompleted
	})
	metrics.IncreaseJobsFinishedMetric(string(model.JobStatusCompleted))
	log.Infow("job completed", "job_id", job.ID)
	return nil
}

// runStep turns a panic inside a step into the error of that step.
func runStep(ctx context.Context, step Step, env *Env) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	return step.Run(ctx, env)
}

func (w *Worker) fail(r *jobReporter, serr *StepError) error {
	entry, err := r.log.Error(serr.Error(), map[string]any{
		"step_number": serr.Number,
		"step_name":   serr.Step,
		"error":       r.log.Mask(serr.Err.Error()),
	})
	message := entry.Message
	r.apply(entry, err, func(j *model.Job) {
		j.Status = model.JobStatusError
		j.ErrorMessage = message
	})
	metrics.IncreaseJobsFinishedMetric(string(model.JobStatusError))
	zap.S().Named("worker").Warnw("job failed", "session", r.key, "step", serr.Step, "error", message)
	return serr
}

// abort fails a job that could not even start.
func (w *Worker) abort(sessionID string, message string) {
	err := w.store.Mutate(sessionID, func(j *model.Job) error {
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
		zap.S().Named("worker").Errorw("failed to abort job", "session", sessionID, "error", err)
	}
	metrics.IncreaseJobsFinishedMetric(string(model.JobStatusError))
}

func setProgress(p int) func(*model.Job) {
	return func(j *model.Job) {
		j.Progress = max(j.Progress, p)
	}
}

// jobReporter forwards step output to the session log files and to the
// job's pending queue.
type jobReporter struct {
	key   string
	store store.Job
	log   *joblog.Logger
}

var _ Reporter = (*jobReporter)(nil)

func (r *jobReporter) Info(message string, fields map[string]any) {
	r.queue(r.log.Info(message, fields))
}

func (r *jobReporter) Warning(message string, fields map[string]any) {
	r.queue(r.log.Warning(message, fields))
}

func (r *jobReporter) Debug(message string, fields map[string]any) {
	r.queue(r.log.Debug(message, fields))
}

func (r *jobReporter) Command(command string, output string, exitCode int) {
	r.queue(r.log.Command(command, output, exitCode))
}

func (r *jobReporter) queue(entry model.LogEntry, err error) {
	r.apply(entry, err, nil)
}

// apply appends entry to the queue and runs fn in the same store mutation so
// that a poll sees the entry together with the state change it announces.
func (r *jobReporter) apply(entry model.LogEntry, writeErr error, fn func(*model.Job)) {
	if writeErr != nil {
		zap.S().Named("worker").Warnw("failed to write installation log", "session", r.key, "error", writeErr)
	}
	err := r.store.Mutate(r.key, func(j *model.Job) error {
		j.LogQueue = append(j.LogQueue, entry)
		if fn != nil {
			fn(j)
		}
		return nil
	})
	if err != nil {
		zap.S().Named("worker").Warnw("failed to update job", "session", r.key, "error", err)
	}
}
