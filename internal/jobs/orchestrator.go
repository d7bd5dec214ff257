package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/queue"
	"pptx-processor/internal/types"
)

// RunResult is what a runner reports on success.
type RunResult struct {
	SlideCount     int
	DegradedSlides []int
	OutputPath     string
	OutputURL      string
}

// Runner executes one kind of job. The progress callback may be called
// concurrently from slide workers; updates are persisted monotonically.
type Runner interface {
	Run(ctx context.Context, job *types.Job, progress func(percent int, stage string)) (*RunResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *types.Job, progress func(percent int, stage string)) (*RunResult, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job *types.Job, progress func(percent int, stage string)) (*RunResult, error) {
	return f(ctx, job, progress)
}

// Options configures an Orchestrator.
type Options struct {
	WorkerCount int
	JobTimeout  time.Duration
	MaxRetries  int
}

// Orchestrator owns the worker pool and the job state machine.
type Orchestrator struct {
	store   JobStore
	queue   queue.Queue
	opts    Options
	runners map[types.JobKind]Runner

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewOrchestrator creates an Orchestrator. Runners must be registered
// before Start.
func NewOrchestrator(store JobStore, q queue.Queue, opts Options) *Orchestrator {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 2
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Orchestrator{
		store:   store,
		queue:   q,
		opts:    opts,
		runners: make(map[types.JobKind]Runner),
	}
}

// RegisterRunner binds a runner to a job kind.
func (o *Orchestrator) RegisterRunner(kind types.JobKind, runner Runner) {
	o.runners[kind] = runner
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for i := 0; i < o.opts.WorkerCount; i++ {
		o.wg.Add(1)
		go o.workerLoop(workerCtx, i)
	}
	logger.Info("orchestrator started", logger.Int("workers", o.opts.WorkerCount))
}

// Stop cancels the workers and waits for in-flight jobs to finish their
// current state transition.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	logger.Info("orchestrator stopped")
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID int) {
	defer o.wg.Done()
	for {
		jobID, err := o.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", err, logger.Int("worker", workerID))
			continue
		}
		o.processJob(ctx, jobID)
	}
}

// Submit creates a job and enqueues it. The returned job carries the
// generated ID and session.
func (o *Orchestrator) Submit(ctx context.Context, job *types.Job) (*types.Job, error) {
	if _, ok := o.runners[job.Kind]; !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrInternal,
			"no runner registered for job kind", string(job.Kind), nil)
	}

	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SessionID == "" {
		job.SessionID = uuid.NewString()
	}
	job.Status = types.JobStatusQueued
	job.Progress = 0
	job.CurrentStage = "queued"
	if job.MaxRetries <= 0 {
		job.MaxRetries = o.opts.MaxRetries
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(ctx, job.ID); err != nil {
		job.Status = types.JobStatusFailed
		job.ErrorCode = types.CodeOf(err)
		job.ErrorMessage = "failed to enqueue job"
		o.store.UpdateJob(ctx, job)
		return nil, err
	}

	logger.Info("job submitted",
		logger.String("jobID", job.ID),
		logger.String("sessionID", job.SessionID),
		logger.String("kind", string(job.Kind)))
	return job, nil
}

// Retry re-queues a failed job. The retry budget is enforced here: once
// RetryCount reaches MaxRetries the job is refused permanently.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusFailed {
		return nil, types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"only failed jobs can be retried", string(job.Status), nil)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, types.NewAppErrorWithDetails(types.ErrRetryBudgetExhausted,
			"retry budget exhausted", job.ID, nil)
	}

	job.RetryCount++
	job.Status = types.JobStatusQueued
	job.CurrentStage = "queued"
	job.ErrorCode = ""
	job.ErrorMessage = ""
	job.CompletedAt = nil
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, err
	}

	logger.Info("job re-queued",
		logger.String("jobID", job.ID),
		logger.Int("retryCount", job.RetryCount))
	return job, nil
}

// processJob drives one job through processing to a terminal state.
func (o *Orchestrator) processJob(ctx context.Context, jobID string) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("dequeued unknown job", err, logger.String("jobID", jobID))
		return
	}
	if job.Status.IsTerminal() {
		// A duplicate queue entry; terminal jobs are immutable.
		logger.Warn("skipping terminal job", logger.String("jobID", jobID))
		return
	}

	runner, ok := o.runners[job.Kind]
	if !ok {
		o.finishFailed(ctx, job, types.ErrInternal, "no runner registered for job kind")
		return
	}

	job.Status = types.JobStatusProcessing
	job.CurrentStage = "starting"
	if err := o.store.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to mark job processing", err, logger.String("jobID", jobID))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	progress := func(percent int, stage string) {
		snapshot := *job
		snapshot.Progress = percent
		snapshot.CurrentStage = stage
		if err := o.store.UpdateJob(ctx, &snapshot); err != nil {
			logger.Warn("progress update failed",
				logger.String("jobID", jobID), logger.Err(err))
		}
	}

	started := time.Now()
	result, runErr := runner.Run(jobCtx, job, progress)
	elapsed := time.Since(started)

	// Reload to pick up progress written during the run.
	if fresh, err := o.store.GetJob(ctx, jobID); err == nil {
		job = fresh
	}

	if runErr != nil {
		code := types.CodeOf(runErr)
		if errors.Is(runErr, context.DeadlineExceeded) || jobCtx.Err() == context.DeadlineExceeded {
			code = types.ErrTimeout
		}
		logger.Error("job failed", runErr,
			logger.String("jobID", jobID),
			logger.String("code", string(code)),
			logger.Float64("seconds", elapsed.Seconds()))
		o.finishFailed(ctx, job, code, runErr.Error())
		return
	}

	now := time.Now().UTC()
	job.Status = types.JobStatusCompleted
	job.Progress = 100
	job.CurrentStage = "completed"
	job.CompletedAt = &now
	job.SlideCount = result.SlideCount
	job.DegradedSlides = result.DegradedSlides
	job.OutputPath = result.OutputPath
	job.OutputURL = result.OutputURL
	if len(result.DegradedSlides) > 0 {
		job.ErrorCode = types.ErrPartialFailure
		job.ErrorMessage = "one or more slides were degraded"
	} else {
		job.ErrorCode = ""
		job.ErrorMessage = ""
	}
	if err := o.store.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to mark job completed", err, logger.String("jobID", jobID))
		return
	}

	logger.Info("job completed",
		logger.String("jobID", jobID),
		logger.Int("slides", job.SlideCount),
		logger.Int("degraded", len(job.DegradedSlides)),
		logger.Float64("seconds", elapsed.Seconds()))
}

func (o *Orchestrator) finishFailed(ctx context.Context, job *types.Job, code types.ErrorCode, message string) {
	now := time.Now().UTC()
	job.Status = types.JobStatusFailed
	job.CurrentStage = "failed"
	job.ErrorCode = code
	job.ErrorMessage = message
	job.CompletedAt = &now
	if err := o.store.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to mark job failed", err, logger.String("jobID", job.ID))
	}
}

// EstimateDuration predicts processing time from upload size: one second
// per 512 KiB with a five second floor. Shown to clients, not enforced.
func EstimateDuration(sizeBytes int64) time.Duration {
	estimate := time.Duration(sizeBytes/(512*1024)) * time.Second
	if estimate < 5*time.Second {
		estimate = 5 * time.Second
	}
	return estimate
}
