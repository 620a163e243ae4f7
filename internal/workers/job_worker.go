package workers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

const claimErrorBackoff = 5 * time.Second

// Handler runs one claimed job
type Handler func(ctx context.Context, job *models.Job) error

// RetryPolicy decides whether a failed job goes back to the queue
type RetryPolicy func(job *models.Job, err error) bool

// JobWorker claims jobs of its types from the queue and runs the matching handler
type JobWorker struct {
	*BaseWorker
	jobRepo      *repositories.JobRepository
	handlers     map[models.JobType]Handler
	pollInterval time.Duration
	shouldRetry  RetryPolicy
}

// NewJobWorker creates a worker for every job type in handlers
func NewJobWorker(
	workerID string,
	jobRepo *repositories.JobRepository,
	handlers map[models.JobType]Handler,
	pollInterval time.Duration,
	shouldRetry RetryPolicy,
) *JobWorker {
	jobTypes := make([]models.JobType, 0, len(handlers))
	for jobType := range handlers {
		jobTypes = append(jobTypes, jobType)
	}
	sort.Slice(jobTypes, func(i, j int) bool { return jobTypes[i] < jobTypes[j] })

	if shouldRetry == nil {
		shouldRetry = func(*models.Job, error) bool { return false }
	}

	return &JobWorker{
		BaseWorker:   NewBaseWorker(workerID, jobTypes),
		jobRepo:      jobRepo,
		handlers:     handlers,
		pollInterval: pollInterval,
		shouldRetry:  shouldRetry,
	}
}

// Start begins the worker loop. It returns when ctx is cancelled or the
// worker is stopped.
func (w *JobWorker) Start(ctx context.Context) error {
	w.setRunning(true)
	defer w.setRunning(false)
	logger.WithField("worker_id", w.WorkerID).Infof("Worker started for %v", w.JobTypes)

	for {
		select {
		case <-ctx.Done():
			logger.WithField("worker_id", w.WorkerID).Info("Worker stopping due to context cancellation")
			return ctx.Err()
		case <-w.StopChan:
			logger.WithField("worker_id", w.WorkerID).Info("Worker stopping")
			return nil
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).WithField("worker_id", w.WorkerID).Errorf("Error claiming job")
			w.wait(ctx, claimErrorBackoff)
			continue
		}
		if !processed {
			w.wait(ctx, w.pollInterval)
		}
	}
}

func (w *JobWorker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.StopChan:
	case <-timer.C:
	}
}

// RunOnce claims and processes a single job. It reports false when the
// queue had nothing for this worker.
func (w *JobWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobRepo.ClaimNext(ctx, w.JobTypes, w.WorkerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.process(ctx, job)
	return true, nil
}

func (w *JobWorker) process(ctx context.Context, job *models.Job) {
	log := logger.WithFields(logrus.Fields{
		"worker_id": w.WorkerID,
		"job_id":    job.ID,
		"job_type":  job.JobType,
		"attempt":   job.Attempts,
	})
	log.Info("Processing job")

	err := w.run(ctx, job)
	switch {
	case err == nil:
		job.MarkCompleted()
		log.Info("Job completed")
	case w.shouldRetry(job, err):
		job.SetError(err.Error())
		job.MarkRetry()
		log.WithError(err).Warn("Job failed, will retry")
	default:
		job.SetError(err.Error())
		job.MarkFailed()
		log.WithError(err).Error("Job failed")
	}

	// the outcome is recorded even when shutdown cancelled ctx
	if err := w.jobRepo.Update(context.WithoutCancel(ctx), job); err != nil {
		log.WithError(err).Error("Error updating job")
	}
}

func (w *JobWorker) run(ctx context.Context, job *models.Job) (err error) {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.JobType)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
