package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/alimgiray/openwiden/pkg/config"
	"github.com/alimgiray/openwiden/pkg/logger"
)

// group is a set of job types served by the same pool of workers
type group struct {
	name     string
	count    int
	jobTypes []models.JobType
}

// WorkerManager manages the worker pools of every job group
type WorkerManager struct {
	workers  []Worker
	jobRepo  *repositories.JobRepository
	handlers map[models.JobType]Handler
	cfg      config.WorkersConfig
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(jobRepo *repositories.JobRepository, handlers map[models.JobType]Handler, cfg config.WorkersConfig) *WorkerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerManager{
		workers:  make([]Worker, 0),
		jobRepo:  jobRepo,
		handlers: handlers,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (wm *WorkerManager) groups() []group {
	return []group{
		{name: "sync", count: wm.cfg.SyncWorkers, jobTypes: []models.JobType{models.JobTypeUserSync}},
		{name: "lifecycle", count: wm.cfg.LifecycleWorkers, jobTypes: []models.JobType{models.JobTypeRepositoryAdd, models.JobTypeRepositoryRemove}},
		{name: "webhook", count: wm.cfg.WebhookWorkers, jobTypes: []models.JobType{models.JobTypeWebhook}},
	}
}

// ShouldRetry puts a job back in the queue when its error is transient and
// attempts remain. Lifecycle jobs settle the repository state on failure and
// run again only when that settling itself failed.
func (wm *WorkerManager) ShouldRetry(job *models.Job, err error) bool {
	if job.Attempts >= wm.cfg.MaxAttempts {
		return false
	}
	switch job.JobType {
	case models.JobTypeRepositoryAdd, models.JobTypeRepositoryRemove:
		var settleErr *services.SettleError
		return errors.As(err, &settleErr)
	}
	return services.IsRetryable(err)
}

// StartAll requeues jobs interrupted by a previous shutdown, then starts the
// configured number of workers for every job group
func (wm *WorkerManager) StartAll() error {
	reset, err := wm.jobRepo.ResetInProgress(wm.ctx)
	if err != nil {
		return fmt.Errorf("failed to requeue interrupted jobs: %w", err)
	}
	if reset > 0 {
		logger.Infof("Requeued %d interrupted jobs", reset)
	}

	for _, g := range wm.groups() {
		handlers := make(map[models.JobType]Handler, len(g.jobTypes))
		for _, jobType := range g.jobTypes {
			if handler, ok := wm.handlers[jobType]; ok {
				handlers[jobType] = handler
			}
		}
		if len(handlers) == 0 {
			continue
		}

		for i := 0; i < g.count; i++ {
			worker := NewJobWorker(fmt.Sprintf("%s-%d", g.name, i+1), wm.jobRepo, handlers, wm.cfg.PollInterval, wm.ShouldRetry)
			wm.workers = append(wm.workers, worker)
			wm.startWorker(worker)
		}
		logger.Infof("Started %d %s workers", g.count, g.name)
	}

	logger.Infof("Started %d total workers", len(wm.workers))
	return nil
}

// StopAll gracefully stops all workers
func (wm *WorkerManager) StopAll() error {
	logger.Info("Stopping all workers...")

	wm.cancel()

	for _, worker := range wm.workers {
		if err := worker.Stop(); err != nil {
			logger.WithError(err).Errorf("Error stopping worker %s", worker.GetWorkerID())
		}
	}

	wm.wg.Wait()

	logger.Info("All workers stopped")
	return nil
}

// startWorker starts a single worker in a goroutine
func (wm *WorkerManager) startWorker(worker Worker) {
	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		if err := worker.Start(wm.ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Errorf("Worker %s stopped with error", worker.GetWorkerID())
		}
	}()
}

// GetWorkerStatus returns the status of all workers
func (wm *WorkerManager) GetWorkerStatus() map[string]bool {
	status := make(map[string]bool, len(wm.workers))
	for _, worker := range wm.workers {
		status[worker.GetWorkerID()] = worker.IsRunning()
	}
	return status
}
