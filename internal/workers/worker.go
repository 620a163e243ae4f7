package workers

import (
	"context"
	"sync"

	"github.com/alimgiray/openwiden/internal/models"
)

// Worker interface defines the contract for all workers
type Worker interface {
	// Start begins the worker process
	Start(ctx context.Context) error

	// Stop gracefully stops the worker
	Stop() error

	// GetJobTypes returns the types of job this worker handles
	GetJobTypes() []models.JobType

	// GetWorkerID returns the unique identifier for this worker
	GetWorkerID() string

	// IsRunning reports whether the worker loop is active
	IsRunning() bool
}

// BaseWorker provides common functionality for all workers
type BaseWorker struct {
	WorkerID string
	JobTypes []models.JobType
	StopChan chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(workerID string, jobTypes []models.JobType) *BaseWorker {
	return &BaseWorker{
		WorkerID: workerID,
		JobTypes: jobTypes,
		StopChan: make(chan struct{}),
	}
}

// GetJobTypes returns the job types this worker handles
func (w *BaseWorker) GetJobTypes() []models.JobType {
	return w.JobTypes
}

// GetWorkerID returns the worker's unique identifier
func (w *BaseWorker) GetWorkerID() string {
	return w.WorkerID
}

// Stop gracefully stops the worker. Calling it twice is safe.
func (w *BaseWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.StopChan)
	}
	return nil
}

// IsRunning checks if the worker is currently running
func (w *BaseWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *BaseWorker) setRunning(running bool) {
	w.mu.Lock()
	w.running = running
	w.mu.Unlock()
}
