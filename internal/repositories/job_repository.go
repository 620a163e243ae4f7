package repositories

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

const jobColumns = `
	id, job_type, status, payload, attempts, error_message, started_at, completed_at,
	worker_id, created_at, updated_at`

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.JobType, &job.Status, &job.Payload, &job.Attempts, &job.ErrorMessage,
		&job.StartedAt, &job.CompletedAt, &job.WorkerID, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Create creates a new job
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.JobType, job.Status, job.Payload, job.Attempts, job.ErrorMessage,
		job.StartedAt, job.CompletedAt, job.WorkerID, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

// ListByStatus retrieves jobs in the given status, oldest first
func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNext retrieves the oldest pending job of one of the given types (FIFO)
// and marks it as in-progress for workerID. It returns nil when the queue is empty.
func (r *JobRepository) ClaimNext(ctx context.Context, jobTypes []models.JobType, workerID string) (*models.Job, error) {
	if len(jobTypes) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := []interface{}{models.JobStatusPending}
	placeholders := make([]string, len(jobTypes))
	for i, jobType := range jobTypes {
		placeholders[i] = "?"
		args = append(args, jobType)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = ? AND job_type IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC
		LIMIT 1`

	job, err := scanJob(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	job.MarkStarted(workerID)
	job.UpdatedAt = time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = ?, started_at = ?, worker_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		job.Status, job.Attempts, job.StartedAt, job.WorkerID, job.UpdatedAt,
		job.ID, models.JobStatusPending,
	)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// Update updates a job
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, payload = ?, attempts = ?, error_message = ?, started_at = ?,
			completed_at = ?, worker_id = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.Payload, job.Attempts, job.ErrorMessage, job.StartedAt,
		job.CompletedAt, job.WorkerID, job.UpdatedAt, job.ID,
	)
	return err
}

// ResetInProgress puts every in-progress job back to pending. Used at startup
// so work interrupted by a shutdown is delivered again.
func (r *JobRepository) ResetInProgress(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = NULL, worker_id = NULL, updated_at = ?
		WHERE status = ?`,
		models.JobStatusPending, time.Now(), models.JobStatusInProgress,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
