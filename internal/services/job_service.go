package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/webhook"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Dispatcher queues work for the background workers and returns its task id.
// Delivery is at least once.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobType models.JobType, payload interface{}) (string, error)
}

// UserSyncPayload is the payload of a user_sync job
type UserSyncPayload struct {
	UserID string     `json:"user_id"`
	VCS    models.VCS `json:"vcs"`
}

// LifecyclePayload is the payload of repository_add and repository_remove jobs
type LifecyclePayload struct {
	RepositoryID string `json:"repository_id"`
	UserID       string `json:"user_id"`
}

// WebhookPayload is the payload of a webhook job: the verified delivery as received
type WebhookPayload struct {
	VCS      models.VCS       `json:"vcs"`
	Category webhook.Category `json:"category"`
	Body     json.RawMessage  `json:"body"`
}

// JobService handles job creation and management
type JobService struct {
	jobRepo *repositories.JobRepository
}

// NewJobService creates a new job service
func NewJobService(jobRepo *repositories.JobRepository) *JobService {
	return &JobService{jobRepo: jobRepo}
}

// Dispatch stores a pending job and returns its id
func (s *JobService) Dispatch(ctx context.Context, jobType models.JobType, payload interface{}) (string, error) {
	job, err := models.NewJob(jobType, payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", jobType, err)
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create %s job: %w", jobType, err)
	}

	logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": jobType,
	}).Debugf("Dispatched job")
	return job.ID, nil
}

// GetTask retrieves a job dispatched on behalf of userID. Jobs of other users
// and webhook jobs are reported as ErrNotFound.
func (s *JobService) GetTask(ctx context.Context, id, userID string) (*models.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var owner struct {
		UserID string `json:"user_id"`
	}
	if err := job.DecodePayload(&owner); err != nil || owner.UserID == "" || owner.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}
