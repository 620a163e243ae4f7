package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	JobTypeUserSync         JobType = "user_sync"
	JobTypeRepositoryAdd    JobType = "repository_add"
	JobTypeRepositoryRemove JobType = "repository_remove"
	JobTypeWebhook          JobType = "webhook"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in-progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents a background job. Payload holds the JSON encoded arguments
// of the dispatched call.
type Job struct {
	ID           string     `json:"id"`
	JobType      JobType    `json:"job_type"`
	Status       JobStatus  `json:"status"`
	Payload      string     `json:"payload"`
	Attempts     int        `json:"attempts"`
	ErrorMessage *string    `json:"error_message"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	WorkerID     *string    `json:"worker_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewJob creates a new Job with a generated UUID and a JSON encoded payload
func NewJob(jobType JobType, payload interface{}) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		JobType:   jobType,
		Status:    JobStatusPending,
		Payload:   string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v interface{}) error {
	return json.Unmarshal([]byte(j.Payload), v)
}

// IsPending checks if the job is pending
func (j *Job) IsPending() bool {
	return j.Status == JobStatusPending
}

// IsInProgress checks if the job is in progress
func (j *Job) IsInProgress() bool {
	return j.Status == JobStatusInProgress
}

// IsCompleted checks if the job is completed
func (j *Job) IsCompleted() bool {
	return j.Status == JobStatusCompleted
}

// IsFailed checks if the job is failed
func (j *Job) IsFailed() bool {
	return j.Status == JobStatusFailed
}

// MarkStarted marks the job as started by the given worker
func (j *Job) MarkStarted(workerID string) {
	now := time.Now()
	j.Status = JobStatusInProgress
	j.StartedAt = &now
	j.WorkerID = &workerID
	j.Attempts++
}

// MarkCompleted marks the job as completed
func (j *Job) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.ErrorMessage = nil
}

// MarkFailed marks the job as failed
func (j *Job) MarkFailed() {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
}

// MarkRetry puts the job back in the queue
func (j *Job) MarkRetry() {
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.WorkerID = nil
}

// SetError sets an error message for the job
func (j *Job) SetError(message string) {
	j.ErrorMessage = &message
}
