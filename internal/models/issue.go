package models

import (
	"time"

	"github.com/google/uuid"
)

// Issue is a provider issue belonging to exactly one repository
type Issue struct {
	ID              string     `json:"id"`
	RepositoryID    string     `json:"repository_id"`
	RemoteID        int64      `json:"remote_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	State           IssueState `json:"state"`
	Labels          []string   `json:"labels"`
	URL             string     `json:"url"`
	RemoteCreatedAt time.Time  `json:"created_at"`
	RemoteUpdatedAt time.Time  `json:"updated_at"`
	ClosedAt        *time.Time `json:"closed_at"`
	CreatedAt       time.Time  `json:"-"`
	UpdatedAt       time.Time  `json:"-"`
}

// NewIssue creates a new Issue with a generated UUID
func NewIssue(repositoryID string, remoteID int64) *Issue {
	now := time.Now()
	return &Issue{
		ID:           uuid.New().String(),
		RepositoryID: repositoryID,
		RemoteID:     remoteID,
		Labels:       []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
