package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a message delivered to a user about a background operation
type Notification struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Message      string          `json:"message"`
	RepositoryID *string         `json:"repository_id"`
	State        RepositoryState `json:"state"`
	ReadAt       *time.Time      `json:"read_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewNotification creates a new Notification with a generated UUID
func NewNotification(userID, message string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now(),
	}
}
