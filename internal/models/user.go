package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser creates a new User with a generated UUID
func NewUser(username string) *User {
	return &User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now(),
	}
}
