package models

import (
	"time"

	"github.com/google/uuid"
)

// Repository is a provider repository imported into openwiden
type Repository struct {
	ID              string             `json:"id"`
	VCS             VCS                `json:"vcs"`
	RemoteID        int64              `json:"remote_id"`
	Name            string             `json:"name"`
	URL             string             `json:"url"`
	Description     *string            `json:"description"`
	OwnerID         *string            `json:"owner_id"`
	OrganizationID  *string            `json:"organization_id"`
	StarCount       int                `json:"star_count"`
	OpenIssueCount  int                `json:"open_issue_count"`
	ForkCount       int                `json:"fork_count"`
	Languages       map[string]float64 `json:"programming_languages"`
	Visibility      Visibility         `json:"visibility"`
	RemoteCreatedAt time.Time          `json:"created_at"`
	RemoteUpdatedAt time.Time          `json:"updated_at"`
	IsAdded         bool               `json:"is_added"`
	State           RepositoryState    `json:"state"`
	CreatedAt       time.Time          `json:"-"`
	UpdatedAt       time.Time          `json:"-"`
}

// NewRepository creates a new not-added Repository with a generated UUID
func NewRepository(vcs VCS, remoteID int64) *Repository {
	now := time.Now()
	return &Repository{
		ID:        uuid.New().String(),
		VCS:       vcs,
		RemoteID:  remoteID,
		Languages: map[string]float64{},
		IsAdded:   false,
		State:     RepositoryStateNotAdded,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPublic checks if the repository is publicly visible
func (r *Repository) IsPublic() bool {
	return r.Visibility == VisibilityPublic
}

// HasOwner reports whether the repository is attributed to a user
func (r *Repository) HasOwner() bool {
	return r.OwnerID != nil
}

// HasOrganization reports whether the repository is attributed to an organization
func (r *Repository) HasOrganization() bool {
	return r.OrganizationID != nil
}
