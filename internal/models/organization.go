package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a provider organization (GitHub org, GitLab group)
type Organization struct {
	ID              string     `json:"id"`
	VCS             VCS        `json:"vcs"`
	RemoteID        int64      `json:"remote_id"`
	Name            string     `json:"name"`
	Description     *string    `json:"description"`
	URL             string     `json:"url"`
	AvatarURL       string     `json:"avatar_url"`
	Visibility      Visibility `json:"visibility"`
	RemoteCreatedAt *time.Time `json:"created_at"`
	CreatedAt       time.Time  `json:"-"`
	UpdatedAt       time.Time  `json:"-"`
}

// NewOrganization creates a new Organization with a generated UUID
func NewOrganization(vcs VCS, remoteID int64, name string) *Organization {
	now := time.Now()
	return &Organization{
		ID:         uuid.New().String(),
		VCS:        vcs,
		RemoteID:   remoteID,
		Name:       name,
		Visibility: VisibilityPublic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Member links a VCS account to an organization
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	VCSAccountID   string    `json:"vcs_account_id"`
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// NewMember creates a new Member with a generated UUID
func NewMember(organizationID, vcsAccountID string, isAdmin bool) *Member {
	now := time.Now()
	return &Member{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		VCSAccountID:   vcsAccountID,
		IsAdmin:        isAdmin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
