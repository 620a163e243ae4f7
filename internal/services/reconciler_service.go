package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// ReconcilerService is the only writer of provider-sourced records. Every
// upsert is keyed on the natural identity of the record, serialized per key
// and reports whether it created the row.
type ReconcilerService struct {
	repositoryRepo   *repositories.RepositoryRepository
	organizationRepo *repositories.OrganizationRepository
	memberRepo       *repositories.MemberRepository
	issueRepo        *repositories.IssueRepository
	locks            *keyLock
}

// NewReconcilerService creates a new reconciler service
func NewReconcilerService(
	repositoryRepo *repositories.RepositoryRepository,
	organizationRepo *repositories.OrganizationRepository,
	memberRepo *repositories.MemberRepository,
	issueRepo *repositories.IssueRepository,
) *ReconcilerService {
	return &ReconcilerService{
		repositoryRepo:   repositoryRepo,
		organizationRepo: organizationRepo,
		memberRepo:       memberRepo,
		issueRepo:        issueRepo,
		locks:            newKeyLock(),
	}
}

// Ownership attributes a repository to a user or to an organization, never both.
type Ownership struct {
	OwnerID        *string
	OrganizationID *string
}

func validateRepositoryRecord(rec *vcs.RepositoryRecord, owner Ownership) error {
	switch {
	case rec == nil:
		return &ValidationError{Field: "repository", Message: "missing record"}
	case !rec.Provider.IsValid():
		return &ValidationError{Field: "vcs", Message: fmt.Sprintf("unknown provider %q", rec.Provider)}
	case rec.RemoteID <= 0:
		return &ValidationError{Field: "remote_id", Message: "must be positive"}
	case strings.TrimSpace(rec.Name) == "":
		return &ValidationError{Field: "name", Message: "must not be empty"}
	case !rec.Visibility.IsValid():
		return &ValidationError{Field: "visibility", Message: fmt.Sprintf("unknown visibility %q", rec.Visibility)}
	case owner.OwnerID != nil && owner.OrganizationID != nil:
		return &ValidationError{Field: "owner", Message: "repository cannot have both an owner and an organization"}
	}
	return nil
}

// SyncRepository creates or overwrites the repository identified by
// (provider, remote id). Lifecycle fields of an existing row are preserved.
func (s *ReconcilerService) SyncRepository(ctx context.Context, rec *vcs.RepositoryRecord, owner Ownership) (*models.Repository, bool, error) {
	if err := validateRepositoryRecord(rec, owner); err != nil {
		return nil, false, err
	}

	repo := models.NewRepository(rec.Provider, rec.RemoteID)
	repo.Name = rec.Name
	repo.URL = rec.URL
	repo.Description = rec.Description
	repo.OwnerID = owner.OwnerID
	repo.OrganizationID = owner.OrganizationID
	repo.StarCount = rec.StarCount
	repo.OpenIssueCount = rec.OpenIssueCount
	repo.ForkCount = rec.ForkCount
	repo.Languages = rec.Languages
	repo.Visibility = rec.Visibility
	repo.RemoteCreatedAt = rec.CreatedAt
	repo.RemoteUpdatedAt = rec.UpdatedAt

	unlock := s.locks.Lock(fmt.Sprintf("repository:%s:%d", rec.Provider, rec.RemoteID))
	created, err := s.repositoryRepo.Sync(ctx, repo)
	unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync repository %s/%d: %w", rec.Provider, rec.RemoteID, err)
	}

	logger.WithFields(logrus.Fields{
		"vcs":           rec.Provider,
		"remote_id":     rec.RemoteID,
		"repository_id": repo.ID,
		"created":       created,
	}).Debugf("Synced repository %s", repo.Name)

	return repo, created, nil
}

// SyncOrganization creates or fully overwrites an organization
func (s *ReconcilerService) SyncOrganization(ctx context.Context, rec *vcs.OrganizationRecord) (*models.Organization, bool, error) {
	if rec == nil || !rec.Provider.IsValid() || rec.RemoteID <= 0 || strings.TrimSpace(rec.Name) == "" {
		return nil, false, &ValidationError{Field: "organization", Message: "provider, remote id and name are required"}
	}

	org := models.NewOrganization(rec.Provider, rec.RemoteID, rec.Name)
	org.Description = rec.Description
	org.URL = rec.URL
	org.AvatarURL = rec.AvatarURL
	org.RemoteCreatedAt = rec.CreatedAt
	if rec.Visibility.IsValid() {
		org.Visibility = rec.Visibility
	}

	unlock := s.locks.Lock(fmt.Sprintf("organization:%s:%d", rec.Provider, rec.RemoteID))
	created, err := s.organizationRepo.Sync(ctx, org)
	unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync organization %s/%d: %w", rec.Provider, rec.RemoteID, err)
	}
	return org, created, nil
}

// ResolveOrganization creates the organization a repository belongs to, or
// renames the stored one. Fields only known from the organization listing
// are left untouched.
func (s *ReconcilerService) ResolveOrganization(ctx context.Context, provider models.VCS, owner *vcs.OwnerOrganization) (*models.Organization, bool, error) {
	if owner == nil || owner.RemoteID <= 0 || strings.TrimSpace(owner.Name) == "" {
		return nil, false, &ValidationError{Field: "organization", Message: "remote id and name are required"}
	}

	org := models.NewOrganization(provider, owner.RemoteID, owner.Name)

	unlock := s.locks.Lock(fmt.Sprintf("organization:%s:%d", provider, owner.RemoteID))
	created, err := s.organizationRepo.SyncName(ctx, org)
	unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve organization %s/%d: %w", provider, owner.RemoteID, err)
	}
	return org, created, nil
}

// SyncMember creates a membership or overwrites its admin flag
func (s *ReconcilerService) SyncMember(ctx context.Context, organizationID, vcsAccountID string, isAdmin bool) (*models.Member, bool, error) {
	member := models.NewMember(organizationID, vcsAccountID, isAdmin)

	unlock := s.locks.Lock("member:" + organizationID + ":" + vcsAccountID)
	created, err := s.memberRepo.Sync(ctx, member)
	unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync member: %w", err)
	}
	return member, created, nil
}

// EnsureMember creates a non-admin membership unless one already exists
func (s *ReconcilerService) EnsureMember(ctx context.Context, organizationID, vcsAccountID string) (*models.Member, bool, error) {
	member := models.NewMember(organizationID, vcsAccountID, false)

	unlock := s.locks.Lock("member:" + organizationID + ":" + vcsAccountID)
	created, err := s.memberRepo.Ensure(ctx, member)
	unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure member: %w", err)
	}
	return member, created, nil
}

func validateIssueRecord(rec *vcs.IssueRecord) error {
	switch {
	case rec == nil:
		return &ValidationError{Field: "issue", Message: "missing record"}
	case rec.RemoteID <= 0:
		return &ValidationError{Field: "remote_id", Message: "must be positive"}
	case strings.TrimSpace(rec.Title) == "":
		return &ValidationError{Field: "title", Message: "must not be empty"}
	case !rec.State.IsValid():
		return &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", rec.State)}
	case rec.CreatedAt.IsZero():
		return &ValidationError{Field: "created_at", Message: "missing timestamp"}
	case rec.UpdatedAt.IsZero():
		return &ValidationError{Field: "updated_at", Message: "missing timestamp"}
	case rec.ClosedAt != nil && rec.ClosedAt.Before(rec.CreatedAt):
		return &ValidationError{Field: "closed_at", Message: "before created_at"}
	}
	return nil
}

// SyncIssue validates the record and creates or overwrites the issue of repo
// identified by the record's remote id. An invalid record writes nothing.
func (s *ReconcilerService) SyncIssue(ctx context.Context, repo *models.Repository, rec *vcs.IssueRecord) (*models.Issue, bool, error) {
	if err := validateIssueRecord(rec); err != nil {
		return nil, false, err
	}

	issue := models.NewIssue(repo.ID, rec.RemoteID)
	issue.Title = rec.Title
	issue.Description = rec.Description
	issue.State = rec.State
	issue.URL = rec.URL
	issue.RemoteCreatedAt = rec.CreatedAt
	issue.RemoteUpdatedAt = rec.UpdatedAt
	issue.ClosedAt = rec.ClosedAt
	if rec.Labels != nil {
		issue.Labels = rec.Labels
	}

	unlock := s.locks.Lock(fmt.Sprintf("issue:%s:%d", repo.ID, rec.RemoteID))
	created, err := s.issueRepo.Sync(ctx, issue)
	unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync issue %d of repository %s: %w", rec.RemoteID, repo.ID, err)
	}
	return issue, created, nil
}

// DeleteIssueByRemoteID deletes an issue of repo. Deleting a missing issue is a no-op.
func (s *ReconcilerService) DeleteIssueByRemoteID(ctx context.Context, repo *models.Repository, remoteID int64) error {
	unlock := s.locks.Lock(fmt.Sprintf("issue:%s:%d", repo.ID, remoteID))
	deleted, err := s.issueRepo.DeleteByRemoteID(ctx, repo.ID, remoteID)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to delete issue %d: %w", remoteID, err)
	}
	if deleted == 0 {
		logger.WithFields(logrus.Fields{"repository_id": repo.ID, "remote_id": remoteID}).Debugf("Issue already absent")
	}
	return nil
}

// DeleteRepositoryByRemoteID deletes a repository and its issues. Deleting a
// missing repository is a no-op.
func (s *ReconcilerService) DeleteRepositoryByRemoteID(ctx context.Context, provider models.VCS, remoteID int64) error {
	unlock := s.locks.Lock(fmt.Sprintf("repository:%s:%d", provider, remoteID))
	deleted, err := s.repositoryRepo.DeleteByRemoteID(ctx, provider, remoteID)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to delete repository %s/%d: %w", provider, remoteID, err)
	}
	logger.WithFields(logrus.Fields{"vcs": provider, "remote_id": remoteID, "deleted": deleted}).Info("Deleted repository")
	return nil
}

// DeleteRepositoryIssues purges every imported issue of repo
func (s *ReconcilerService) DeleteRepositoryIssues(ctx context.Context, repo *models.Repository) (int64, error) {
	deleted, err := s.issueRepo.DeleteByRepository(ctx, repo.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete issues of repository %s: %w", repo.ID, err)
	}
	return deleted, nil
}

// GetRepositoryByRemoteID returns the stored repository or ErrNotFound
func (s *ReconcilerService) GetRepositoryByRemoteID(ctx context.Context, provider models.VCS, remoteID int64) (*models.Repository, error) {
	repo, err := s.repositoryRepo.GetByRemoteID(ctx, provider, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s/%d: %w", provider, remoteID, err)
	}
	return repo, nil
}
