package services

import (
	"context"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// RemoteSyncService imports a user's provider data through the reconciler.
// Bulk imports stop at the first record that fails: upserts already done
// stay committed.
type RemoteSyncService struct {
	credentials ClientProvider
	reconciler  *ReconcilerService
	accountRepo *repositories.VCSAccountRepository
	memberRepo  *repositories.MemberRepository
}

// NewRemoteSyncService creates a new remote sync service
func NewRemoteSyncService(
	credentials ClientProvider,
	reconciler *ReconcilerService,
	accountRepo *repositories.VCSAccountRepository,
	memberRepo *repositories.MemberRepository,
) *RemoteSyncService {
	return &RemoteSyncService{
		credentials: credentials,
		reconciler:  reconciler,
		accountRepo: accountRepo,
		memberRepo:  memberRepo,
	}
}

// resolveOwnership attaches a repository to its organization, making the
// account a member of it, or to the user when it has no organization.
func (s *RemoteSyncService) resolveOwnership(ctx context.Context, rec *vcs.RepositoryRecord, userID string, account *models.VCSAccount) (Ownership, error) {
	if rec.Organization == nil {
		return Ownership{OwnerID: &userID}, nil
	}

	org, _, err := s.reconciler.ResolveOrganization(ctx, rec.Provider, rec.Organization)
	if err != nil {
		return Ownership{}, err
	}
	if _, _, err := s.reconciler.EnsureMember(ctx, org.ID, account.ID); err != nil {
		return Ownership{}, err
	}
	return Ownership{OrganizationID: &org.ID}, nil
}

// UserRepositoriesSync imports every repository the user can see on provider
func (s *RemoteSyncService) UserRepositoriesSync(ctx context.Context, userID string, provider models.VCS) error {
	client, account, err := s.credentials.ClientFor(ctx, userID, provider)
	if err != nil {
		return &RemoteSyncError{VCS: provider, Operation: "repositories", Err: err}
	}

	records, err := client.ListUserRepositories(ctx)
	if err != nil {
		return &RemoteSyncError{VCS: provider, Operation: "repositories", Err: err}
	}

	for _, rec := range records {
		owner, err := s.resolveOwnership(ctx, rec, userID, account)
		if err != nil {
			return &RemoteSyncError{VCS: provider, Operation: "repositories", Err: err}
		}
		if _, _, err := s.reconciler.SyncRepository(ctx, rec, owner); err != nil {
			return &RemoteSyncError{VCS: provider, Operation: "repositories", Err: err}
		}
	}

	logger.WithFields(logrus.Fields{
		"user_id": userID,
		"vcs":     provider,
		"count":   len(records),
	}).Info("Synchronized user repositories")
	return nil
}

// UserOrganizationsSync imports the user's organizations and memberships
func (s *RemoteSyncService) UserOrganizationsSync(ctx context.Context, userID string, provider models.VCS) error {
	client, account, err := s.credentials.ClientFor(ctx, userID, provider)
	if err != nil {
		return &RemoteSyncError{VCS: provider, Operation: "organizations", Err: err}
	}

	records, err := client.ListUserOrganizations(ctx)
	if err != nil {
		return &RemoteSyncError{VCS: provider, Operation: "organizations", Err: err}
	}

	for _, rec := range records {
		org, _, err := s.reconciler.SyncOrganization(ctx, rec)
		if err != nil {
			return &RemoteSyncError{VCS: provider, Operation: "organizations", Err: err}
		}
		if _, _, err := s.reconciler.SyncMember(ctx, org.ID, account.ID, rec.IsAdmin); err != nil {
			return &RemoteSyncError{VCS: provider, Operation: "organizations", Err: err}
		}
	}

	logger.WithFields(logrus.Fields{
		"user_id": userID,
		"vcs":     provider,
		"count":   len(records),
	}).Info("Synchronized user organizations")
	return nil
}

// Sync imports repositories first, then organizations
func (s *RemoteSyncService) Sync(ctx context.Context, userID string, provider models.VCS) error {
	if err := s.UserRepositoriesSync(ctx, userID, provider); err != nil {
		return err
	}
	return s.UserOrganizationsSync(ctx, userID, provider)
}

// DeepSyncRepository re-fetches a repository with its languages using the
// credential of userID, then imports all of its open issues.
func (s *RemoteSyncService) DeepSyncRepository(ctx context.Context, repo *models.Repository, userID string) (*models.Repository, error) {
	client, account, err := s.credentials.ClientFor(ctx, userID, repo.VCS)
	if err != nil {
		return nil, err
	}

	rec, err := client.FetchRepository(ctx, repo.RemoteID)
	if err != nil {
		return nil, err
	}
	languages, err := client.FetchRepositoryLanguages(ctx, repo.RemoteID)
	if err != nil {
		return nil, err
	}
	rec.Languages = languages

	var owner Ownership
	if rec.Organization == nil && repo.OwnerID != nil {
		owner = Ownership{OwnerID: repo.OwnerID}
	} else if owner, err = s.resolveOwnership(ctx, rec, userID, account); err != nil {
		return nil, err
	}

	synced, _, err := s.reconciler.SyncRepository(ctx, rec, owner)
	if err != nil {
		return nil, err
	}

	issues, err := client.ListRepositoryIssues(ctx, repo.RemoteID)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		if _, _, err := s.reconciler.SyncIssue(ctx, synced, issue); err != nil {
			return nil, &RemoteSyncError{VCS: repo.VCS, Operation: "issues", Err: err}
		}
	}

	logger.WithFields(logrus.Fields{
		"repository_id": synced.ID,
		"vcs":           synced.VCS,
		"issues":        len(issues),
	}).Info("Deep synchronized repository")
	return synced, nil
}

// clientForRepository finds a credential able to read repo: its owner's, or
// one of its organization's members (admins first).
func (s *RemoteSyncService) clientForRepository(ctx context.Context, repo *models.Repository) (vcs.Client, error) {
	if repo.OwnerID != nil {
		client, _, err := s.credentials.ClientFor(ctx, *repo.OwnerID, repo.VCS)
		return client, err
	}

	if repo.OrganizationID != nil {
		members, err := s.memberRepo.ListByOrganization(ctx, *repo.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("failed to list members: %w", err)
		}
		for _, member := range members {
			account, err := s.accountRepo.GetByID(ctx, member.VCSAccountID)
			if err != nil || account.AccessToken == "" {
				continue
			}
			return s.credentials.ClientForAccount(ctx, account)
		}
	}

	return nil, &CredentialMissingError{VCS: repo.VCS}
}

// RefreshRepository re-fetches a stored repository's metadata from its
// provider. Stored languages and lifecycle state are kept.
func (s *RemoteSyncService) RefreshRepository(ctx context.Context, repo *models.Repository) (*models.Repository, error) {
	client, err := s.clientForRepository(ctx, repo)
	if err != nil {
		return nil, err
	}

	rec, err := client.FetchRepository(ctx, repo.RemoteID)
	if err != nil {
		return nil, err
	}

	owner := Ownership{OwnerID: repo.OwnerID, OrganizationID: repo.OrganizationID}
	if rec.Organization != nil {
		org, _, err := s.reconciler.ResolveOrganization(ctx, rec.Provider, rec.Organization)
		if err != nil {
			return nil, err
		}
		owner = Ownership{OrganizationID: &org.ID}
	} else if repo.OrganizationID != nil {
		// moved out of the organization into a user namespace we do not know
		owner = Ownership{}
	}

	synced, _, err := s.reconciler.SyncRepository(ctx, rec, owner)
	return synced, err
}
