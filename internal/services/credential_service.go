package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/alimgiray/openwiden/pkg/logger"
)

// ClientProvider hands out provider clients bound to a stored credential.
type ClientProvider interface {
	ClientFor(ctx context.Context, userID string, provider models.VCS) (vcs.Client, *models.VCSAccount, error)
	ClientForAccount(ctx context.Context, account *models.VCSAccount) (vcs.Client, error)
}

// CredentialService resolves a user's linked VCS account into a provider
// client, refreshing and persisting expired tokens on the way.
type CredentialService struct {
	accountRepo *repositories.VCSAccountRepository
	registry    *vcs.Registry
}

// NewCredentialService creates a new credential service
func NewCredentialService(accountRepo *repositories.VCSAccountRepository, registry *vcs.Registry) *CredentialService {
	return &CredentialService{
		accountRepo: accountRepo,
		registry:    registry,
	}
}

// Account returns the VCS account a user linked for provider
func (s *CredentialService) Account(ctx context.Context, userID string, provider models.VCS) (*models.VCSAccount, error) {
	account, err := s.accountRepo.GetByUserAndVCS(ctx, userID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &CredentialMissingError{UserID: userID, VCS: provider}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s account of user %s: %w", provider, userID, err)
	}
	if account.AccessToken == "" {
		return nil, &CredentialMissingError{UserID: userID, VCS: provider}
	}
	return account, nil
}

// ClientFor builds a client for the account a user linked for provider
func (s *CredentialService) ClientFor(ctx context.Context, userID string, provider models.VCS) (vcs.Client, *models.VCSAccount, error) {
	account, err := s.Account(ctx, userID, provider)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.ClientForAccount(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return client, account, nil
}

// ClientForAccount builds a client for a stored account
func (s *CredentialService) ClientForAccount(ctx context.Context, account *models.VCSAccount) (vcs.Client, error) {
	token := account.Token()
	fresh, err := s.registry.Token(ctx, account.VCS, token)
	if err != nil {
		return nil, err
	}

	if fresh.AccessToken != token.AccessToken {
		account.SetToken(fresh)
		if err := s.accountRepo.Update(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to store refreshed token: %w", err)
		}
		logger.WithField("vcs_account_id", account.ID).Info("Refreshed provider token")
	}

	return s.registry.Client(ctx, account.VCS, fresh)
}
