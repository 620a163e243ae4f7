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
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

type UserService struct {
	userRepo    *repositories.UserRepository
	accountRepo *repositories.VCSAccountRepository
	registry    *vcs.Registry
	dispatcher  Dispatcher
}

func NewUserService(
	userRepo *repositories.UserRepository,
	accountRepo *repositories.VCSAccountRepository,
	registry *vcs.Registry,
	dispatcher Dispatcher,
) *UserService {
	return &UserService{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		registry:    registry,
		dispatcher:  dispatcher,
	}
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return user, err
}

// LoginURL returns the provider authorization URL for state
func (s *UserService) LoginURL(provider models.VCS, state string) (string, error) {
	return s.registry.AuthCodeURL(provider, state)
}

// Authenticate completes an OAuth login: it exchanges the code, reads the
// provider profile, links the account and queues a sync of the user's data.
// currentUserID is the user already signed in, empty for anonymous logins.
func (s *UserService) Authenticate(ctx context.Context, provider models.VCS, code, currentUserID string) (*models.User, error) {
	token, err := s.registry.Exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	client, err := s.registry.Client(ctx, provider, token)
	if err != nil {
		return nil, err
	}
	profile, err := client.CurrentAccount(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.LinkAccount(ctx, currentUserID, profile, token)
	if err != nil {
		return nil, err
	}

	if _, err := s.dispatcher.Dispatch(ctx, models.JobTypeUserSync, UserSyncPayload{UserID: user.ID, VCS: provider}); err != nil {
		logger.WithError(err).WithField("user_id", user.ID).Errorf("Failed to queue user sync")
	}
	return user, nil
}

// LinkAccount attaches a provider identity to a user.
//
// A known identity is moved to the signed-in user, so one person who logged
// in through two providers ends up with a single user. An unknown identity
// of an anonymous visitor creates a new user named after the provider login.
func (s *UserService) LinkAccount(ctx context.Context, currentUserID string, profile *vcs.AccountRecord, token *oauth2.Token) (*models.User, error) {
	account, err := s.accountRepo.GetByRemoteID(ctx, profile.Provider, profile.RemoteID)
	switch {
	case err == nil:
		if currentUserID != "" && account.UserID != currentUserID {
			account.UserID = currentUserID
		}
		account.Login = profile.Login
		account.SetToken(token)
		if err := s.accountRepo.Update(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to update %s account: %w", profile.Provider, err)
		}
		return s.GetUserByID(ctx, account.UserID)

	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to get %s account: %w", profile.Provider, err)
	}

	var user *models.User
	if currentUserID != "" {
		if user, err = s.GetUserByID(ctx, currentUserID); err != nil {
			return nil, err
		}
	} else if user, err = s.createUser(ctx, profile); err != nil {
		return nil, err
	}

	account = models.NewVCSAccount(user.ID, profile.Provider, profile.RemoteID, profile.Login)
	account.SetToken(token)
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create %s account: %w", profile.Provider, err)
	}

	logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"vcs":     profile.Provider,
		"login":   profile.Login,
	}).Info("Linked VCS account")
	return user, nil
}

func (s *UserService) createUser(ctx context.Context, profile *vcs.AccountRecord) (*models.User, error) {
	username := profile.Login
	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		username = fmt.Sprintf("%s_%s", profile.Login, uuid.New().String()[:8])
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	user := models.NewUser(username)
	user.Name = profile.Name
	user.Email = profile.Email
	user.AvatarURL = profile.AvatarURL
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// RequestSync queues a sync of every provider account linked to the user
func (s *UserService) RequestSync(ctx context.Context, userID string) ([]string, error) {
	accounts, err := s.accountRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, &CredentialMissingError{UserID: userID}
	}

	taskIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		taskID, err := s.dispatcher.Dispatch(ctx, models.JobTypeUserSync, UserSyncPayload{UserID: userID, VCS: account.VCS})
		if err != nil {
			return taskIDs, fmt.Errorf("failed to queue %s sync: %w", account.VCS, err)
		}
		taskIDs = append(taskIDs, taskID)
	}
	return taskIDs, nil
}
