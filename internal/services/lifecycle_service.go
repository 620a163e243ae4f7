package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// DeepSyncer imports a repository with its languages and issues.
type DeepSyncer interface {
	DeepSyncRepository(ctx context.Context, repo *models.Repository, userID string) (*models.Repository, error)
}

// LifecycleService drives the add/remove state machine of repositories:
//
//	not_added -> adding -> added | add_failed
//	added -> removing -> not_added | remove_failed
//
// Requests flip the state optimistically and dispatch the work; the workers
// settle the state and notify the initiating user.
type LifecycleService struct {
	repositoryRepo *repositories.RepositoryRepository
	reconciler     *ReconcilerService
	deepSyncer     DeepSyncer
	dispatcher     Dispatcher
	notifier       Notifier
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	repositoryRepo *repositories.RepositoryRepository,
	reconciler *ReconcilerService,
	deepSyncer DeepSyncer,
	dispatcher Dispatcher,
	notifier Notifier,
) *LifecycleService {
	return &LifecycleService{
		repositoryRepo: repositoryRepo,
		reconciler:     reconciler,
		deepSyncer:     deepSyncer,
		dispatcher:     dispatcher,
		notifier:       notifier,
	}
}

func (s *LifecycleService) load(ctx context.Context, repositoryID, userID string) (*models.Repository, error) {
	repo, err := s.repositoryRepo.GetByID(ctx, repositoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", repositoryID, err)
	}

	ok, err := s.repositoryRepo.IsAccessibleBy(ctx, repositoryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check access to repository %s: %w", repositoryID, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return repo, nil
}

// transition moves repo from its current state to to, then dispatches the
// job. A lost race is a ConflictError; a failed dispatch restores the state.
func (s *LifecycleService) transition(ctx context.Context, repo *models.Repository, userID string, to models.RepositoryState, isAdded bool, jobType models.JobType) (string, error) {
	from := repo.State

	ok, err := s.repositoryRepo.CompareAndSetState(ctx, repo.ID, from, to, isAdded)
	if err != nil {
		return "", fmt.Errorf("failed to update repository state: %w", err)
	}
	if !ok {
		current := from
		if stored, err := s.repositoryRepo.GetByID(ctx, repo.ID); err == nil {
			current = stored.State
		}
		return "", &ConflictError{RepositoryID: repo.ID, State: current}
	}

	taskID, err := s.dispatcher.Dispatch(ctx, jobType, LifecyclePayload{RepositoryID: repo.ID, UserID: userID})
	if err != nil {
		if _, restoreErr := s.repositoryRepo.CompareAndSetState(ctx, repo.ID, to, from, repo.IsAdded); restoreErr != nil {
			logger.WithError(restoreErr).WithField("repository_id", repo.ID).Errorf("Failed to restore repository state")
		}
		return "", fmt.Errorf("failed to dispatch %s: %w", jobType, err)
	}

	logger.WithFields(logrus.Fields{
		"repository_id": repo.ID,
		"user_id":       userID,
		"from":          from,
		"to":            to,
		"task_id":       taskID,
	}).Info("Repository lifecycle transition")
	return taskID, nil
}

// Add starts importing a public repository. A repository in add_failed is
// added again from scratch.
func (s *LifecycleService) Add(ctx context.Context, repositoryID, userID string) (string, error) {
	repo, err := s.load(ctx, repositoryID, userID)
	if err != nil {
		return "", err
	}

	switch {
	case repo.State.InFlight():
		return "", &ConflictError{RepositoryID: repo.ID, State: repo.State}
	case repo.IsAdded:
		return "", &AlreadyAddedError{RepositoryID: repo.ID}
	case !repo.IsPublic():
		return "", &PrivateRepositoryError{RepositoryID: repo.ID, Visibility: repo.Visibility}
	}

	return s.transition(ctx, repo, userID, models.RepositoryStateAdding, true, models.JobTypeRepositoryAdd)
}

// Remove starts removing an added repository. A repository in remove_failed
// is removed again from scratch.
func (s *LifecycleService) Remove(ctx context.Context, repositoryID, userID string) (string, error) {
	repo, err := s.load(ctx, repositoryID, userID)
	if err != nil {
		return "", err
	}

	switch {
	case repo.State.InFlight():
		return "", &ConflictError{RepositoryID: repo.ID, State: repo.State}
	case !repo.IsAdded:
		return "", &NotAddedError{RepositoryID: repo.ID}
	}

	return s.transition(ctx, repo, userID, models.RepositoryStateRemoving, false, models.JobTypeRepositoryRemove)
}

// settle moves repo out of an in-flight state and notifies the user. It runs
// on a context detached from cancellation so a shutdown cannot strand the
// repository between states.
func (s *LifecycleService) settle(ctx context.Context, repo *models.Repository, userID string, from, to models.RepositoryState, isAdded bool, message string) error {
	ctx = context.WithoutCancel(ctx)

	ok, err := s.repositoryRepo.CompareAndSetState(ctx, repo.ID, from, to, isAdded)
	if err != nil {
		return &SettleError{RepositoryID: repo.ID, Err: err}
	}
	if !ok {
		logger.WithFields(logrus.Fields{"repository_id": repo.ID, "to": to}).Warnf("Repository left %s before settling", from)
		return nil
	}

	if userID == "" {
		return nil
	}
	repositoryID := repo.ID
	if err := s.notifier.Send(ctx, userID, Message{Message: message, RepositoryID: &repositoryID, State: to}); err != nil {
		logger.WithError(err).WithField("repository_id", repo.ID).Errorf("Failed to notify user %s", userID)
	}
	return nil
}

// pending returns the repository if it is still waiting in state, nil when
// the job is stale (repository gone or already settled by an earlier delivery).
func (s *LifecycleService) pending(ctx context.Context, repositoryID string, state models.RepositoryState) (*models.Repository, error) {
	repo, err := s.repositoryRepo.GetByID(context.WithoutCancel(ctx), repositoryID)
	if errors.Is(err, sql.ErrNoRows) {
		logger.WithField("repository_id", repositoryID).Warnf("Repository vanished before %s completed", state)
		return nil, nil
	}
	if err != nil {
		return nil, &SettleError{RepositoryID: repositoryID, Err: err}
	}
	if repo.State != state {
		logger.WithFields(logrus.Fields{"repository_id": repositoryID, "state": repo.State}).Infof("Skipping stale %s job", state)
		return nil, nil
	}
	return repo, nil
}

// CompleteAdd runs the deep sync of a repository being added and settles it
// as added or add_failed. A failure is reported to the user and returned.
func (s *LifecycleService) CompleteAdd(ctx context.Context, payload LifecyclePayload) error {
	repo, err := s.pending(ctx, payload.RepositoryID, models.RepositoryStateAdding)
	if err != nil || repo == nil {
		return err
	}

	synced, syncErr := s.deepSyncer.DeepSyncRepository(ctx, repo, payload.UserID)
	if syncErr != nil {
		if err := s.settle(ctx, repo, payload.UserID, models.RepositoryStateAdding, models.RepositoryStateAddFailed, false,
			addFailedMessage(repo, syncErr)); err != nil {
			return err
		}
		return syncErr
	}

	return s.settle(ctx, repo, payload.UserID, models.RepositoryStateAdding, models.RepositoryStateAdded, true,
		fmt.Sprintf("%s is added", synced.Name))
}

// CompleteRemove purges the imported issues of a repository being removed and
// settles it as not_added or remove_failed.
func (s *LifecycleService) CompleteRemove(ctx context.Context, payload LifecyclePayload) error {
	repo, err := s.pending(ctx, payload.RepositoryID, models.RepositoryStateRemoving)
	if err != nil || repo == nil {
		return err
	}

	if _, purgeErr := s.reconciler.DeleteRepositoryIssues(ctx, repo); purgeErr != nil {
		if err := s.settle(ctx, repo, payload.UserID, models.RepositoryStateRemoving, models.RepositoryStateRemoveFailed, true,
			removeFailedMessage(repo, purgeErr)); err != nil {
			return err
		}
		return purgeErr
	}

	return s.settle(ctx, repo, payload.UserID, models.RepositoryStateRemoving, models.RepositoryStateNotAdded, false,
		fmt.Sprintf("%s is removed", repo.Name))
}

// RecoverStranded settles every repository left adding or removing without a
// queued job as add_failed or remove_failed. Run at startup, before workers
// and requests can move lifecycle states.
func (s *LifecycleService) RecoverStranded(ctx context.Context) (int, error) {
	stranded, err := s.repositoryRepo.ListStranded(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stranded repositories: %w", err)
	}

	recovered := 0
	for _, st := range stranded {
		repo := st.Repository
		var settleErr error
		switch repo.State {
		case models.RepositoryStateAdding:
			settleErr = s.settle(ctx, repo, st.UserID, models.RepositoryStateAdding, models.RepositoryStateAddFailed, false,
				addFailedMessage(repo, errInterrupted))
		case models.RepositoryStateRemoving:
			settleErr = s.settle(ctx, repo, st.UserID, models.RepositoryStateRemoving, models.RepositoryStateRemoveFailed, true,
				removeFailedMessage(repo, errInterrupted))
		default:
			continue
		}
		if settleErr != nil {
			return recovered, settleErr
		}
		recovered++
		logger.WithFields(logrus.Fields{"repository_id": repo.ID, "state": repo.State}).Warn("Recovered stranded repository")
	}
	return recovered, nil
}

var errInterrupted = errors.New("interrupted before completion")

func addFailedMessage(repo *models.Repository, err error) string {
	return fmt.Sprintf("%s could not be added: %v", repo.Name, err)
}

func removeFailedMessage(repo *models.Repository, err error) string {
	return fmt.Sprintf("%s could not be removed: %v", repo.Name, err)
}
