package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
)

// RepositoryService reads the repositories visible to a user
type RepositoryService struct {
	repositoryRepo *repositories.RepositoryRepository
	issueRepo      *repositories.IssueRepository
}

// NewRepositoryService creates a new repository service
func NewRepositoryService(repositoryRepo *repositories.RepositoryRepository, issueRepo *repositories.IssueRepository) *RepositoryService {
	return &RepositoryService{
		repositoryRepo: repositoryRepo,
		issueRepo:      issueRepo,
	}
}

// ListForUser returns the repositories the user owns or reaches through an organization
func (s *RepositoryService) ListForUser(ctx context.Context, userID string) ([]*models.Repository, error) {
	repos, err := s.repositoryRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	return repos, nil
}

// ListIssues returns the imported issues of a repository the user can access
func (s *RepositoryService) ListIssues(ctx context.Context, repositoryID, userID string) ([]*models.Issue, error) {
	ok, err := s.repositoryRepo.IsAccessibleBy(ctx, repositoryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check access to repository %s: %w", repositoryID, err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	issues, err := s.issueRepo.ListByRepository(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	return issues, nil
}

// ListAdded returns the public repositories whose issues are imported,
// most starred first
func (s *RepositoryService) ListAdded(ctx context.Context) ([]*models.Repository, error) {
	repos, err := s.repositoryRepo.ListAdded(ctx, models.VisibilityPublic)
	if err != nil {
		return nil, fmt.Errorf("failed to list added repositories: %w", err)
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	return repos, nil
}

// ListAddedIssues returns the issues of an added public repository. Any other
// repository is reported as ErrNotFound.
func (s *RepositoryService) ListAddedIssues(ctx context.Context, repositoryID string) ([]*models.Issue, error) {
	repo, err := s.repositoryRepo.GetByID(ctx, repositoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", repositoryID, err)
	}
	if !repo.IsAdded || !repo.IsPublic() {
		return nil, ErrNotFound
	}

	issues, err := s.issueRepo.ListByRepository(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	return issues, nil
}
