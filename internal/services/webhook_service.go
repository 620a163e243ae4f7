package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/webhook"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Refresher re-fetches a stored repository from its provider.
type Refresher interface {
	RefreshRepository(ctx context.Context, repo *models.Repository) (*models.Repository, error)
}

// WebhookService applies interpreted webhook deliveries through the reconciler
type WebhookService struct {
	reconciler *ReconcilerService
	refresher  Refresher
}

// NewWebhookService creates a new webhook service
func NewWebhookService(reconciler *ReconcilerService, refresher Refresher) *WebhookService {
	return &WebhookService{
		reconciler: reconciler,
		refresher:  refresher,
	}
}

// Handle interprets a stored delivery and applies it
func (s *WebhookService) Handle(ctx context.Context, payload WebhookPayload) error {
	directive, err := webhook.Interpret(payload.VCS, payload.Category, payload.Body)
	if err != nil {
		return fmt.Errorf("failed to interpret %s %s webhook: %w", payload.VCS, payload.Category, err)
	}
	return s.Apply(ctx, directive)
}

// Apply performs the reconciler operation a directive asks for. Events about
// repositories that are not stored locally are skipped where nothing can be done.
func (s *WebhookService) Apply(ctx context.Context, d *webhook.Directive) error {
	log := logger.WithFields(logrus.Fields{
		"vcs":       d.VCS,
		"kind":      d.Kind,
		"action":    d.Action,
		"remote_id": d.RepositoryRemoteID,
	})

	switch d.Kind {
	case webhook.KindIgnore:
		return nil

	case webhook.KindDeleteRepository:
		return s.reconciler.DeleteRepositoryByRemoteID(ctx, d.VCS, d.RepositoryRemoteID)

	case webhook.KindSyncRepository:
		return s.syncRepository(ctx, d)

	case webhook.KindRefreshRepository:
		repo, err := s.stored(ctx, d)
		if err != nil || repo == nil {
			return err
		}
		_, err = s.refresher.RefreshRepository(ctx, repo)
		return err

	case webhook.KindSyncIssue:
		repo, err := s.stored(ctx, d)
		if err != nil || repo == nil {
			return err
		}
		if !repo.IsAdded {
			log.Info("Skipping issue of a repository that is not added")
			return nil
		}
		_, _, err = s.reconciler.SyncIssue(ctx, repo, d.Issue)
		return err

	case webhook.KindDeleteIssue:
		repo, err := s.stored(ctx, d)
		if err != nil || repo == nil {
			return err
		}
		return s.reconciler.DeleteIssueByRemoteID(ctx, repo, d.IssueRemoteID)
	}

	return fmt.Errorf("unknown webhook directive %q", d.Kind)
}

// stored returns the repository a directive refers to, nil when it is unknown
func (s *WebhookService) stored(ctx context.Context, d *webhook.Directive) (*models.Repository, error) {
	repo, err := s.reconciler.GetRepositoryByRemoteID(ctx, d.VCS, d.RepositoryRemoteID)
	if errors.Is(err, ErrNotFound) {
		logger.WithFields(logrus.Fields{
			"vcs":       d.VCS,
			"remote_id": d.RepositoryRemoteID,
			"kind":      d.Kind,
		}).Info("Skipping webhook for unknown repository")
		return nil, nil
	}
	return repo, err
}

// syncRepository upserts the repository carried by a webhook. The payload
// says nothing about local users, so a user owner is taken from the stored row.
func (s *WebhookService) syncRepository(ctx context.Context, d *webhook.Directive) error {
	if d.Repository == nil {
		return &ValidationError{Field: "repository", Message: "missing record"}
	}

	var owner Ownership
	existing, err := s.reconciler.GetRepositoryByRemoteID(ctx, d.VCS, d.RepositoryRemoteID)
	switch {
	case err == nil:
		owner = Ownership{OwnerID: existing.OwnerID, OrganizationID: existing.OrganizationID}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if d.Repository.Organization != nil {
		org, _, err := s.reconciler.ResolveOrganization(ctx, d.VCS, d.Repository.Organization)
		if err != nil {
			return err
		}
		owner = Ownership{OrganizationID: &org.ID}
	} else if owner.OrganizationID != nil {
		owner.OrganizationID = nil
	}

	_, _, err = s.reconciler.SyncRepository(ctx, d.Repository, owner)
	return err
}
