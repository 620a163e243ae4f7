package workers

import (
	"context"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/services"
)

// UserSyncer imports a user's repositories and organizations
type UserSyncer interface {
	Sync(ctx context.Context, userID string, provider models.VCS) error
}

// LifecycleCompleter finishes repository add and remove requests
type LifecycleCompleter interface {
	CompleteAdd(ctx context.Context, payload services.LifecyclePayload) error
	CompleteRemove(ctx context.Context, payload services.LifecyclePayload) error
}

// WebhookHandler applies a stored webhook delivery
type WebhookHandler interface {
	Handle(ctx context.Context, payload services.WebhookPayload) error
}

// NewHandlers binds every job type to the service call it stands for
func NewHandlers(syncer UserSyncer, lifecycle LifecycleCompleter, webhooks WebhookHandler) map[models.JobType]Handler {
	return map[models.JobType]Handler{
		models.JobTypeUserSync: func(ctx context.Context, job *models.Job) error {
			var payload services.UserSyncPayload
			if err := job.DecodePayload(&payload); err != nil {
				return fmt.Errorf("decoding payload: %w", err)
			}
			return syncer.Sync(ctx, payload.UserID, payload.VCS)
		},
		models.JobTypeRepositoryAdd: func(ctx context.Context, job *models.Job) error {
			var payload services.LifecyclePayload
			if err := job.DecodePayload(&payload); err != nil {
				return fmt.Errorf("decoding payload: %w", err)
			}
			return lifecycle.CompleteAdd(ctx, payload)
		},
		models.JobTypeRepositoryRemove: func(ctx context.Context, job *models.Job) error {
			var payload services.LifecyclePayload
			if err := job.DecodePayload(&payload); err != nil {
				return fmt.Errorf("decoding payload: %w", err)
			}
			return lifecycle.CompleteRemove(ctx, payload)
		},
		models.JobTypeWebhook: func(ctx context.Context, job *models.Job) error {
			var payload services.WebhookPayload
			if err := job.DecodePayload(&payload); err != nil {
				return fmt.Errorf("decoding payload: %w", err)
			}
			return webhooks.Handle(ctx, payload)
		},
	}
}
