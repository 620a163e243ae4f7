package services

import (
	"context"
	"fmt"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/pkg/logger"
)

// SchedulerService queues a daily sync of every linked account so data
// missed by webhooks is caught up
type SchedulerService struct {
	accountRepo *repositories.VCSAccountRepository
	dispatcher  Dispatcher
	hour        int
}

// NewSchedulerService creates a scheduler firing at hour (0-23). A negative
// hour disables it.
func NewSchedulerService(accountRepo *repositories.VCSAccountRepository, dispatcher Dispatcher, hour int) *SchedulerService {
	return &SchedulerService{
		accountRepo: accountRepo,
		dispatcher:  dispatcher,
		hour:        hour,
	}
}

// StartScheduler starts the automatic resync loop. It returns once ctx is done.
func (s *SchedulerService) StartScheduler(ctx context.Context) {
	if s.hour < 0 || s.hour > 23 {
		logger.Info("Automatic resync disabled")
		return
	}

	go func() {
		for {
			now := time.Now()
			if now.Hour() == s.hour {
				if count, err := s.ScheduleResync(ctx); err != nil {
					logger.WithError(err).Errorf("Error scheduling automatic resync")
				} else {
					logger.Infof("Scheduled automatic resync of %d accounts", count)
				}
			}

			// Sleep until the next hour
			nextHour := now.Add(1 * time.Hour)
			nextHour = time.Date(nextHour.Year(), nextHour.Month(), nextHour.Day(), nextHour.Hour(), 0, 0, 0, nextHour.Location())
			timer := time.NewTimer(nextHour.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// ScheduleResync queues a user_sync job for every account holding a token
// and returns how many were queued
func (s *SchedulerService) ScheduleResync(ctx context.Context) (int, error) {
	accounts, err := s.accountRepo.ListWithToken(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	queued := 0
	for _, account := range accounts {
		payload := UserSyncPayload{UserID: account.UserID, VCS: account.VCS}
		if _, err := s.dispatcher.Dispatch(ctx, models.JobTypeUserSync, payload); err != nil {
			logger.WithError(err).WithField("user_id", account.UserID).Errorf("Failed to queue %s resync", account.VCS)
			continue
		}
		queued++
	}
	return queued, nil
}
