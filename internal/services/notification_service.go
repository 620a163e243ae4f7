package services

import (
	"context"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Message is the content of a notification about a repository operation
type Message struct {
	Message      string
	RepositoryID *string
	State        models.RepositoryState
}

// Notifier delivers messages to users.
type Notifier interface {
	Send(ctx context.Context, userID string, msg Message) error
}

// NotificationService stores notifications for users to poll
type NotificationService struct {
	notificationRepo *repositories.NotificationRepository
}

// NewNotificationService creates a new notification service
func NewNotificationService(notificationRepo *repositories.NotificationRepository) *NotificationService {
	return &NotificationService{notificationRepo: notificationRepo}
}

// Send stores a notification for userID
func (s *NotificationService) Send(ctx context.Context, userID string, msg Message) error {
	notification := models.NewNotification(userID, msg.Message)
	notification.RepositoryID = msg.RepositoryID
	notification.State = msg.State

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"repository_id": msg.RepositoryID,
		"state":         msg.State,
	}).Info(msg.Message)
	return nil
}

// List returns the notifications of a user, newest first
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	notifications, err := s.notificationRepo.ListByUser(ctx, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	return notifications, nil
}

// MarkRead marks every notification of a user as read
func (s *NotificationService) MarkRead(ctx context.Context, userID string) error {
	if _, err := s.notificationRepo.MarkRead(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}
