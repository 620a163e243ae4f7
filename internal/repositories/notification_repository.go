package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

const notificationColumns = `id, user_id, message, repository_id, state, read_at, created_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Message, n.RepositoryID, n.State, n.ReadAt, n.CreatedAt,
	)
	return err
}

// ListByUser retrieves notifications of a user, newest first.
// When unreadOnly is set, notifications already read are skipped.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.RepositoryID, &n.State, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead marks every unread notification of a user as read
func (r *NotificationRepository) MarkRead(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at IS NULL`, time.Now(), userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
