package repositories

import (
	"context"
	"database/sql"

	"github.com/alimgiray/openwiden/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

const userColumns = `id, username, name, email, avatar_url, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Name, &user.Email, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Name, user.Email, user.AvatarURL, user.CreatedAt,
	)
	return err
}

// Update updates the profile fields of a user
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, avatar_url = ? WHERE id = ?`,
		user.Name, user.Email, user.AvatarURL, user.ID,
	)
	return err
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}
