package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

const vcsAccountColumns = `
	id, user_id, vcs, remote_id, login, access_token, token_type, refresh_token,
	expires_at, created_at, updated_at`

type VCSAccountRepository struct {
	db *sql.DB
}

func NewVCSAccountRepository(db *sql.DB) *VCSAccountRepository {
	return &VCSAccountRepository{db: db}
}

func scanVCSAccount(row rowScanner) (*models.VCSAccount, error) {
	account := &models.VCSAccount{}
	err := row.Scan(
		&account.ID, &account.UserID, &account.VCS, &account.RemoteID, &account.Login,
		&account.AccessToken, &account.TokenType, &account.RefreshToken, &account.ExpiresAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Create creates a new VCS account
func (r *VCSAccountRepository) Create(ctx context.Context, account *models.VCSAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vcs_accounts (`+vcsAccountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.UserID, account.VCS, account.RemoteID, account.Login,
		account.AccessToken, account.TokenType, account.RefreshToken, account.ExpiresAt,
		account.CreatedAt, account.UpdatedAt,
	)
	return err
}

// Update updates owner, login and credential of a VCS account
func (r *VCSAccountRepository) Update(ctx context.Context, account *models.VCSAccount) error {
	account.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE vcs_accounts SET
			user_id = ?, login = ?, access_token = ?, token_type = ?, refresh_token = ?,
			expires_at = ?, updated_at = ?
		WHERE id = ?`,
		account.UserID, account.Login, account.AccessToken, account.TokenType, account.RefreshToken,
		account.ExpiresAt, account.UpdatedAt, account.ID,
	)
	return err
}

// GetByID retrieves a VCS account by ID
func (r *VCSAccountRepository) GetByID(ctx context.Context, id string) (*models.VCSAccount, error) {
	return scanVCSAccount(r.db.QueryRowContext(ctx,
		`SELECT `+vcsAccountColumns+` FROM vcs_accounts WHERE id = ?`, id))
}

// GetByRemoteID retrieves a VCS account by its provider identity
func (r *VCSAccountRepository) GetByRemoteID(ctx context.Context, vcs models.VCS, remoteID int64) (*models.VCSAccount, error) {
	return scanVCSAccount(r.db.QueryRowContext(ctx,
		`SELECT `+vcsAccountColumns+` FROM vcs_accounts WHERE vcs = ? AND remote_id = ?`, vcs, remoteID))
}

// GetByUserAndVCS retrieves the account a user linked for a provider
func (r *VCSAccountRepository) GetByUserAndVCS(ctx context.Context, userID string, vcs models.VCS) (*models.VCSAccount, error) {
	return scanVCSAccount(r.db.QueryRowContext(ctx,
		`SELECT `+vcsAccountColumns+` FROM vcs_accounts WHERE user_id = ? AND vcs = ? ORDER BY updated_at DESC LIMIT 1`,
		userID, vcs))
}

// ListByUser retrieves every account linked by a user
func (r *VCSAccountRepository) ListByUser(ctx context.Context, userID string) ([]*models.VCSAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+vcsAccountColumns+` FROM vcs_accounts WHERE user_id = ? ORDER BY vcs ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.VCSAccount
	for rows.Next() {
		account, err := scanVCSAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// ListWithToken retrieves every account holding an access token
func (r *VCSAccountRepository) ListWithToken(ctx context.Context) ([]*models.VCSAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+vcsAccountColumns+` FROM vcs_accounts WHERE access_token != '' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.VCSAccount
	for rows.Next() {
		account, err := scanVCSAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
