package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

const organizationColumns = `
	id, vcs, remote_id, name, description, url, avatar_url, visibility,
	remote_created_at, created_at, updated_at`

type OrganizationRepository struct {
	db *sql.DB
}

func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func scanOrganization(row rowScanner) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID, &org.VCS, &org.RemoteID, &org.Name, &org.Description, &org.URL,
		&org.AvatarURL, &org.Visibility, &org.RemoteCreatedAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// Sync inserts the organization or overwrites every remote field of the row
// stored under the same (vcs, remote_id)
func (r *OrganizationRepository) Sync(ctx context.Context, org *models.Organization) (bool, error) {
	return r.upsert(ctx, org, `
		UPDATE organizations SET
			name = ?, description = ?, url = ?, avatar_url = ?, visibility = ?,
			remote_created_at = ?, updated_at = ?
		WHERE id = ?`,
		func(org *models.Organization) []interface{} {
			return []interface{}{
				org.Name, org.Description, org.URL, org.AvatarURL, org.Visibility,
				org.RemoteCreatedAt, org.UpdatedAt, org.ID,
			}
		})
}

// SyncName inserts the organization or updates only its name, leaving the
// remaining fields of an existing row untouched
func (r *OrganizationRepository) SyncName(ctx context.Context, org *models.Organization) (bool, error) {
	return r.upsert(ctx, org,
		`UPDATE organizations SET name = ?, updated_at = ? WHERE id = ?`,
		func(org *models.Organization) []interface{} {
			return []interface{}{org.Name, org.UpdatedAt, org.ID}
		})
}

func (r *OrganizationRepository) upsert(ctx context.Context, org *models.Organization, update string, args func(*models.Organization) []interface{}) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	existing, err := scanOrganization(tx.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE vcs = ? AND remote_id = ?`, org.VCS, org.RemoteID))

	now := time.Now()
	created := false

	switch {
	case err == sql.ErrNoRows:
		created = true
		org.CreatedAt = now
		org.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO organizations (`+organizationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			org.ID, org.VCS, org.RemoteID, org.Name, org.Description, org.URL,
			org.AvatarURL, org.Visibility, org.RemoteCreatedAt, org.CreatedAt, org.UpdatedAt,
		)
	case err != nil:
		return false, err
	default:
		org.ID = existing.ID
		org.CreatedAt = existing.CreatedAt
		org.UpdatedAt = now
		_, err = tx.ExecContext(ctx, update, args(org)...)
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	return scanOrganization(r.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = ?`, id))
}

// GetByRemoteID retrieves an organization by its provider identity
func (r *OrganizationRepository) GetByRemoteID(ctx context.Context, vcs models.VCS, remoteID int64) (*models.Organization, error) {
	return scanOrganization(r.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE vcs = ? AND remote_id = ?`, vcs, remoteID))
}

// ListForUser retrieves the organizations any VCS account of the user is a member of
func (r *OrganizationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+organizationColumns+` FROM organizations
		WHERE id IN (
			SELECT m.organization_id FROM members m
			JOIN vcs_accounts a ON a.id = m.vcs_account_id
			WHERE a.user_id = ?)
		ORDER BY name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
