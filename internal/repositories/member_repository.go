package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func scanMember(row rowScanner) (*models.Member, error) {
	member := &models.Member{}
	err := row.Scan(&member.ID, &member.OrganizationID, &member.VCSAccountID, &member.IsAdmin, &member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return member, nil
}

// Sync inserts the membership or updates is_admin of the existing
// (organization, vcs_account) row
func (r *MemberRepository) Sync(ctx context.Context, member *models.Member) (bool, error) {
	return r.upsert(ctx, member, true)
}

// Ensure inserts the membership if it does not exist yet. An existing row is
// left as is and member is filled from it.
func (r *MemberRepository) Ensure(ctx context.Context, member *models.Member) (bool, error) {
	return r.upsert(ctx, member, false)
}

func (r *MemberRepository) upsert(ctx context.Context, member *models.Member, overwrite bool) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	existing, err := scanMember(tx.QueryRowContext(ctx, `
		SELECT id, organization_id, vcs_account_id, is_admin, created_at, updated_at
		FROM members WHERE organization_id = ? AND vcs_account_id = ?`,
		member.OrganizationID, member.VCSAccountID))

	now := time.Now()
	created := false

	switch {
	case err == sql.ErrNoRows:
		created = true
		member.CreatedAt = now
		member.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO members (id, organization_id, vcs_account_id, is_admin, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			member.ID, member.OrganizationID, member.VCSAccountID, member.IsAdmin, member.CreatedAt, member.UpdatedAt)
	case err != nil:
		return false, err
	case overwrite:
		member.ID = existing.ID
		member.CreatedAt = existing.CreatedAt
		member.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `UPDATE members SET is_admin = ?, updated_at = ? WHERE id = ?`,
			member.IsAdmin, member.UpdatedAt, member.ID)
	default:
		*member = *existing
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

// GetByOrganizationAndAccount retrieves a single membership
func (r *MemberRepository) GetByOrganizationAndAccount(ctx context.Context, organizationID, vcsAccountID string) (*models.Member, error) {
	return scanMember(r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, vcs_account_id, is_admin, created_at, updated_at
		FROM members WHERE organization_id = ? AND vcs_account_id = ?`, organizationID, vcsAccountID))
}

// ListByOrganization retrieves all memberships of an organization, admins first
func (r *MemberRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*models.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, vcs_account_id, is_admin, created_at, updated_at
		FROM members WHERE organization_id = ?
		ORDER BY is_admin DESC, created_at ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}
