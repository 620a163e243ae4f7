package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

const repositoryColumns = `
	id, vcs, remote_id, name, url, description, owner_id, organization_id,
	star_count, open_issue_count, fork_count, programming_languages, visibility,
	remote_created_at, remote_updated_at, is_added, state, created_at, updated_at`

type RepositoryRepository struct {
	db *sql.DB
}

func NewRepositoryRepository(db *sql.DB) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (*models.Repository, error) {
	repo := &models.Repository{}
	var languages string
	var remoteCreatedAt, remoteUpdatedAt sql.NullTime

	err := row.Scan(
		&repo.ID, &repo.VCS, &repo.RemoteID, &repo.Name, &repo.URL, &repo.Description,
		&repo.OwnerID, &repo.OrganizationID, &repo.StarCount, &repo.OpenIssueCount,
		&repo.ForkCount, &languages, &repo.Visibility, &remoteCreatedAt, &remoteUpdatedAt,
		&repo.IsAdded, &repo.State, &repo.CreatedAt, &repo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	repo.Languages = map[string]float64{}
	if languages != "" {
		if err := json.Unmarshal([]byte(languages), &repo.Languages); err != nil {
			return nil, err
		}
	}
	repo.RemoteCreatedAt = remoteCreatedAt.Time
	repo.RemoteUpdatedAt = remoteUpdatedAt.Time

	return repo, nil
}

func encodeLanguages(languages map[string]float64) (string, error) {
	if languages == nil {
		languages = map[string]float64{}
	}
	data, err := json.Marshal(languages)
	return string(data), err
}

// Sync inserts the repository or overwrites the syncable fields of the row
// stored under the same (vcs, remote_id). is_added and state are never
// written on update, and nil Languages keeps the stored languages. On return
// repo carries the stored ID, languages and lifecycle fields.
func (r *RepositoryRepository) Sync(ctx context.Context, repo *models.Repository) (bool, error) {
	keepLanguages := repo.Languages == nil
	languages, err := encodeLanguages(repo.Languages)
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingID, storedLanguages string
	var isAdded bool
	var state models.RepositoryState
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, programming_languages, is_added, state, created_at FROM repositories WHERE vcs = ? AND remote_id = ?`,
		repo.VCS, repo.RemoteID,
	).Scan(&existingID, &storedLanguages, &isAdded, &state, &createdAt)

	now := time.Now()
	created := false

	switch {
	case err == sql.ErrNoRows:
		created = true
		if keepLanguages {
			repo.Languages = map[string]float64{}
		}
		repo.IsAdded = false
		repo.State = models.RepositoryStateNotAdded
		repo.CreatedAt = now
		repo.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO repositories (`+repositoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repo.ID, repo.VCS, repo.RemoteID, repo.Name, repo.URL, repo.Description,
			repo.OwnerID, repo.OrganizationID, repo.StarCount, repo.OpenIssueCount,
			repo.ForkCount, languages, repo.Visibility, repo.RemoteCreatedAt, repo.RemoteUpdatedAt,
			repo.IsAdded, repo.State, repo.CreatedAt, repo.UpdatedAt,
		)
	case err != nil:
		return false, err
	default:
		if keepLanguages {
			languages = storedLanguages
			repo.Languages = map[string]float64{}
			if err := json.Unmarshal([]byte(storedLanguages), &repo.Languages); err != nil {
				return false, err
			}
		}
		repo.ID = existingID
		repo.IsAdded = isAdded
		repo.State = state
		repo.CreatedAt = createdAt
		repo.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE repositories SET
				name = ?, url = ?, description = ?, owner_id = ?, organization_id = ?,
				star_count = ?, open_issue_count = ?, fork_count = ?, programming_languages = ?,
				visibility = ?, remote_created_at = ?, remote_updated_at = ?, updated_at = ?
			WHERE id = ?`,
			repo.Name, repo.URL, repo.Description, repo.OwnerID, repo.OrganizationID,
			repo.StarCount, repo.OpenIssueCount, repo.ForkCount, languages,
			repo.Visibility, repo.RemoteCreatedAt, repo.RemoteUpdatedAt, repo.UpdatedAt,
			repo.ID,
		)
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

// GetByID retrieves a repository by ID
func (r *RepositoryRepository) GetByID(ctx context.Context, id string) (*models.Repository, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

// GetByRemoteID retrieves a repository by its provider identity
func (r *RepositoryRepository) GetByRemoteID(ctx context.Context, vcs models.VCS, remoteID int64) (*models.Repository, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE vcs = ? AND remote_id = ?`, vcs, remoteID)
	return scanRepository(row)
}

// ListForUser retrieves the repositories a user owns directly or through
// an organization membership of one of their VCS accounts
func (r *RepositoryRepository) ListForUser(ctx context.Context, userID string) ([]*models.Repository, error) {
	query := `
		SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE owner_id = ?
		   OR organization_id IN (
				SELECT m.organization_id FROM members m
				JOIN vcs_accounts a ON a.id = m.vcs_account_id
				WHERE a.user_id = ?)
		ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// ListAdded retrieves added repositories with the given visibility
func (r *RepositoryRepository) ListAdded(ctx context.Context, visibility models.Visibility) ([]*models.Repository, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE is_added = 1 AND visibility = ? ORDER BY star_count DESC`,
		visibility)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// StrandedRepository is a repository left adding or removing with no
// lifecycle job queued or running. UserID is the requester of its latest
// lifecycle job, empty when none is stored.
type StrandedRepository struct {
	Repository *models.Repository
	UserID     string
}

// ListStranded retrieves in-flight repositories that no pending or
// in-progress repository_add/repository_remove job will settle
func (r *RepositoryRepository) ListStranded(ctx context.Context) ([]*StrandedRepository, error) {
	lifecycleJobs := []interface{}{models.JobTypeRepositoryAdd, models.JobTypeRepositoryRemove}

	args := []interface{}{}
	args = append(args, lifecycleJobs...)
	args = append(args, models.RepositoryStateAdding, models.RepositoryStateRemoving,
		models.JobStatusPending, models.JobStatusInProgress)
	args = append(args, lifecycleJobs...)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+repositoryColumns+`,
			COALESCE((
				SELECT json_extract(j.payload, '$.user_id') FROM jobs j
				WHERE j.job_type IN (?, ?)
				  AND json_extract(j.payload, '$.repository_id') = repositories.id
				ORDER BY j.created_at DESC
				LIMIT 1), '')
		FROM repositories
		WHERE state IN (?, ?)
		  AND NOT EXISTS (
				SELECT 1 FROM jobs j
				WHERE j.status IN (?, ?)
				  AND j.job_type IN (?, ?)
				  AND json_extract(j.payload, '$.repository_id') = repositories.id)
		ORDER BY updated_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stranded []*StrandedRepository
	for rows.Next() {
		var userID string
		repo, err := scanRepository(scannerWithExtra{rows: rows, extra: &userID})
		if err != nil {
			return nil, err
		}
		stranded = append(stranded, &StrandedRepository{Repository: repo, UserID: userID})
	}
	return stranded, rows.Err()
}

// scannerWithExtra scans one trailing column after the repository columns
type scannerWithExtra struct {
	rows  *sql.Rows
	extra interface{}
}

func (s scannerWithExtra) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.extra)...)
}

// CompareAndSetState moves a repository from one lifecycle state to another.
// It reports false when the stored state no longer matches from.
func (r *RepositoryRepository) CompareAndSetState(ctx context.Context, id string, from, to models.RepositoryState, isAdded bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE repositories SET state = ?, is_added = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, isAdded, time.Now(), id, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteByRemoteID deletes a repository by its provider identity and reports
// how many rows were removed
func (r *RepositoryRepository) DeleteByRemoteID(ctx context.Context, vcs models.VCS, remoteID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM repositories WHERE vcs = ? AND remote_id = ?`, vcs, remoteID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IsAccessibleBy reports whether the user owns the repository or is a member
// of its organization
func (r *RepositoryRepository) IsAccessibleBy(ctx context.Context, id, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM repositories
		WHERE id = ?
		  AND (owner_id = ?
		   OR organization_id IN (
				SELECT m.organization_id FROM members m
				JOIN vcs_accounts a ON a.id = m.vcs_account_id
				WHERE a.user_id = ?))`, id, userID, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
