package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
)

const issueColumns = `
	id, repository_id, remote_id, title, description, state, labels, url,
	remote_created_at, remote_updated_at, closed_at, created_at, updated_at`

type IssueRepository struct {
	db *sql.DB
}

func NewIssueRepository(db *sql.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var labels string
	err := row.Scan(
		&issue.ID, &issue.RepositoryID, &issue.RemoteID, &issue.Title, &issue.Description,
		&issue.State, &labels, &issue.URL, &issue.RemoteCreatedAt, &issue.RemoteUpdatedAt,
		&issue.ClosedAt, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.Labels = []string{}
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &issue.Labels); err != nil {
			return nil, err
		}
	}
	return issue, nil
}

// Sync inserts the issue or overwrites the row stored under the same
// (repository_id, remote_id)
func (r *IssueRepository) Sync(ctx context.Context, issue *models.Issue) (bool, error) {
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	labels, err := json.Marshal(issue.Labels)
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM issues WHERE repository_id = ? AND remote_id = ?`,
		issue.RepositoryID, issue.RemoteID,
	).Scan(&existingID, &createdAt)

	now := time.Now()
	created := false

	switch {
	case err == sql.ErrNoRows:
		created = true
		issue.CreatedAt = now
		issue.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO issues (`+issueColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			issue.ID, issue.RepositoryID, issue.RemoteID, issue.Title, issue.Description,
			issue.State, string(labels), issue.URL, issue.RemoteCreatedAt, issue.RemoteUpdatedAt,
			issue.ClosedAt, issue.CreatedAt, issue.UpdatedAt,
		)
	case err != nil:
		return false, err
	default:
		issue.ID = existingID
		issue.CreatedAt = createdAt
		issue.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE issues SET
				title = ?, description = ?, state = ?, labels = ?, url = ?,
				remote_created_at = ?, remote_updated_at = ?, closed_at = ?, updated_at = ?
			WHERE id = ?`,
			issue.Title, issue.Description, issue.State, string(labels), issue.URL,
			issue.RemoteCreatedAt, issue.RemoteUpdatedAt, issue.ClosedAt, issue.UpdatedAt,
			issue.ID,
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

// GetByRemoteID retrieves an issue of a repository by its provider id
func (r *IssueRepository) GetByRemoteID(ctx context.Context, repositoryID string, remoteID int64) (*models.Issue, error) {
	return scanIssue(r.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE repository_id = ? AND remote_id = ?`, repositoryID, remoteID))
}

// ListByRepository retrieves all issues of a repository, newest first
func (r *IssueRepository) ListByRepository(ctx context.Context, repositoryID string) ([]*models.Issue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE repository_id = ? ORDER BY remote_created_at DESC`, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// DeleteByRemoteID deletes an issue of a repository and reports how many rows were removed
func (r *IssueRepository) DeleteByRemoteID(ctx context.Context, repositoryID string, remoteID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM issues WHERE repository_id = ? AND remote_id = ?`, repositoryID, remoteID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteByRepository deletes every issue of a repository
func (r *IssueRepository) DeleteByRepository(ctx context.Context, repositoryID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM issues WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
