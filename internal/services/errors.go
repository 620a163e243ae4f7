package services

import (
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
)

// ErrNotFound is returned when a referenced local record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports incoming data rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// AlreadyAddedError is returned when adding a repository that is already added.
type AlreadyAddedError struct {
	RepositoryID string
}

func (e *AlreadyAddedError) Error() string {
	return fmt.Sprintf("repository %s is already added", e.RepositoryID)
}

// PrivateRepositoryError is returned when adding a repository that is not public.
type PrivateRepositoryError struct {
	RepositoryID string
	Visibility   models.Visibility
}

func (e *PrivateRepositoryError) Error() string {
	return fmt.Sprintf("repository %s is %s, only public repositories can be added", e.RepositoryID, e.Visibility)
}

// NotAddedError is returned when removing a repository that is not added.
type NotAddedError struct {
	RepositoryID string
}

func (e *NotAddedError) Error() string {
	return fmt.Sprintf("repository %s is not added", e.RepositoryID)
}

// ConflictError is returned when another add or remove of the same
// repository is in flight.
type ConflictError struct {
	RepositoryID string
	State        models.RepositoryState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("repository %s is busy (%s)", e.RepositoryID, e.State)
}

// RemoteSyncError aborts a bulk sync on the first record that could not be
// fetched, normalized or stored.
type RemoteSyncError struct {
	VCS       models.VCS
	Operation string
	Err       error
}

func (e *RemoteSyncError) Error() string {
	return fmt.Sprintf("an error occurred while synchronizing %s %s, please, try again: %v", e.VCS, e.Operation, e.Err)
}

func (e *RemoteSyncError) Unwrap() error { return e.Err }

// SettleError is returned when a finished add or remove could not record its
// outcome. The repository is still in flight and the job may run again.
type SettleError struct {
	RepositoryID string
	Err          error
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("failed to settle repository %s: %v", e.RepositoryID, e.Err)
}

func (e *SettleError) Unwrap() error { return e.Err }

// CredentialMissingError is returned when a user has no linked account for a provider.
type CredentialMissingError struct {
	UserID string
	VCS    models.VCS
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("user %s has no %s credential", e.UserID, e.VCS)
}

// IsRetryable reports whether a failed background operation may succeed when
// run again. Only transport level provider failures qualify.
func IsRetryable(err error) bool {
	var fetchErr *vcs.RemoteFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable()
	}
	return false
}
