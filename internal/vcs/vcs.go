// Package vcs defines the provider-neutral view of a version control host:
// the Client capability set every provider implements, the canonical
// records it returns and the errors it may fail with.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
	"golang.org/x/oauth2"
)

// Client is the capability set of a provider API, bound to one user credential.
type Client interface {
	Provider() models.VCS
	ListUserRepositories(ctx context.Context) ([]*RepositoryRecord, error)
	FetchRepository(ctx context.Context, id int64) (*RepositoryRecord, error)
	FetchRepositoryLanguages(ctx context.Context, id int64) (map[string]float64, error)
	ListRepositoryIssues(ctx context.Context, id int64) ([]*IssueRecord, error)
	ListUserOrganizations(ctx context.Context) ([]*OrganizationRecord, error)
	CurrentAccount(ctx context.Context) (*AccountRecord, error)
}

// OwnerOrganization identifies the organization a repository belongs to.
type OwnerOrganization struct {
	RemoteID int64
	Name     string
}

// RepositoryRecord is a repository as reported by a provider, already
// normalized to local field names and enums.
type RepositoryRecord struct {
	Provider       models.VCS
	RemoteID       int64
	Name           string
	URL            string
	Description    *string
	StarCount      int
	OpenIssueCount int
	ForkCount      int
	Languages      map[string]float64
	Visibility     models.Visibility
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Organization is set when the repository lives under an organization
	// namespace, nil when it belongs to a user.
	Organization *OwnerOrganization
}

// OrganizationRecord is an organization the current user is a member of.
type OrganizationRecord struct {
	Provider    models.VCS
	RemoteID    int64
	Name        string
	Description *string
	URL         string
	AvatarURL   string
	Visibility  models.Visibility
	CreatedAt   *time.Time
	IsAdmin     bool
}

// IssueRecord is an issue normalized to local field names.
type IssueRecord struct {
	RemoteID           int64
	RepositoryRemoteID int64
	Title              string
	Description        string
	State              models.IssueState
	Labels             []string
	URL                string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ClosedAt           *time.Time
}

// AccountRecord is the profile of the authenticated user.
type AccountRecord struct {
	Provider  models.VCS
	RemoteID  int64
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// RemoteFetchError reports a transport, decoding or non-auth API failure.
// It is worth retrying.
type RemoteFetchError struct {
	Provider   models.VCS
	Operation  string
	StatusCode int
	Err        error
}

func (e *RemoteFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failed call may succeed when repeated.
// Not found and validation responses will not.
func (e *RemoteFetchError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return false
	}
	return true
}

// RemoteAuthError reports a rejected or missing credential.
type RemoteAuthError struct {
	Provider  models.VCS
	Operation string
	Err       error
}

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("%s %s: authentication failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *RemoteAuthError) Unwrap() error { return e.Err }

// ClassifyError wraps err into a RemoteAuthError or RemoteFetchError.
// statusCode is the HTTP status of the response, 0 when there was none.
func ClassifyError(provider models.VCS, operation string, statusCode int, err error) error {
	if err == nil {
		return nil
	}

	var authErr *RemoteAuthError
	var fetchErr *RemoteFetchError
	if errors.As(err, &authErr) || errors.As(err, &fetchErr) {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) || statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &RemoteAuthError{Provider: provider, Operation: operation, Err: err}
	}
	return &RemoteFetchError{Provider: provider, Operation: operation, StatusCode: statusCode, Err: err}
}

// NormalizationError reports a provider record that could not be mapped to
// a canonical record.
func NormalizationError(provider models.VCS, operation string, format string, args ...interface{}) error {
	return &RemoteFetchError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        fmt.Errorf(format, args...),
	}
}
