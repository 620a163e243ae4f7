package models

// VCS identifies a version control hosting provider
type VCS string

const (
	VCSGitHub VCS = "github"
	VCSGitLab VCS = "gitlab"
)

// IsValid reports whether the provider is one we can talk to
func (v VCS) IsValid() bool {
	return v == VCSGitHub || v == VCSGitLab
}

// Visibility is the remote visibility level of a repository or organization
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// IsValid checks the visibility against the known levels
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityInternal:
		return true
	}
	return false
}

// IssueState is the provider-normalized state of an issue
type IssueState string

const (
	IssueStateOpen   IssueState = "open"
	IssueStateClosed IssueState = "closed"
)

// IsValid checks the issue state against the known states
func (s IssueState) IsValid() bool {
	return s == IssueStateOpen || s == IssueStateClosed
}

// RepositoryState is the add/remove lifecycle state of a repository
type RepositoryState string

const (
	RepositoryStateNotAdded     RepositoryState = "not_added"
	RepositoryStateAdding       RepositoryState = "adding"
	RepositoryStateAdded        RepositoryState = "added"
	RepositoryStateRemoving     RepositoryState = "removing"
	RepositoryStateAddFailed    RepositoryState = "add_failed"
	RepositoryStateRemoveFailed RepositoryState = "remove_failed"
)

// InFlight reports whether an add or remove is currently running
func (s RepositoryState) InFlight() bool {
	return s == RepositoryStateAdding || s == RepositoryStateRemoving
}
