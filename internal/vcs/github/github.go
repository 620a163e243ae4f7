// Package github implements vcs.Client on top of the GitHub REST API.
package github

import (
	"context"
	"net/http"
	"strings"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/google/go-github/v57/github"
)

const defaultBaseURL = "https://api.github.com/"

const perPage = 100

// Client implements vcs.Client for GitHub.
type Client struct {
	client *github.Client
}

// Option configures the GitHub client.
type Option func(*Client)

// WithBaseURL points the client at another API root (GitHub Enterprise, tests).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.client.BaseURL, _ = c.client.BaseURL.Parse(strings.TrimSuffix(url, "/") + "/")
	}
}

// New creates a GitHub client. httpClient is expected to authenticate requests.
func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{client: github.NewClient(httpClient)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient is the vcs.ClientFactory for GitHub.
func NewClient(httpClient *http.Client, _ string, baseURL string) (vcs.Client, error) {
	var opts []Option
	if baseURL != "" && baseURL != defaultBaseURL {
		opts = append(opts, WithBaseURL(baseURL))
	}
	return New(httpClient, opts...), nil
}

func (c *Client) Provider() models.VCS {
	return models.VCSGitHub
}

func classify(operation string, resp *github.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	return vcs.ClassifyError(models.VCSGitHub, operation, status, err)
}

// ListUserRepositories lists every repository the user can access
func (c *Client) ListUserRepositories(ctx context.Context) ([]*vcs.RepositoryRecord, error) {
	opt := &github.RepositoryListOptions{
		Type:        "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var records []*vcs.RepositoryRecord
	for {
		repos, resp, err := c.client.Repositories.List(ctx, "", opt)
		if err != nil {
			return nil, classify("list repositories", resp, err)
		}
		for _, repo := range repos {
			record, err := ToRepositoryRecord(repo)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return records, nil
}

func (c *Client) getRepository(ctx context.Context, id int64) (*github.Repository, error) {
	repo, resp, err := c.client.Repositories.GetByID(ctx, id)
	if err != nil {
		return nil, classify("get repository", resp, err)
	}
	return repo, nil
}

// FetchRepository fetches a single repository by its numeric id
func (c *Client) FetchRepository(ctx context.Context, id int64) (*vcs.RepositoryRecord, error) {
	repo, err := c.getRepository(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToRepositoryRecord(repo)
}

// FetchRepositoryLanguages returns the bytes of code per language
func (c *Client) FetchRepositoryLanguages(ctx context.Context, id int64) (map[string]float64, error) {
	repo, err := c.getRepository(ctx, id)
	if err != nil {
		return nil, err
	}

	languages, resp, err := c.client.Repositories.ListLanguages(ctx, repo.GetOwner().GetLogin(), repo.GetName())
	if err != nil {
		return nil, classify("list languages", resp, err)
	}

	result := make(map[string]float64, len(languages))
	for name, bytes := range languages {
		result[name] = float64(bytes)
	}
	return result, nil
}

// ListRepositoryIssues lists the open issues of a repository. Pull requests,
// which the issues endpoint also returns, are skipped.
func (c *Client) ListRepositoryIssues(ctx context.Context, id int64) ([]*vcs.IssueRecord, error) {
	repo, err := c.getRepository(ctx, id)
	if err != nil {
		return nil, err
	}

	opt := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var records []*vcs.IssueRecord
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, repo.GetOwner().GetLogin(), repo.GetName(), opt)
		if err != nil {
			return nil, classify("list issues", resp, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			record, err := ToIssueRecord(id, issue)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return records, nil
}

// ListUserOrganizations lists the organizations of active memberships.
// An admin role makes the user an organization admin.
func (c *Client) ListUserOrganizations(ctx context.Context) ([]*vcs.OrganizationRecord, error) {
	opt := &github.ListOrgMembershipsOptions{
		State:       "active",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var records []*vcs.OrganizationRecord
	for {
		memberships, resp, err := c.client.Organizations.ListOrgMemberships(ctx, opt)
		if err != nil {
			return nil, classify("list memberships", resp, err)
		}
		for _, membership := range memberships {
			record, err := ToOrganizationRecord(membership.GetOrganization())
			if err != nil {
				return nil, err
			}
			record.IsAdmin = membership.GetRole() == "admin"
			records = append(records, record)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return records, nil
}

// CurrentAccount returns the profile of the authenticated user
func (c *Client) CurrentAccount(ctx context.Context) (*vcs.AccountRecord, error) {
	user, resp, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return nil, classify("get user", resp, err)
	}
	if user.GetID() == 0 || user.GetLogin() == "" {
		return nil, vcs.NormalizationError(models.VCSGitHub, "get user", "user without id or login")
	}
	return &vcs.AccountRecord{
		Provider:  models.VCSGitHub,
		RemoteID:  user.GetID(),
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}

// ToRepositoryRecord normalizes a GitHub repository. It is shared by the API
// client and the webhook interpreter.
func ToRepositoryRecord(repo *github.Repository) (*vcs.RepositoryRecord, error) {
	if repo == nil || repo.GetID() == 0 {
		return nil, vcs.NormalizationError(models.VCSGitHub, "normalize repository", "repository without id")
	}
	if repo.GetName() == "" {
		return nil, vcs.NormalizationError(models.VCSGitHub, "normalize repository", "repository %d without name", repo.GetID())
	}

	visibility := models.Visibility(repo.GetVisibility())
	if visibility == "" {
		visibility = models.VisibilityPublic
		if repo.GetPrivate() {
			visibility = models.VisibilityPrivate
		}
	}
	if !visibility.IsValid() {
		return nil, vcs.NormalizationError(models.VCSGitHub, "normalize repository", "repository %d has unknown visibility %q", repo.GetID(), visibility)
	}

	record := &vcs.RepositoryRecord{
		Provider:       models.VCSGitHub,
		RemoteID:       repo.GetID(),
		Name:           repo.GetName(),
		URL:            repo.GetHTMLURL(),
		Description:    repo.Description,
		StarCount:      repo.GetStargazersCount(),
		OpenIssueCount: repo.GetOpenIssuesCount(),
		ForkCount:      repo.GetForksCount(),
		Visibility:     visibility,
		CreatedAt:      repo.GetCreatedAt().Time,
		UpdatedAt:      repo.GetUpdatedAt().Time,
	}

	if owner := repo.GetOwner(); owner != nil && owner.GetType() == "Organization" {
		record.Organization = &vcs.OwnerOrganization{RemoteID: owner.GetID(), Name: owner.GetLogin()}
	}
	return record, nil
}

// ToIssueRecord normalizes a GitHub issue of the repository repositoryID
func ToIssueRecord(repositoryID int64, issue *github.Issue) (*vcs.IssueRecord, error) {
	if issue == nil || issue.GetID() == 0 {
		return nil, vcs.NormalizationError(models.VCSGitHub, "normalize issue", "issue without id")
	}

	state := models.IssueState(issue.GetState())
	if !state.IsValid() {
		return nil, vcs.NormalizationError(models.VCSGitHub, "normalize issue", "issue %d has unknown state %q", issue.GetID(), issue.GetState())
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}

	record := &vcs.IssueRecord{
		RemoteID:           issue.GetID(),
		RepositoryRemoteID: repositoryID,
		Title:              issue.GetTitle(),
		Description:        issue.GetBody(),
		State:              state,
		Labels:             labels,
		URL:                issue.GetHTMLURL(),
		CreatedAt:          issue.GetCreatedAt().Time,
		UpdatedAt:          issue.GetUpdatedAt().Time,
	}
	if issue.ClosedAt != nil {
		closedAt := issue.ClosedAt.Time
		record.ClosedAt = &closedAt
	}
	return record, nil
}

// ToOrganizationRecord normalizes a GitHub organization
func ToOrganizationRecord(org *github.Organization) (*vcs.OrganizationRecord, error) {
	if org == nil || org.GetID() == 0 || org.GetLogin() == "" {
		return nil, vcs.NormalizationError(models.VCSGitHub, "normalize organization", "organization without id or login")
	}

	url := org.GetHTMLURL()
	if url == "" {
		url = "https://github.com/" + org.GetLogin()
	}

	record := &vcs.OrganizationRecord{
		Provider:    models.VCSGitHub,
		RemoteID:    org.GetID(),
		Name:        org.GetLogin(),
		Description: org.Description,
		URL:         url,
		AvatarURL:   org.GetAvatarURL(),
		Visibility:  models.VisibilityPublic,
	}
	if org.CreatedAt != nil {
		createdAt := org.CreatedAt.Time
		record.CreatedAt = &createdAt
	}
	return record, nil
}

var _ vcs.Client = (*Client)(nil)
