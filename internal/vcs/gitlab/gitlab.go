// Package gitlab implements vcs.Client on top of the GitLab v4 API.
package gitlab

import (
	"context"
	"net/http"
	"strings"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/xanzy/go-gitlab"
)

const defaultBaseURL = "https://gitlab.com"

const perPage = 100

// Client implements vcs.Client for GitLab.
type Client struct {
	client     *gitlab.Client
	token      string
	httpClient *http.Client
}

// Option configures the GitLab client.
type Option func(*Client)

// WithBaseURL points the client at a self-hosted instance (or a test server).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.client, _ = gitlab.NewOAuthClient(c.token,
			gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"),
			gitlab.WithHTTPClient(c.httpClient),
		)
	}
}

// New creates a GitLab client authenticating with an OAuth access token.
func New(token string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client, _ := gitlab.NewOAuthClient(token, gitlab.WithHTTPClient(httpClient))
	c := &Client{client: client, token: token, httpClient: httpClient}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient is the vcs.ClientFactory for GitLab.
func NewClient(httpClient *http.Client, accessToken, baseURL string) (vcs.Client, error) {
	var opts []Option
	if baseURL != "" && baseURL != defaultBaseURL {
		opts = append(opts, WithBaseURL(baseURL))
	}
	return New(accessToken, httpClient, opts...), nil
}

func (c *Client) Provider() models.VCS {
	return models.VCSGitLab
}

func classify(operation string, resp *gitlab.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	return vcs.ClassifyError(models.VCSGitLab, operation, status, err)
}

// ListUserRepositories lists the public, non archived projects the user is a member of
func (c *Client) ListUserRepositories(ctx context.Context) ([]*vcs.RepositoryRecord, error) {
	opt := &gitlab.ListProjectsOptions{
		Membership:  gitlab.Ptr(true),
		Archived:    gitlab.Ptr(false),
		Visibility:  gitlab.Ptr(gitlab.PublicVisibility),
		ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1},
	}

	var records []*vcs.RepositoryRecord
	for {
		projects, resp, err := c.client.Projects.ListProjects(opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify("list projects", resp, err)
		}
		for _, project := range projects {
			record, err := ToRepositoryRecord(project)
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

// FetchRepository fetches a single project by id
func (c *Client) FetchRepository(ctx context.Context, id int64) (*vcs.RepositoryRecord, error) {
	project, resp, err := c.client.Projects.GetProject(int(id), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify("get project", resp, err)
	}
	return ToRepositoryRecord(project)
}

// FetchRepositoryLanguages returns the share of each language in percent
func (c *Client) FetchRepositoryLanguages(ctx context.Context, id int64) (map[string]float64, error) {
	languages, resp, err := c.client.Projects.GetProjectLanguages(int(id), gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify("get project languages", resp, err)
	}

	result := map[string]float64{}
	if languages == nil {
		return result, nil
	}
	for name, share := range *languages {
		result[name] = float64(share)
	}
	return result, nil
}

// ListRepositoryIssues lists the opened issues of a project
func (c *Client) ListRepositoryIssues(ctx context.Context, id int64) ([]*vcs.IssueRecord, error) {
	opt := &gitlab.ListProjectIssuesOptions{
		State:       gitlab.Ptr("opened"),
		ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1},
	}

	var records []*vcs.IssueRecord
	for {
		issues, resp, err := c.client.Issues.ListProjectIssues(int(id), opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify("list project issues", resp, err)
		}
		for _, issue := range issues {
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

func (c *Client) listGroups(ctx context.Context, opt *gitlab.ListGroupsOptions) ([]*gitlab.Group, error) {
	opt.ListOptions = gitlab.ListOptions{PerPage: perPage, Page: 1}

	var groups []*gitlab.Group
	for {
		page, resp, err := c.client.Groups.ListGroups(opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify("list groups", resp, err)
		}
		groups = append(groups, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return groups, nil
}

// ListUserOrganizations lists the groups the user is a member of. Groups the
// user owns are reported as admin memberships.
func (c *Client) ListUserOrganizations(ctx context.Context) ([]*vcs.OrganizationRecord, error) {
	groups, err := c.listGroups(ctx, &gitlab.ListGroupsOptions{AllAvailable: gitlab.Ptr(false)})
	if err != nil {
		return nil, err
	}
	owned, err := c.listGroups(ctx, &gitlab.ListGroupsOptions{MinAccessLevel: gitlab.Ptr(gitlab.OwnerPermissions)})
	if err != nil {
		return nil, err
	}

	admin := make(map[int]bool, len(owned))
	for _, group := range owned {
		admin[group.ID] = true
	}

	records := make([]*vcs.OrganizationRecord, 0, len(groups))
	for _, group := range groups {
		record, err := ToOrganizationRecord(group)
		if err != nil {
			return nil, err
		}
		record.IsAdmin = admin[group.ID]
		records = append(records, record)
	}
	return records, nil
}

// CurrentAccount returns the profile of the authenticated user
func (c *Client) CurrentAccount(ctx context.Context) (*vcs.AccountRecord, error) {
	user, resp, err := c.client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify("get current user", resp, err)
	}
	if user.ID == 0 || user.Username == "" {
		return nil, vcs.NormalizationError(models.VCSGitLab, "get current user", "user without id or username")
	}
	return &vcs.AccountRecord{
		Provider:  models.VCSGitLab,
		RemoteID:  int64(user.ID),
		Login:     user.Username,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ToRepositoryRecord normalizes a GitLab project. A project in a group
// namespace is owned by that group.
func ToRepositoryRecord(project *gitlab.Project) (*vcs.RepositoryRecord, error) {
	if project == nil || project.ID == 0 {
		return nil, vcs.NormalizationError(models.VCSGitLab, "normalize project", "project without id")
	}
	if project.Name == "" {
		return nil, vcs.NormalizationError(models.VCSGitLab, "normalize project", "project %d without name", project.ID)
	}

	visibility := models.Visibility(project.Visibility)
	if !visibility.IsValid() {
		return nil, vcs.NormalizationError(models.VCSGitLab, "normalize project", "project %d has unknown visibility %q", project.ID, project.Visibility)
	}

	record := &vcs.RepositoryRecord{
		Provider:       models.VCSGitLab,
		RemoteID:       int64(project.ID),
		Name:           project.Name,
		URL:            project.WebURL,
		Description:    optionalString(project.Description),
		StarCount:      project.StarCount,
		OpenIssueCount: project.OpenIssuesCount,
		ForkCount:      project.ForksCount,
		Visibility:     visibility,
	}
	if project.CreatedAt != nil {
		record.CreatedAt = *project.CreatedAt
	}
	if project.LastActivityAt != nil {
		record.UpdatedAt = *project.LastActivityAt
	} else {
		record.UpdatedAt = record.CreatedAt
	}

	if ns := project.Namespace; ns != nil && ns.Kind == "group" {
		record.Organization = &vcs.OwnerOrganization{RemoteID: int64(ns.ID), Name: ns.Name}
	}
	return record, nil
}

// ToIssueRecord normalizes a GitLab issue; "opened" becomes open
func ToIssueRecord(projectID int64, issue *gitlab.Issue) (*vcs.IssueRecord, error) {
	if issue == nil || issue.ID == 0 {
		return nil, vcs.NormalizationError(models.VCSGitLab, "normalize issue", "issue without id")
	}

	state, ok := NormalizeIssueState(issue.State)
	if !ok {
		return nil, vcs.NormalizationError(models.VCSGitLab, "normalize issue", "issue %d has unknown state %q", issue.ID, issue.State)
	}

	labels := []string{}
	labels = append(labels, issue.Labels...)

	record := &vcs.IssueRecord{
		RemoteID:           int64(issue.ID),
		RepositoryRemoteID: projectID,
		Title:              issue.Title,
		Description:        issue.Description,
		State:              state,
		Labels:             labels,
		URL:                issue.WebURL,
		ClosedAt:           issue.ClosedAt,
	}
	if issue.CreatedAt != nil {
		record.CreatedAt = *issue.CreatedAt
	}
	if issue.UpdatedAt != nil {
		record.UpdatedAt = *issue.UpdatedAt
	}
	return record, nil
}

// NormalizeIssueState maps a GitLab issue state to the local enum
func NormalizeIssueState(state string) (models.IssueState, bool) {
	switch state {
	case "opened", "open", "reopened":
		return models.IssueStateOpen, true
	case "closed":
		return models.IssueStateClosed, true
	}
	return "", false
}

// ToOrganizationRecord normalizes a GitLab group
func ToOrganizationRecord(group *gitlab.Group) (*vcs.OrganizationRecord, error) {
	if group == nil || group.ID == 0 || group.Name == "" {
		return nil, vcs.NormalizationError(models.VCSGitLab, "normalize group", "group without id or name")
	}

	visibility := models.Visibility(group.Visibility)
	if !visibility.IsValid() {
		visibility = models.VisibilityPublic
	}

	return &vcs.OrganizationRecord{
		Provider:    models.VCSGitLab,
		RemoteID:    int64(group.ID),
		Name:        group.Name,
		Description: optionalString(group.Description),
		URL:         group.WebURL,
		AvatarURL:   group.AvatarURL,
		Visibility:  visibility,
		CreatedAt:   group.CreatedAt,
	}, nil
}

var _ vcs.Client = (*Client)(nil)
