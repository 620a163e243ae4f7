package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
	glclient "github.com/alimgiray/openwiden/internal/vcs/gitlab"
)

// GitLab webhooks do not use the API timestamp format.
var gitLabTimeLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
}

type gitLabTime struct {
	time.Time
}

func (t *gitLabTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	for _, layout := range gitLabTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized gitlab timestamp %q", raw)
}

type gitLabIssuePayload struct {
	ObjectKind string `json:"object_kind"`
	Project    struct {
		ID int64 `json:"id"`
	} `json:"project"`
	ObjectAttributes struct {
		ID          int64       `json:"id"`
		Title       string      `json:"title"`
		Description string      `json:"description"`
		State       string      `json:"state"`
		Action      string      `json:"action"`
		URL         string      `json:"url"`
		CreatedAt   gitLabTime  `json:"created_at"`
		UpdatedAt   gitLabTime  `json:"updated_at"`
		ClosedAt    *gitLabTime `json:"closed_at"`
	} `json:"object_attributes"`
	Labels []struct {
		Title string `json:"title"`
	} `json:"labels"`
}

type gitLabProjectPayload struct {
	EventName         string `json:"event_name"`
	ProjectID         int64  `json:"project_id"`
	Name              string `json:"name"`
	ProjectVisibility string `json:"project_visibility"`
}

func interpretGitLab(category Category, payload []byte) (*Directive, error) {
	switch category {
	case CategoryIssue:
		return gitLabIssueDirective(payload)
	case CategoryRepository:
		return gitLabProjectDirective(payload)
	case CategoryStar:
		return ignore("", "gitlab does not deliver star events"), nil
	}
	return nil, fmt.Errorf("%w: gitlab %s", ErrUnsupportedEvent, category)
}

func gitLabIssueDirective(payload []byte) (*Directive, error) {
	var event gitLabIssuePayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parsing gitlab issue payload: %w", err)
	}
	attrs := event.ObjectAttributes
	if event.Project.ID == 0 || attrs.ID == 0 {
		return nil, fmt.Errorf("gitlab issue payload without project or issue id")
	}

	switch attrs.Action {
	case "open", "close", "reopen", "update":
		state, ok := glclient.NormalizeIssueState(attrs.State)
		if !ok {
			return nil, vcs.NormalizationError(models.VCSGitLab, "normalize issue hook", "issue %d has unknown state %q", attrs.ID, attrs.State)
		}

		labels := make([]string, 0, len(event.Labels))
		for _, label := range event.Labels {
			labels = append(labels, label.Title)
		}

		record := &vcs.IssueRecord{
			RemoteID:           attrs.ID,
			RepositoryRemoteID: event.Project.ID,
			Title:              attrs.Title,
			Description:        attrs.Description,
			State:              state,
			Labels:             labels,
			// "url" in a hook is the web URL of the issue
			URL:       attrs.URL,
			CreatedAt: attrs.CreatedAt.Time,
			UpdatedAt: attrs.UpdatedAt.Time,
		}
		if attrs.ClosedAt != nil && !attrs.ClosedAt.IsZero() {
			closedAt := attrs.ClosedAt.Time
			record.ClosedAt = &closedAt
		}

		return &Directive{
			Kind:               KindSyncIssue,
			Action:             attrs.Action,
			RepositoryRemoteID: event.Project.ID,
			IssueRemoteID:      attrs.ID,
			Issue:              record,
		}, nil
	case "delete":
		return &Directive{
			Kind:               KindDeleteIssue,
			Action:             attrs.Action,
			RepositoryRemoteID: event.Project.ID,
			IssueRemoteID:      attrs.ID,
		}, nil
	}
	return ignore(attrs.Action, "unhandled issue action"), nil
}

func gitLabProjectDirective(payload []byte) (*Directive, error) {
	var event gitLabProjectPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parsing gitlab system hook payload: %w", err)
	}
	if !strings.HasPrefix(event.EventName, "project_") {
		return ignore(event.EventName, "not a project event"), nil
	}
	if event.ProjectID == 0 {
		return nil, fmt.Errorf("gitlab %s payload without project id", event.EventName)
	}

	deleteDirective := &Directive{
		Kind:               KindDeleteRepository,
		Action:             event.EventName,
		RepositoryRemoteID: event.ProjectID,
	}

	switch event.EventName {
	case "project_destroy":
		return deleteDirective, nil
	case "project_rename", "project_update", "project_transfer":
		if models.Visibility(event.ProjectVisibility) == models.VisibilityPrivate {
			return deleteDirective, nil
		}
		return &Directive{
			Kind:               KindRefreshRepository,
			Action:             event.EventName,
			RepositoryRemoteID: event.ProjectID,
		}, nil
	}
	return ignore(event.EventName, "unhandled project event"), nil
}
