package webhook

import (
	"encoding/json"
	"fmt"

	ghclient "github.com/alimgiray/openwiden/internal/vcs/github"
	"github.com/google/go-github/v57/github"
)

type gitHubPayload struct {
	Action     string             `json:"action"`
	Issue      *github.Issue      `json:"issue"`
	Repository *github.Repository `json:"repository"`
}

func interpretGitHub(category Category, payload []byte) (*Directive, error) {
	var event gitHubPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parsing github %s payload: %w", category, err)
	}
	if event.Repository == nil || event.Repository.GetID() == 0 {
		return nil, fmt.Errorf("github %s payload without repository", category)
	}

	switch category {
	case CategoryIssue:
		return gitHubIssueDirective(&event)
	case CategoryRepository:
		return gitHubRepositoryDirective(&event)
	case CategoryStar:
		return syncGitHubRepository(&event)
	}
	return nil, fmt.Errorf("%w: github %s", ErrUnsupportedEvent, category)
}

func gitHubIssueDirective(event *gitHubPayload) (*Directive, error) {
	if event.Issue == nil || event.Issue.GetID() == 0 {
		return nil, fmt.Errorf("github issue payload without issue")
	}
	repositoryID := event.Repository.GetID()

	switch event.Action {
	case "opened", "closed", "edited", "labeled", "unlabeled", "reopened":
		if event.Issue.IsPullRequest() {
			return ignore(event.Action, "pull request"), nil
		}
		record, err := ghclient.ToIssueRecord(repositoryID, event.Issue)
		if err != nil {
			return nil, err
		}
		return &Directive{
			Kind:               KindSyncIssue,
			Action:             event.Action,
			RepositoryRemoteID: repositoryID,
			IssueRemoteID:      record.RemoteID,
			Issue:              record,
		}, nil
	case "deleted":
		return &Directive{
			Kind:               KindDeleteIssue,
			Action:             event.Action,
			RepositoryRemoteID: repositoryID,
			IssueRemoteID:      event.Issue.GetID(),
		}, nil
	}
	return ignore(event.Action, "unhandled issue action"), nil
}

func gitHubRepositoryDirective(event *gitHubPayload) (*Directive, error) {
	switch event.Action {
	case "edited", "renamed", "publicized", "unarchived", "transferred":
		return syncGitHubRepository(event)
	case "privatized", "archived", "deleted":
		return &Directive{
			Kind:               KindDeleteRepository,
			Action:             event.Action,
			RepositoryRemoteID: event.Repository.GetID(),
		}, nil
	}
	return ignore(event.Action, "unhandled repository action"), nil
}

func syncGitHubRepository(event *gitHubPayload) (*Directive, error) {
	record, err := ghclient.ToRepositoryRecord(event.Repository)
	if err != nil {
		return nil, err
	}
	return &Directive{
		Kind:               KindSyncRepository,
		Action:             event.Action,
		RepositoryRemoteID: record.RemoteID,
		Repository:         record,
	}, nil
}
