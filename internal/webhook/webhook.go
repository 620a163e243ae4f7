// Package webhook turns provider webhook payloads into directives for the
// reconciler: sync a record, delete one, or ignore the event.
package webhook

import (
	"errors"
	"fmt"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Category is the provider-neutral kind of a webhook event.
type Category string

const (
	CategoryIssue      Category = "issue"
	CategoryRepository Category = "repository"
	CategoryStar       Category = "star"
)

// Kind is the operation a directive asks for.
type Kind string

const (
	KindSyncIssue         Kind = "sync_issue"
	KindDeleteIssue       Kind = "delete_issue"
	KindSyncRepository    Kind = "sync_repository"
	KindDeleteRepository  Kind = "delete_repository"
	KindRefreshRepository Kind = "refresh_repository"
	KindIgnore            Kind = "ignore"
)

// ErrUnsupportedEvent is returned for a provider/category pair that has no interpretation.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// Directive is the outcome of interpreting one webhook delivery.
type Directive struct {
	Kind   Kind
	VCS    models.VCS
	Action string

	// RepositoryRemoteID is always set except for ignored events.
	RepositoryRemoteID int64
	// IssueRemoteID is set for issue directives.
	IssueRemoteID int64

	Repository *vcs.RepositoryRecord
	Issue      *vcs.IssueRecord

	// Reason explains an ignored event.
	Reason string
}

// Interpret maps a webhook payload of the given provider and category to a
// directive. Unknown actions yield an ignore directive; a payload that cannot
// be decoded or normalized is an error.
func Interpret(provider models.VCS, category Category, payload []byte) (*Directive, error) {
	var (
		directive *Directive
		err       error
	)

	switch provider {
	case models.VCSGitHub:
		directive, err = interpretGitHub(category, payload)
	case models.VCSGitLab:
		directive, err = interpretGitLab(category, payload)
	default:
		return nil, fmt.Errorf("%w: provider %q", ErrUnsupportedEvent, provider)
	}
	if err != nil {
		return nil, err
	}

	directive.VCS = provider
	if directive.Kind == KindIgnore {
		logger.WithFields(logrus.Fields{
			"vcs":      provider,
			"category": category,
			"action":   directive.Action,
		}).Infof("Skipping webhook event: %s", directive.Reason)
	}
	return directive, nil
}

func ignore(action, reason string) *Directive {
	return &Directive{Kind: KindIgnore, Action: action, Reason: reason}
}
