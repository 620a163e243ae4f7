package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/alimgiray/openwiden/internal/webhook"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"github.com/xanzy/go-gitlab"
)

const maxWebhookBody = 5 << 20

var (
	gitHubCategories = map[string]webhook.Category{
		"issues":     webhook.CategoryIssue,
		"repository": webhook.CategoryRepository,
		"star":       webhook.CategoryStar,
	}
	gitLabCategories = map[gitlab.EventType]webhook.Category{
		gitlab.EventTypeIssue:      webhook.CategoryIssue,
		gitlab.EventTypeSystemHook: webhook.CategoryRepository,
	}
)

// WebhookHandler verifies provider deliveries and queues them for the
// webhook workers
type WebhookHandler struct {
	dispatcher   services.Dispatcher
	gitHubSecret string
	gitLabSecret string
}

func NewWebhookHandler(dispatcher services.Dispatcher, gitHubSecret, gitLabSecret string) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:   dispatcher,
		gitHubSecret: gitHubSecret,
		gitLabSecret: gitLabSecret,
	}
}

// GitHub receives GitHub deliveries. The X-Hub-Signature-256 header is
// checked when a secret is configured.
func (h *WebhookHandler) GitHub(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := github.ValidatePayload(c.Request, []byte(h.gitHubSecret))
	if err != nil {
		logger.WithError(err).Warn("Rejected github webhook")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event := github.WebHookType(c.Request)
	if event == "ping" {
		c.JSON(http.StatusOK, gin.H{"status": "pong"})
		return
	}

	category, ok := gitHubCategories[event]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event": event})
		return
	}
	h.enqueue(c, models.VCSGitHub, category, body)
}

// GitLab receives GitLab project and system hook deliveries. The
// X-Gitlab-Token header must match when a secret is configured.
func (h *WebhookHandler) GitLab(c *gin.Context) {
	if h.gitLabSecret != "" {
		token := c.GetHeader("X-Gitlab-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.gitLabSecret)) != 1 {
			logger.Warnf("Rejected gitlab webhook")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	event := gitlab.HookEventType(c.Request)
	category, ok := gitLabCategories[event]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event": event})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	h.enqueue(c, models.VCSGitLab, category, body)
}

func (h *WebhookHandler) enqueue(c *gin.Context, provider models.VCS, category webhook.Category, body []byte) {
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not json"})
		return
	}

	taskID, err := h.dispatcher.Dispatch(c.Request.Context(), models.JobTypeWebhook, services.WebhookPayload{
		VCS:      provider,
		Category: category,
		Body:     json.RawMessage(body),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"vcs":      provider,
		"category": category,
		"task_id":  taskID,
	}).Info("Queued webhook")
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}
