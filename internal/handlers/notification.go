package handlers

import (
	"net/http"

	"github.com/alimgiray/openwiden/internal/middleware"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// List returns the notifications of the signed-in user, newest first.
// ?unread=true limits the list to unread ones.
func (h *NotificationHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	notifications, err := h.notificationService.List(c.Request.Context(), middleware.CurrentUserID(c), unreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// MarkRead marks every notification of the signed-in user as read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notificationService.MarkRead(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
