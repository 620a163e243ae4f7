package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/alimgiray/openwiden/internal/middleware"
	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const stateCookie = "oauth_state"

type AuthHandler struct {
	userService *services.UserService
}

func NewAuthHandler(userService *services.UserService) *AuthHandler {
	return &AuthHandler{
		userService: userService,
	}
}

// Login redirects to the provider authorization page
func (h *AuthHandler) Login(c *gin.Context) {
	provider := models.VCS(c.Param("provider"))
	state := uuid.New().String()

	authURL, err := h.userService.LoginURL(provider, state)
	if err != nil {
		respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, 600, "/auth", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// Callback completes the OAuth flow, signs the user in and queues a sync
func (h *AuthHandler) Callback(c *gin.Context) {
	provider := models.VCS(c.Param("provider"))

	state, err := c.Cookie(stateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(state), []byte(c.Query("state"))) != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/auth", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), provider, code, middleware.CurrentUserID(c))
	if err != nil {
		logger.WithError(err).WithField("vcs", provider).Warn("OAuth callback failed")
		respondError(c, err)
		return
	}

	if err := middleware.SetSession(c, user.ID, user.Username, user.Email); err != nil {
		respondError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{"user_id": user.ID, "vcs": provider}).Info("User signed in")
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout handles user logout
func (h *AuthHandler) Logout(c *gin.Context) {
	middleware.ClearSession(c)
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

// Me returns the signed-in user
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.userService.GetUserByID(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Sync queues a sync of every provider account of the signed-in user
func (h *AuthHandler) Sync(c *gin.Context) {
	taskIDs, err := h.userService.RequestSync(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_ids": taskIDs})
}
