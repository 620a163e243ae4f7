package handlers

import (
	"errors"
	"net/http"

	"github.com/alimgiray/openwiden/internal/services"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/gin-gonic/gin"
)

// statusFor maps a service error to the HTTP status and message returned to
// the client. Transport details never leave the server.
func statusFor(err error) (int, string) {
	var (
		validationErr   *services.ValidationError
		alreadyAddedErr *services.AlreadyAddedError
		privateErr      *services.PrivateRepositoryError
		notAddedErr     *services.NotAddedError
		conflictErr     *services.ConflictError
		credentialErr   *services.CredentialMissingError
		authErr         *vcs.RemoteAuthError
		fetchErr        *vcs.RemoteFetchError
	)

	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, vcs.ErrUnknownProvider):
		return http.StatusNotFound, "unknown provider"
	case errors.As(err, &conflictErr):
		return http.StatusConflict, conflictErr.Error()
	case errors.As(err, &alreadyAddedErr):
		return http.StatusConflict, alreadyAddedErr.Error()
	case errors.As(err, &notAddedErr):
		return http.StatusConflict, notAddedErr.Error()
	case errors.As(err, &privateErr):
		return http.StatusUnprocessableEntity, privateErr.Error()
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, validationErr.Error()
	case errors.As(err, &credentialErr), errors.As(err, &authErr):
		return http.StatusUnauthorized, "provider authorization required"
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, "provider unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func respondError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Request.URL.Path).Errorf("Request failed")
	}
	c.JSON(status, gin.H{"error": message})
}
