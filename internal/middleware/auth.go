package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthRequired middleware rejects requests without a valid session
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := GetSession(c)

		if session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Next()
	}
}

// CurrentUserID returns the user of the request session, empty when anonymous
func CurrentUserID(c *gin.Context) string {
	if session := GetSession(c); session != nil {
		return session.UserID
	}
	return ""
}
