package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/alimgiray/openwiden/pkg/config"
	"github.com/gin-gonic/gin"
)

const (
	sessionCookie = "session"
	sessionTTL    = 24 * time.Hour
)

type SessionData struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionMiddleware handles session management using cookies. A valid
// session is extended on every successful response.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData := getSessionFromCookie(c)
		c.Set("session", sessionData)

		if sessionData != nil {
			c.Writer = &extendingWriter{ResponseWriter: c.Writer, session: sessionData}
		}

		c.Next()
	}
}

// extendingWriter refreshes the session cookie right before the status line
// of a non-error response is written
type extendingWriter struct {
	gin.ResponseWriter
	session *SessionData
	done    bool
}

func (w *extendingWriter) WriteHeader(code int) {
	if !w.done && code > 0 && code < http.StatusBadRequest {
		w.done = true
		extended := *w.session
		extended.ExpiresAt = time.Now().Add(sessionTTL)
		if value, err := encodeSession(&extended); err == nil {
			http.SetCookie(w.ResponseWriter, sessionHTTPCookie(value, int(sessionTTL.Seconds())))
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *extendingWriter) Write(data []byte) (int, error) {
	w.WriteHeader(w.Status())
	return w.ResponseWriter.Write(data)
}

func (w *extendingWriter) WriteString(s string) (int, error) {
	w.WriteHeader(w.Status())
	return w.ResponseWriter.WriteString(s)
}

// getSessionFromCookie extracts and validates session data from cookie
func getSessionFromCookie(c *gin.Context) *SessionData {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	// signature.data
	parts := strings.Split(cookie, ".")
	if len(parts) != 2 {
		return nil
	}

	signature, data := parts[0], parts[1]
	if !verifySignature(data, signature) {
		return nil
	}

	decodedData, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil
	}

	var sessionData SessionData
	if err := json.Unmarshal(decodedData, &sessionData); err != nil {
		return nil
	}

	if time.Now().After(sessionData.ExpiresAt) {
		return nil
	}

	return &sessionData
}

func encodeSession(sessionData *SessionData) (string, error) {
	data, err := json.Marshal(sessionData)
	if err != nil {
		return "", err
	}

	encodedData := base64.URLEncoding.EncodeToString(data)
	return createSignature(encodedData) + "." + encodedData, nil
}

func sessionHTTPCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		MaxAge:   maxAge,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSession creates a new session cookie
func SetSession(c *gin.Context, userID, username, email string) error {
	value, err := encodeSession(&SessionData{
		UserID:    userID,
		Username:  username,
		Email:     email,
		ExpiresAt: time.Now().Add(sessionTTL),
	})
	if err != nil {
		return err
	}

	http.SetCookie(c.Writer, sessionHTTPCookie(value, int(sessionTTL.Seconds())))
	return nil
}

// ClearSession removes the session cookie
func ClearSession(c *gin.Context) {
	http.SetCookie(c.Writer, sessionHTTPCookie("", -1))
}

// createSignature creates HMAC signature for data
func createSignature(data string) string {
	h := hmac.New(sha256.New, []byte(config.AppConfig.Session.Secret))
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies HMAC signature
func verifySignature(data, signature string) bool {
	expectedSignature := createSignature(data)
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// GetSession retrieves session data from context
func GetSession(c *gin.Context) *SessionData {
	session, exists := c.Get("session")
	if !exists {
		return nil
	}

	if sessionData, ok := session.(*SessionData); ok {
		return sessionData
	}

	return nil
}
