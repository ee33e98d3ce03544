package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/model"
)

const (
	// SessionCookie is the name of the HttpOnly session cookie.
	SessionCookie = "moodist_session"

	userKey = "session_user"
)

// Authenticator resolves a session token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (model.User, error)
}

// Session guards routes that require a logged in user.
type Session struct {
	auth   Authenticator
	logger *logger.Logger
}

// NewSession creates a new Session middleware.
func NewSession(auth Authenticator, logger *logger.Logger) *Session {
	return &Session{auth: auth, logger: logger}
}

// Require aborts with 401 unless the request carries a valid session, taken
// from the session cookie or a bearer Authorization header.
func (s *Session) Require(c *gin.Context) {
	token := SessionToken(c)
	if token == "" {
		unauthenticated(c)
		return
	}

	user, err := s.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, model.ErrUnauthenticated) {
			s.logger.Error("Session middleware: failed to authenticate",
				"request_id", c.GetString(RequestIDKey),
				"error", err.Error())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"error":   "INTERNAL_ERROR",
				"message": "Internal server error",
			})
			return
		}
		unauthenticated(c)
		return
	}

	c.Set(userKey, user)
	c.Next()
}

// SessionToken returns the session token of the request, if any.
func SessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// CurrentUser returns the user stored by Require.
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return model.User{}, false
	}
	user, ok := v.(model.User)
	return user, ok
}

func unauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":  "error",
		"error":   "UNAUTHENTICATED",
		"message": "Authentication required",
	})
}
