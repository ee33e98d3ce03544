package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dtroode/moodist-server/internal/api/http/middleware"
	"github.com/dtroode/moodist-server/internal/identifier"
	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/model"
	"github.com/dtroode/moodist-server/internal/service"
)

// AuthService is the account workflow behind the auth routes.
type AuthService interface {
	CreateUser(ctx context.Context, role model.Role, email, password string) (service.Registration, error)
	Verify(ctx context.Context, token, code string) (model.User, error)
	VerifyLink(ctx context.Context, token string) (model.User, error)
	ResendVerification(ctx context.Context, token string, role model.Role, email string) (service.Registration, error)
	Login(ctx context.Context, role model.Role, email, password string) (service.Session, error)
	RequestPasswordReset(ctx context.Context, role model.Role, email string) error
	ResetPassword(ctx context.Context, role model.Role, email, code, newPassword string) error
	ChangeIdentifier(ctx context.Context, currentID, requestedID string) (service.IdentifierChange, error)
	LookupIdentifier(ctx context.Context, uniqueID string) (model.UserSummary, error)
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Secure bool
	Domain string
}

// Auth serves registration, verification, login and password reset.
type Auth struct {
	service AuthService
	cookie  CookieConfig
	logger  *logger.Logger
}

func NewAuth(service AuthService, cookie CookieConfig, logger *logger.Logger) *Auth {
	return &Auth{service: service, cookie: cookie, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateUser handles POST /auth/create-user/:role.
func (h *Auth) CreateUser(c *gin.Context) {
	role, err := model.ParseRole(c.Param("role"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email and password are required")
		return
	}

	reg, err := h.service.CreateUser(c.Request.Context(), role, req.Email, req.Password)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	if reg.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"status":            false,
			"message":           "An account with this email already exists. Use password reset to regain access.",
			"redirect_to_reset": true,
		})
		return
	}

	c.JSON(http.StatusCreated, registrationBody(reg, "Account created. Check your email to verify it."))
}

type verifyRequest struct {
	Token string `json:"token" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// Verify handles POST /auth/verify.
func (h *Auth) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Token and code are required")
		return
	}

	user, err := h.service.Verify(c.Request.Context(), req.Token, req.Code)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, verifiedBody(user))
}

// VerifyLink handles GET /auth/verify-link/:token.
func (h *Auth) VerifyLink(c *gin.Context) {
	user, err := h.service.VerifyLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, verifiedBody(user))
}

type resendRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ResendVerification handles POST /auth/resend-verification.
func (h *Auth) ResendVerification(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Token == "" && req.Email == "") {
		badRequest(c, "A previous token or an email and role are required")
		return
	}

	var role model.Role
	if req.Token == "" {
		var err error
		if role, err = model.ParseRole(req.Role); err != nil {
			handleError(c, h.logger, err)
			return
		}
	}

	reg, err := h.service.ResendVerification(c.Request.Context(), req.Token, role, req.Email)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, registrationBody(reg, "A new verification email has been sent."))
}

type loginRequest struct {
	credentialsRequest
	Role string `json:"role" binding:"required"`
}

// Login handles POST /auth/login.
func (h *Auth) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email, password and role are required")
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	session, err := h.service.Login(c.Request.Context(), role, req.Email, req.Password)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	h.setSessionCookie(c, session.Token, time.Until(session.ExpiresAt))

	c.JSON(http.StatusOK, gin.H{
		"status":     true,
		"message":    "Login successful",
		"user":       session.User.Summary(),
		"token":      session.Token,
		"expires_at": session.ExpiresAt.UTC(),
	})
}

// Logout handles POST /auth/logout.
func (h *Auth) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -time.Second)
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Logged out"})
}

func (h *Auth) setSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, int(ttl.Seconds()), "/", h.cookie.Domain, h.cookie.Secure, true)
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

// RequestPasswordReset handles POST /auth/:role/request-password-reset.
// The response does not reveal whether the account exists.
func (h *Auth) RequestPasswordReset(c *gin.Context) {
	role, err := model.ParseRole(c.Param("role"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email is required")
		return
	}

	if err := h.service.RequestPasswordReset(c.Request.Context(), role, req.Email); err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  true,
		"message": "If an account exists for this email, a reset code has been sent.",
	})
}

type resetPasswordRequest struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ResetPassword handles POST /auth/:role/reset-password.
func (h *Auth) ResetPassword(c *gin.Context) {
	role, err := model.ParseRole(c.Param("role"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email, code and new password are required")
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), role, req.Email, req.Code, req.NewPassword); err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Password has been reset"})
}

type changeIdentifierRequest struct {
	CurrentID string `json:"current_unique_id"`
	NewID     string `json:"new_unique_id"`
}

// ChangeIdentifier handles POST /auth/change-user-id. The session user may
// only change its own identifier.
func (h *Auth) ChangeIdentifier(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		handleError(c, h.logger, model.ErrUnauthenticated)
		return
	}

	var req changeIdentifierRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	if req.CurrentID == "" {
		req.CurrentID = user.UniqueID
	}
	if !sameIdentifier(req.CurrentID, user.UniqueID) {
		handleError(c, h.logger, model.ErrForbidden)
		return
	}

	change, err := h.service.ChangeIdentifier(c.Request.Context(), req.CurrentID, req.NewID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              true,
		"message":             "Unique ID changed successfully",
		"old_unique_id":       change.OldID,
		"new_unique_id":       change.NewID,
		"connections_revoked": change.ConnectionsRevoked,
	})
}

// LookupUser handles GET /api/users/:unique_id.
func (h *Auth) LookupUser(c *gin.Context) {
	summary, err := h.service.LookupIdentifier(c.Request.Context(), c.Param("unique_id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true, "user": summary})
}

func sameIdentifier(requested, own string) bool {
	return own != "" && identifier.Normalize(requested) == own
}

func registrationBody(reg service.Registration, message string) gin.H {
	return gin.H{
		"status":          true,
		"message":         message,
		"email":           reg.Email,
		"role":            reg.Role,
		"token":           reg.Token,
		"expires_at":      reg.ExpiresAt.UTC(),
		"expires_in_days": int(time.Until(reg.ExpiresAt).Round(time.Hour).Hours() / 24),
		"email_sent":      reg.EmailSent,
	}
}

func verifiedBody(user model.User) gin.H {
	return gin.H{
		"status":    true,
		"message":   "Email verified successfully",
		"unique_id": user.UniqueID,
		"role":      user.Role,
	}
}
