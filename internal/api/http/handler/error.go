package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dtroode/moodist-server/internal/api/http/middleware"
	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/model"
)

// Error codes returned in the "error" field of failed responses.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidRole       = "INVALID_ROLE"
	CodeInvalidCredential = "INVALID_CREDENTIALS"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeTokenInvalid      = "TOKEN_INVALID"
	CodeTokenUsed         = "TOKEN_ALREADY_USED"
	CodeInvalidCode       = "INVALID_CODE"
	CodeAlreadyVerified   = "ALREADY_VERIFIED"
	CodeIdentifierTaken   = "UNIQUE_ID_TAKEN"
	CodeConnectionExists  = "CONNECTION_EXISTS"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	apiError
}{
	{model.ErrInvalidRole, apiError{http.StatusBadRequest, CodeInvalidRole, "Unknown user role"}},
	{model.ErrInvalidEmail, apiError{http.StatusBadRequest, CodeValidation, "Invalid email address"}},
	{model.ErrInvalidPassword, apiError{http.StatusBadRequest, CodeValidation, "Password must be between 8 and 128 characters"}},
	{model.ErrInvalidIdentifier, apiError{http.StatusBadRequest, CodeValidation, "Unique ID must be 6 letters"}},
	{model.ErrSameIdentifier, apiError{http.StatusBadRequest, CodeValidation, "New unique ID must differ from the current one"}},
	{model.ErrInvalidInput, apiError{http.StatusBadRequest, CodeValidation, "Invalid request"}},
	{model.ErrInvalidCredentials, apiError{http.StatusUnauthorized, CodeInvalidCredential, "Invalid email or password"}},
	{model.ErrUnauthenticated, apiError{http.StatusUnauthorized, CodeUnauthenticated, "Authentication required"}},
	{model.ErrForbidden, apiError{http.StatusForbidden, CodeForbidden, "Operation not permitted"}},
	{model.ErrNotFound, apiError{http.StatusNotFound, CodeNotFound, "Not found"}},
	{model.ErrTokenExpired, apiError{http.StatusBadRequest, CodeTokenExpired, "The token or code has expired"}},
	{model.ErrInvalidSignature, apiError{http.StatusBadRequest, CodeTokenInvalid, "Invalid token"}},
	{model.ErrPurposeMismatch, apiError{http.StatusBadRequest, CodeTokenInvalid, "Invalid token"}},
	{model.ErrInvalidToken, apiError{http.StatusBadRequest, CodeTokenInvalid, "Invalid token"}},
	{model.ErrAlreadyUsed, apiError{http.StatusBadRequest, CodeTokenUsed, "This verification link has already been used"}},
	{model.ErrInvalidCode, apiError{http.StatusBadRequest, CodeInvalidCode, "Invalid or expired code"}},
	{model.ErrAlreadyVerified, apiError{http.StatusConflict, CodeAlreadyVerified, "Account is already verified"}},
	{model.ErrIdentifierTaken, apiError{http.StatusConflict, CodeIdentifierTaken, "Unique ID is already taken"}},
	{model.ErrConnectionExists, apiError{http.StatusConflict, CodeConnectionExists, "Connection already exists"}},
	{model.ErrInvalidTransition, apiError{http.StatusConflict, CodeInvalidTransition, "Connection cannot change to that status"}},
	{model.ErrRateLimited, apiError{http.StatusTooManyRequests, CodeRateLimited, "Too many attempts, try again later"}},
}

var internalError = apiError{http.StatusInternalServerError, CodeInternal, "Internal server error"}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return internalError
}

// handleError writes the error response for err. Details of unexpected
// errors are logged, never returned.
func handleError(c *gin.Context, log *logger.Logger, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		log.Error("HTTP handler: request failed",
			"path", c.FullPath(),
			"request_id", c.GetString(middleware.RequestIDKey),
			"error", err.Error())
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.status, gin.H{
		"status":  "error",
		"error":   e.code,
		"message": e.message,
	})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"error":   CodeValidation,
		"message": message,
	})
}
