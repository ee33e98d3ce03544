package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/dtroode/moodist-server/internal/identifier"
	"github.com/dtroode/moodist-server/internal/logger"
	moodistmail "github.com/dtroode/moodist-server/internal/mail"
	"github.com/dtroode/moodist-server/internal/metrics"
	"github.com/dtroode/moodist-server/internal/model"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	codeDigits     = 6
)

// AuthConfig holds the token lifetimes and the public address used in emails.
type AuthConfig struct {
	VerificationTTL time.Duration
	ResetTTL        map[model.Role]time.Duration
	PublicURL       string
}

// DefaultResetTTL is used for roles without a configured reset lifetime.
const DefaultResetTTL = 10 * time.Minute

func (c AuthConfig) resetTTL(role model.Role) time.Duration {
	if ttl, ok := c.ResetTTL[role]; ok && ttl > 0 {
		return ttl
	}
	return DefaultResetTTL
}

// Registration is the outcome of CreateUser and ResendVerification.
type Registration struct {
	ExpiresAt time.Time
	Token     string
	Email     string
	Role      model.Role
	Duplicate bool
	EmailSent bool
}

// Session is an authenticated login.
type Session struct {
	ExpiresAt time.Time
	User      model.User
	Token     string
}

// IdentifierChange reports a completed identifier regeneration.
type IdentifierChange struct {
	OldID              string `json:"old_unique_id"`
	NewID              string `json:"new_unique_id"`
	ConnectionsRevoked int    `json:"connections_revoked"`
}

// Auth implements registration, verification, login and password reset.
type Auth struct {
	users    model.UserDirectory
	codec    model.TokenCodec
	sessions model.SessionManager
	hasher   model.PasswordHasher
	ids      model.IdentifierGenerator
	mailer   model.Mailer
	limiter  model.AttemptLimiter
	metrics  *metrics.Metrics
	logger   *logger.Logger
	cfg      AuthConfig
	codes    io.Reader
	now      func() time.Time
}

func NewAuth(
	users model.UserDirectory,
	codec model.TokenCodec,
	sessions model.SessionManager,
	hasher model.PasswordHasher,
	ids model.IdentifierGenerator,
	mailer model.Mailer,
	limiter model.AttemptLimiter,
	metrics *metrics.Metrics,
	logger *logger.Logger,
	cfg AuthConfig,
) *Auth {
	if limiter == nil {
		limiter = model.NoopLimiter{}
	}
	return &Auth{
		users:    users,
		codec:    codec,
		sessions: sessions,
		hasher:   hasher,
		ids:      ids,
		mailer:   mailer,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		codes:    rand.Reader,
		now:      time.Now,
	}
}

// CreateUser registers a pending account or refreshes an unverified one.
// A verified account is reported as Duplicate and left untouched.
func (a *Auth) CreateUser(ctx context.Context, role model.Role, email, password string) (reg Registration, err error) {
	defer func() { a.metrics.AuthOperation("create_user", role.String(), err) }()

	if !role.Valid() {
		return Registration{}, model.ErrInvalidRole
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return Registration{}, err
	}
	if err := validatePassword(password); err != nil {
		return Registration{}, err
	}

	a.logger.Debug("Auth service: starting user registration",
		"role", role,
		"email", email)

	existing, err := a.users.FindByEmail(ctx, role, email)
	if err == nil && !existing.Pending() {
		a.logger.Info("Auth service: registration for verified account",
			"role", role,
			"email", email)
		return Registration{Email: email, Role: role, Duplicate: true}, nil
	}
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		a.logger.Error("Auth service: failed to get user by email",
			"role", role,
			"error", err.Error())
		return Registration{}, fmt.Errorf("failed to get user by email: %w", err)
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		a.logger.Error("Auth service: failed to hash password",
			"error", err.Error())
		return Registration{}, fmt.Errorf("failed to hash password: %w", err)
	}

	code, err := a.newCode()
	if err != nil {
		return Registration{}, err
	}

	expiresAt := a.now().Add(a.cfg.VerificationTTL)
	token, err := a.codec.Issue(model.TokenClaims{
		Email:    email,
		Role:     role,
		Purpose:  model.PurposeVerify,
		CodeHash: a.codec.HashCode(code),
	}, a.cfg.VerificationTTL)
	if err != nil {
		return Registration{}, fmt.Errorf("failed to issue verification token: %w", err)
	}

	err = withRetry(ctx, a.metrics, func(ctx context.Context) error {
		current, err := a.users.FindByEmail(ctx, role, email)
		var rev int64
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return err
		case !current.Pending():
			return model.ErrAlreadyVerified
		default:
			rev = current.Rev
		}

		_, err = a.users.CreatePending(ctx, model.PendingUser{
			Role:              role,
			Email:             email,
			PasswordHash:      hash,
			VerificationToken: token,
			TokenExpiresAt:    expiresAt,
		}, rev)
		return err
	})
	if errors.Is(err, model.ErrAlreadyVerified) {
		return Registration{Email: email, Role: role, Duplicate: true}, nil
	}
	if err != nil {
		a.logger.Error("Auth service: failed to store pending user",
			"role", role,
			"error", err.Error())
		return Registration{}, fmt.Errorf("failed to store pending user: %w", err)
	}

	reg = Registration{
		ExpiresAt: expiresAt,
		Token:     token,
		Email:     email,
		Role:      role,
	}
	reg.EmailSent = a.sendVerification(ctx, email, token, code)

	a.logger.Info("Auth service: pending user stored",
		"role", role,
		"email_sent", reg.EmailSent)

	return reg, nil
}

// Verify confirms an account with the emailed token and code.
func (a *Auth) Verify(ctx context.Context, token, code string) (model.User, error) {
	return a.verify(ctx, token, code, true)
}

// VerifyLink confirms an account from the emailed link, which carries no code.
func (a *Auth) VerifyLink(ctx context.Context, token string) (model.User, error) {
	return a.verify(ctx, token, "", false)
}

func (a *Auth) verify(ctx context.Context, token, code string, requireCode bool) (verified model.User, err error) {
	claims, err := a.codec.Redeem(token, model.PurposeVerify, a.cfg.VerificationTTL)
	if err != nil {
		a.logger.Debug("Auth service: verification token rejected",
			"error", err.Error())
		return model.User{}, err
	}
	defer func() { a.metrics.AuthOperation("verify", claims.Role.String(), err) }()

	if err := a.allow(ctx, model.ScopeVerify, model.UserKey(claims.Role, claims.Email)); err != nil {
		return model.User{}, err
	}

	if requireCode && !a.codec.MatchCode(claims, strings.TrimSpace(code)) {
		return model.User{}, model.ErrInvalidCode
	}

	err = withRetry(ctx, a.metrics, func(ctx context.Context) error {
		user, err := a.users.FindByEmail(ctx, claims.Role, claims.Email)
		if err != nil {
			return err
		}

		switch {
		case user.Status == model.StatusVerified:
			return model.ErrAlreadyUsed
		case !user.Pending():
			return model.ErrInvalidToken
		case user.VerificationToken != token:
			return model.ErrInvalidToken
		case user.TokenExpiresAt != nil && a.now().After(*user.TokenExpiresAt):
			return model.ErrTokenExpired
		}

		uniqueID, err := a.ids.Generate(ctx, a.users.IdentifierTaken)
		if err != nil {
			return err
		}

		verified, err = a.users.MarkVerified(ctx, user, uniqueID)
		if errors.Is(err, model.ErrAlreadyVerified) {
			return model.ErrAlreadyUsed
		}
		return err
	})
	if err != nil {
		if !isClientError(err) {
			a.logger.Error("Auth service: failed to verify user",
				"role", claims.Role,
				"error", err.Error())
		}
		return model.User{}, err
	}

	a.logger.Info("Auth service: user verified",
		"role", verified.Role,
		"unique_id", verified.UniqueID)

	return verified, nil
}

// ResendVerification issues a fresh verification token for a pending account,
// identified either by a previous token (of any age) or by role and email.
func (a *Auth) ResendVerification(ctx context.Context, token string, role model.Role, email string) (Registration, error) {
	if token != "" {
		claims, err := a.codec.Decode(token)
		if err != nil {
			return Registration{}, err
		}
		if claims.Purpose != model.PurposeVerify {
			return Registration{}, model.ErrPurposeMismatch
		}
		role, email = claims.Role, claims.Email
	}

	if !role.Valid() {
		return Registration{}, model.ErrInvalidRole
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Registration{}, err
	}

	var reg Registration
	var code string

	err = withRetry(ctx, a.metrics, func(ctx context.Context) error {
		user, err := a.users.FindByEmail(ctx, role, email)
		if err != nil {
			return err
		}
		if !user.Pending() {
			return model.ErrAlreadyVerified
		}

		code, err = a.newCode()
		if err != nil {
			return err
		}
		fresh, err := a.codec.Issue(model.TokenClaims{
			Email:    email,
			Role:     role,
			Purpose:  model.PurposeVerify,
			CodeHash: a.codec.HashCode(code),
		}, a.cfg.VerificationTTL)
		if err != nil {
			return fmt.Errorf("failed to issue verification token: %w", err)
		}

		expiresAt := a.now().Add(a.cfg.VerificationTTL)
		if _, err := a.users.ReissueToken(ctx, user, fresh, expiresAt); err != nil {
			return err
		}

		reg = Registration{ExpiresAt: expiresAt, Token: fresh, Email: email, Role: role}
		return nil
	})
	a.metrics.AuthOperation("resend_verification", role.String(), err)
	if err != nil {
		return Registration{}, err
	}

	reg.EmailSent = a.sendVerification(ctx, email, reg.Token, code)

	a.logger.Info("Auth service: verification token reissued",
		"role", role,
		"email_sent", reg.EmailSent)

	return reg, nil
}

// Login checks credentials and issues a session. Every failure is reported
// as ErrInvalidCredentials.
func (a *Auth) Login(ctx context.Context, role model.Role, email, password string) (session Session, err error) {
	defer func() { a.metrics.AuthOperation("login", role.String(), err) }()

	if !role.Valid() {
		return Session{}, model.ErrInvalidRole
	}
	email = strings.ToLower(strings.TrimSpace(email))

	if err := a.allow(ctx, model.ScopeLogin, model.UserKey(role, email)); err != nil {
		return Session{}, err
	}

	user, err := a.users.FindByEmail(ctx, role, email)
	if errors.Is(err, model.ErrNotFound) {
		a.hasher.DummyVerify(password)
		return Session{}, model.ErrInvalidCredentials
	}
	if err != nil {
		a.logger.Error("Auth service: failed to get user by email",
			"role", role,
			"error", err.Error())
		return Session{}, fmt.Errorf("failed to get user by email: %w", err)
	}

	ok, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		a.logger.Error("Auth service: stored password hash is unusable",
			"role", role,
			"unique_id", user.UniqueID,
			"error", err.Error())
		return Session{}, model.ErrInvalidCredentials
	}
	if !ok || user.Status != model.StatusVerified {
		return Session{}, model.ErrInvalidCredentials
	}

	if a.hasher.NeedsUpgrade(user.PasswordHash) {
		user = a.upgradeHash(ctx, user, password)
	}

	token, expiresAt, err := a.sessions.Issue(user.Key, user.CredentialStamp())
	if err != nil {
		return Session{}, fmt.Errorf("failed to issue session: %w", err)
	}

	a.logger.Info("Auth service: user logged in",
		"role", role,
		"unique_id", user.UniqueID)

	return Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// upgradeHash rehashes the password with the current parameters. Failures
// are logged and leave the stored hash unchanged. Open sessions stay valid.
func (a *Auth) upgradeHash(ctx context.Context, user model.User, password string) model.User {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return user
	}
	updated, err := a.users.RehashPassword(ctx, user, hash)
	if err != nil {
		a.logger.Warn("Auth service: failed to upgrade password hash",
			"unique_id", user.UniqueID,
			"error", err.Error())
		return user
	}
	return updated
}

// Authenticate resolves a session token to a verified user. Sessions issued
// before the last password change are rejected.
func (a *Auth) Authenticate(ctx context.Context, sessionToken string) (model.User, error) {
	key, stamp, err := a.sessions.Parse(sessionToken)
	if err != nil {
		return model.User{}, model.ErrUnauthenticated
	}
	role, email, err := model.ParseUserKey(key)
	if err != nil {
		return model.User{}, model.ErrUnauthenticated
	}

	user, err := a.users.FindByEmail(ctx, role, email)
	if errors.Is(err, model.ErrNotFound) {
		return model.User{}, model.ErrUnauthenticated
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to load session user: %w", err)
	}
	if user.Status != model.StatusVerified || stamp != user.CredentialStamp() {
		return model.User{}, model.ErrUnauthenticated
	}

	return user, nil
}

// RequestPasswordReset emails a reset code to a verified account. It reports
// success whether or not the account exists.
func (a *Auth) RequestPasswordReset(ctx context.Context, role model.Role, email string) (err error) {
	defer func() { a.metrics.AuthOperation("request_password_reset", role.String(), err) }()

	if !role.Valid() {
		return model.ErrInvalidRole
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return err
	}

	ttl := a.cfg.resetTTL(role)
	code, err := a.newCode()
	if err != nil {
		return err
	}
	token, err := a.codec.Issue(model.TokenClaims{
		Email:    email,
		Role:     role,
		Purpose:  model.PurposeReset,
		CodeHash: a.codec.HashCode(code),
	}, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue reset token: %w", err)
	}

	stored := false
	err = withRetry(ctx, a.metrics, func(ctx context.Context) error {
		user, err := a.users.FindByEmail(ctx, role, email)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if user.Status != model.StatusVerified {
			return nil
		}

		if _, err := a.users.SetResetToken(ctx, user, token, a.now().Add(ttl)); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		a.logger.Error("Auth service: failed to store reset token",
			"role", role,
			"error", err.Error())
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if !stored {
		a.logger.Debug("Auth service: reset requested for unknown or unverified account",
			"role", role)
		return nil
	}

	msg, err := moodistmail.PasswordResetMessage(email, code, int(ttl/time.Minute))
	if err == nil {
		err = a.mailer.Send(ctx, msg)
	}
	a.metrics.Mail(string(model.MessagePasswordReset), err)
	if err != nil {
		a.logger.Error("Auth service: failed to send reset email",
			"role", role,
			"error", err.Error())
	}

	return nil
}

// ResetPassword replaces the password when code matches the stored reset
// token. The token is cleared, so a code works once.
func (a *Auth) ResetPassword(ctx context.Context, role model.Role, email, code, newPassword string) (err error) {
	defer func() { a.metrics.AuthOperation("reset_password", role.String(), err) }()

	if !role.Valid() {
		return model.ErrInvalidRole
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if err := a.allow(ctx, model.ScopeResetPassword, model.UserKey(role, email)); err != nil {
		return err
	}

	code = strings.TrimSpace(code)
	var hash string

	err = withRetry(ctx, a.metrics, func(ctx context.Context) error {
		user, err := a.users.FindByEmail(ctx, role, email)
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if err := a.checkResetCode(user, code); err != nil {
			return err
		}

		if hash == "" {
			if hash, err = a.hasher.Hash(newPassword); err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
		}

		_, err = a.users.UpdatePassword(ctx, user, hash)
		return err
	})
	if err != nil {
		return err
	}

	a.logger.Info("Auth service: password reset",
		"role", role)

	return nil
}

func (a *Auth) checkResetCode(user model.User, code string) error {
	if user.ResetToken == "" {
		return model.ErrInvalidCode
	}
	if user.ResetExpiresAt != nil && a.now().After(*user.ResetExpiresAt) {
		return model.ErrTokenExpired
	}

	claims, err := a.codec.Redeem(user.ResetToken, model.PurposeReset, a.cfg.resetTTL(user.Role))
	switch {
	case errors.Is(err, model.ErrTokenExpired):
		return model.ErrTokenExpired
	case err != nil:
		return model.ErrInvalidCode
	}

	if claims.Email != user.Email || claims.Role != user.Role || !a.codec.MatchCode(claims, code) {
		return model.ErrInvalidCode
	}
	return nil
}

// ChangeIdentifier gives the owner of currentID a new identifier, either the
// requested one or a generated one. The old identifier is retired and its
// connections are revoked in the same store write, so a failure leaves both
// untouched and the call can be retried with currentID.
func (a *Auth) ChangeIdentifier(ctx context.Context, currentID, requestedID string) (change IdentifierChange, err error) {
	currentID = identifier.Normalize(currentID)
	if !identifier.Valid(currentID) {
		return IdentifierChange{}, model.ErrInvalidIdentifier
	}

	requestedID = identifier.Normalize(requestedID)
	if requestedID != "" {
		if !identifier.Valid(requestedID) {
			return IdentifierChange{}, model.ErrInvalidIdentifier
		}
		if requestedID == currentID {
			return IdentifierChange{}, model.ErrSameIdentifier
		}
	}

	var (
		updated model.User
		revoked int
	)
	err = withRetry(ctx, a.metrics, func(ctx context.Context) error {
		user, err := a.users.FindByIdentifier(ctx, currentID)
		if err != nil {
			return err
		}

		newID := requestedID
		if newID == "" {
			if newID, err = a.ids.Generate(ctx, a.users.IdentifierTaken); err != nil {
				return err
			}
		}

		updated, revoked, err = a.users.RegenerateIdentifier(ctx, user, newID, model.RevokeReasonUserIDChange)
		if requestedID != "" && errors.Is(err, model.ErrIdentifierTaken) {
			return permanent(err)
		}
		return err
	})
	a.metrics.AuthOperation("change_identifier", updated.Role.String(), err)
	if err != nil {
		if !isClientError(err) {
			a.logger.Error("Auth service: failed to change unique id",
				"unique_id", currentID,
				"error", err.Error())
		}
		return IdentifierChange{}, err
	}

	a.metrics.ConnectionTransition(string(model.ConnectionRevoked), revoked)

	a.logger.Info("Auth service: unique id changed",
		"old_unique_id", currentID,
		"new_unique_id", updated.UniqueID,
		"connections_revoked", revoked)

	return IdentifierChange{OldID: currentID, NewID: updated.UniqueID, ConnectionsRevoked: revoked}, nil
}

// LookupIdentifier returns the public view of a verified account.
func (a *Auth) LookupIdentifier(ctx context.Context, uniqueID string) (model.UserSummary, error) {
	uniqueID = identifier.Normalize(uniqueID)
	if !identifier.Valid(uniqueID) {
		return model.UserSummary{}, model.ErrInvalidIdentifier
	}

	user, err := a.users.FindByIdentifier(ctx, uniqueID)
	if err != nil {
		return model.UserSummary{}, err
	}
	if user.Status != model.StatusVerified {
		return model.UserSummary{}, model.ErrNotFound
	}
	return user.Summary(), nil
}

// Ping reports whether the user directory is reachable.
func (a *Auth) Ping(ctx context.Context) error {
	return a.users.Ping(ctx)
}

func (a *Auth) sendVerification(ctx context.Context, email, token, code string) bool {
	link := ""
	if a.cfg.PublicURL != "" {
		link = strings.TrimRight(a.cfg.PublicURL, "/") + "/auth/verify-link/" + token
	}

	msg, err := moodistmail.VerificationMessage(email, link, code, int(a.cfg.VerificationTTL/(24*time.Hour)))
	if err == nil {
		err = a.mailer.Send(ctx, msg)
	}
	a.metrics.Mail(string(model.MessageVerification), err)
	if err != nil {
		a.logger.Error("Auth service: failed to send verification email",
			"error", err.Error())
		return false
	}
	return true
}

func (a *Auth) allow(ctx context.Context, scope, key string) error {
	ok, err := a.limiter.Allow(ctx, scope, key)
	if err != nil {
		return fmt.Errorf("failed to consult attempt limiter: %w", err)
	}
	if !ok {
		a.logger.Warn("Auth service: attempt rejected by limiter",
			"scope", scope)
		return model.ErrRateLimited
	}
	return nil
}

// newCode returns a uniformly drawn six digit code.
func (a *Auth) newCode() (string, error) {
	n, err := rand.Int(a.codes, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > 254 {
		return "", model.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", model.ErrInvalidEmail
	}
	return email, nil
}

func validatePassword(password string) error {
	n := len([]rune(password))
	if n < minPasswordLen || n > maxPasswordLen {
		return model.ErrInvalidPassword
	}
	return nil
}

// isClientError reports whether err is an expected outcome of bad input.
func isClientError(err error) bool {
	for _, target := range []error{
		model.ErrNotFound, model.ErrInvalidToken, model.ErrAlreadyUsed, model.ErrTokenExpired,
		model.ErrInvalidCode, model.ErrInvalidIdentifier, model.ErrIdentifierTaken, model.ErrRateLimited,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
