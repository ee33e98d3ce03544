package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dtroode/moodist-server/internal/model"
)

var _ model.UserDirectory = (*UserRepository)(nil)

// partitions maps each role to the table holding its users.
var partitions = map[model.Role]string{
	model.RolePatient:   "patient_users",
	model.RoleClinician: "clinician_users",
	model.RoleAdmin:     "admin_users",
}

const userColumns = `key, email, password_hash, status, is_verified, verification_token, token_expires_at,
	verified_at, COALESCE(unique_id, ''), reset_token, reset_expires_at, identifier_changed_at,
	password_changed_at, created_at, updated_at, rev`

// UserRepository implements model.UserDirectory on one table per role plus
// the user_identifiers claims table shared by all roles.
type UserRepository struct {
	db  DB
	now func() time.Time
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{
		db:  db,
		now: time.Now,
	}
}

func partition(role model.Role) (string, error) {
	table, ok := partitions[role]
	if !ok {
		return "", model.ErrInvalidRole
	}
	return table, nil
}

func scanUser(row pgx.Row, role model.Role) (model.User, error) {
	u := model.User{Role: role}
	var status string
	err := row.Scan(
		&u.Key, &u.Email, &u.PasswordHash, &status, &u.IsVerified, &u.VerificationToken, &u.TokenExpiresAt,
		&u.VerifiedAt, &u.UniqueID, &u.ResetToken, &u.ResetExpiresAt, &u.IdentifierChangedAt,
		&u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt, &u.Rev,
	)
	if err != nil {
		return model.User{}, err
	}
	u.Status = model.UserStatus(status)
	return u, nil
}

func (r *UserRepository) CreatePending(ctx context.Context, user model.PendingUser, expectedRev int64) (model.User, error) {
	table, err := partition(user.Role)
	if err != nil {
		return model.User{}, err
	}

	key := model.UserKey(user.Role, user.Email)
	now := r.now().UTC()

	var row pgx.Row
	if expectedRev == 0 {
		query := fmt.Sprintf(`INSERT INTO %s (key, email, password_hash, status, is_verified, verification_token,
				token_expires_at, created_at, updated_at, rev)
			VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $7, 1)
			ON CONFLICT (key) DO NOTHING
			RETURNING %s`, table, userColumns)
		row = r.db.QueryRow(ctx, query,
			key, user.Email, user.PasswordHash, string(model.StatusPendingVerification),
			user.VerificationToken, user.TokenExpiresAt, now,
		)
	} else {
		query := fmt.Sprintf(`UPDATE %s
			SET password_hash = $2, verification_token = $3, token_expires_at = $4, updated_at = $5, rev = rev + 1
			WHERE key = $1 AND rev = $6 AND status = $7
			RETURNING %s`, table, userColumns)
		row = r.db.QueryRow(ctx, query,
			key, user.PasswordHash, user.VerificationToken, user.TokenExpiresAt, now,
			expectedRev, string(model.StatusPendingVerification),
		)
	}

	saved, err := scanUser(row, user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = r.classifyMiss(ctx, user.Role, key, true)
			if errors.Is(err, model.ErrNotFound) {
				return model.User{}, model.ErrRevisionConflict
			}
			return model.User{}, err
		}
		return model.User{}, fmt.Errorf("failed to write pending user: %w", err)
	}

	return saved, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, role model.Role, email string) (model.User, error) {
	return r.findByKey(ctx, role, model.UserKey(role, email))
}

func (r *UserRepository) findByKey(ctx context.Context, role model.Role, key string) (model.User, error) {
	table, err := partition(role)
	if err != nil {
		return model.User{}, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, userColumns, table)

	user, err := scanUser(r.db.QueryRow(ctx, query, key), role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user by key: %w", err)
	}

	return user, nil
}

func (r *UserRepository) FindByIdentifier(ctx context.Context, uniqueID string) (model.User, error) {
	var role, key string
	err := r.db.QueryRow(ctx,
		`SELECT role, user_key FROM user_identifiers WHERE unique_id = $1`, uniqueID,
	).Scan(&role, &key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to resolve unique id: %w", err)
	}

	user, err := r.findByKey(ctx, model.Role(role), key)
	if err != nil {
		return model.User{}, err
	}
	if user.UniqueID != uniqueID {
		return model.User{}, model.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) IdentifierTaken(ctx context.Context, uniqueID string) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_identifiers WHERE unique_id = $1)`, uniqueID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check unique id: %w", err)
	}
	return taken, nil
}

func (r *UserRepository) ReissueToken(ctx context.Context, user model.User, token string, expiresAt time.Time) (model.User, error) {
	return r.update(ctx, user, `verification_token = $3, token_expires_at = $4`, true,
		token, expiresAt)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, user model.User, passwordHash string) (model.User, error) {
	return r.update(ctx, user, `password_hash = $3, password_changed_at = $4, reset_token = '', reset_expires_at = NULL`, false,
		passwordHash, r.now().UTC())
}

func (r *UserRepository) RehashPassword(ctx context.Context, user model.User, passwordHash string) (model.User, error) {
	return r.update(ctx, user, `password_hash = $3`, false,
		passwordHash)
}

func (r *UserRepository) SetResetToken(ctx context.Context, user model.User, token string, expiresAt time.Time) (model.User, error) {
	return r.update(ctx, user, `reset_token = $3, reset_expires_at = $4`, false,
		token, expiresAt)
}

// update applies set to the record at user.Rev. Placeholders $1 and $2 are
// reserved for the key and the expected revision.
func (r *UserRepository) update(ctx context.Context, user model.User, set string, pendingOnly bool, args ...any) (model.User, error) {
	table, err := partition(user.Role)
	if err != nil {
		return model.User{}, err
	}
	cond := ""
	if pendingOnly {
		cond = fmt.Sprintf(" AND status = '%s'", model.StatusPendingVerification)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = $%d, rev = rev + 1
		WHERE key = $1 AND rev = $2%s
		RETURNING %s`, table, set, len(args)+3, cond, userColumns)

	params := append([]any{user.Key, user.Rev}, args...)
	params = append(params, r.now().UTC())

	saved, err := scanUser(r.db.QueryRow(ctx, query, params...), user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, r.classifyMiss(ctx, user.Role, user.Key, pendingOnly)
		}
		return model.User{}, fmt.Errorf("failed to update user: %w", err)
	}
	return saved, nil
}

func (r *UserRepository) MarkVerified(ctx context.Context, user model.User, uniqueID string) (model.User, error) {
	table, err := partition(user.Role)
	if err != nil {
		return model.User{}, err
	}

	now := r.now().UTC()
	var saved model.User

	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := claim(ctx, tx, uniqueID, user, now); err != nil {
			return err
		}

		query := fmt.Sprintf(`UPDATE %s
			SET status = $3, is_verified = TRUE, verified_at = $4, unique_id = $5,
				verification_token = '', token_expires_at = NULL, updated_at = $4, rev = rev + 1
			WHERE key = $1 AND rev = $2 AND status = $6
			RETURNING %s`, table, userColumns)

		var err error
		saved, err = scanUser(tx.QueryRow(ctx, query,
			user.Key, user.Rev, string(model.StatusVerified), now, uniqueID,
			string(model.StatusPendingVerification),
		), user.Role)
		return r.writeErr(err)
	})
	if err != nil {
		return model.User{}, err
	}

	return saved, nil
}

// RegenerateIdentifier keeps the old claim row as a tombstone, so the retired
// identifier stays taken. The connection revoke runs in the same transaction.
func (r *UserRepository) RegenerateIdentifier(ctx context.Context, user model.User, newID, reason string) (model.User, int, error) {
	table, err := partition(user.Role)
	if err != nil {
		return model.User{}, 0, err
	}

	now := r.now().UTC()
	var saved model.User
	var revoked int

	err = inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := claim(ctx, tx, newID, user, now); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE user_identifiers SET retired_at = $3 WHERE unique_id = $1 AND user_key = $2`,
			user.UniqueID, user.Key, now,
		); err != nil {
			return fmt.Errorf("failed to retire unique id: %w", err)
		}

		query := fmt.Sprintf(`UPDATE %s
			SET unique_id = $3, identifier_changed_at = $4, updated_at = $4, rev = rev + 1
			WHERE key = $1 AND rev = $2 AND status = $5
			RETURNING %s`, table, userColumns)

		var err error
		saved, err = scanUser(tx.QueryRow(ctx, query,
			user.Key, user.Rev, newID, now, string(model.StatusVerified),
		), user.Role)
		if err := r.writeErr(err); err != nil {
			return err
		}

		revoked, err = revokeConnections(ctx, tx, user.UniqueID, reason, now)
		return err
	})
	if err != nil {
		return model.User{}, 0, err
	}

	return saved, revoked, nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// claim inserts uniqueID into the global claims table.
func claim(ctx context.Context, tx pgx.Tx, uniqueID string, user model.User, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO user_identifiers (unique_id, role, user_key, claimed_at) VALUES ($1, $2, $3, $4)`,
		uniqueID, string(user.Role), user.Key, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrIdentifierTaken
		}
		return fmt.Errorf("failed to claim unique id: %w", err)
	}
	return nil
}

// writeErr maps a failed guarded update inside a transaction.
func (r *UserRepository) writeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return model.ErrRevisionConflict
	case isUniqueViolation(err):
		return model.ErrIdentifierTaken
	default:
		return fmt.Errorf("failed to update user: %w", err)
	}
}

// classifyMiss explains why a guarded write matched no row. Verified records
// only count as ErrAlreadyVerified for writes restricted to pending records.
func (r *UserRepository) classifyMiss(ctx context.Context, role model.Role, key string, pendingOnly bool) error {
	current, err := r.findByKey(ctx, role, key)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return model.ErrNotFound
	case err != nil:
		return err
	case pendingOnly && !current.Pending():
		return model.ErrAlreadyVerified
	default:
		return model.ErrRevisionConflict
	}
}
