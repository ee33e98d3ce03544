package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/moodist-server/internal/model"
)

func pending(role model.Role, email string) model.PendingUser {
	return model.PendingUser{
		Role:              role,
		Email:             email,
		PasswordHash:      "hash",
		VerificationToken: "tok",
		TokenExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestStore_CreatePending(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Rev)
	assert.Equal(t, "patient:a@x.com", created.Key)
	assert.True(t, created.Pending())

	_, err = s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.ErrorIs(t, err, model.ErrRevisionConflict)

	_, err = s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 7)
	require.ErrorIs(t, err, model.ErrRevisionConflict)

	again, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Rev)
	assert.Equal(t, created.CreatedAt, again.CreatedAt)

	// same email in another partition is a different record
	_, err = s.CreatePending(ctx, pending(model.RoleClinician, "a@x.com"), 0)
	require.NoError(t, err)

	_, err = s.CreatePending(ctx, pending("nurse", "a@x.com"), 0)
	require.ErrorIs(t, err, model.ErrInvalidRole)
}

func TestStore_MarkVerified(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)

	verified, err := s.MarkVerified(ctx, u, "QWERTY")
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Equal(t, model.StatusVerified, verified.Status)
	assert.Empty(t, verified.VerificationToken)
	assert.Nil(t, verified.TokenExpiresAt)
	require.NotNil(t, verified.VerifiedAt)

	_, err = s.MarkVerified(ctx, verified, "ASDFGH")
	require.ErrorIs(t, err, model.ErrAlreadyVerified)

	_, err = s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), verified.Rev)
	require.ErrorIs(t, err, model.ErrAlreadyVerified)

	other, err := s.CreatePending(ctx, pending(model.RoleClinician, "b@x.com"), 0)
	require.NoError(t, err)
	_, err = s.MarkVerified(ctx, other, "QWERTY")
	require.ErrorIs(t, err, model.ErrIdentifierTaken)

	stillPending, err := s.FindByEmail(ctx, model.RoleClinician, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, other.Rev, stillPending.Rev)

	found, err := s.FindByIdentifier(ctx, "QWERTY")
	require.NoError(t, err)
	assert.Equal(t, verified.Key, found.Key)
}

func TestStore_RevisionConflict(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)
	u, err = s.MarkVerified(ctx, u, "QWERTY")
	require.NoError(t, err)

	_, err = s.SetResetToken(ctx, u, "reset", time.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = s.UpdatePassword(ctx, u, "new-hash")
	require.ErrorIs(t, err, model.ErrRevisionConflict)
}

func TestStore_UpdatePasswordClearsReset(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, err := s.CreatePending(ctx, pending(model.RoleAdmin, "root@x.com"), 0)
	require.NoError(t, err)
	u, err = s.MarkVerified(ctx, u, "ADMINA")
	require.NoError(t, err)
	u, err = s.SetResetToken(ctx, u, "reset", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "reset", u.ResetToken)

	u, err = s.UpdatePassword(ctx, u, "new-hash")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.PasswordHash)
	assert.Empty(t, u.ResetToken)
	assert.Nil(t, u.ResetExpiresAt)
}

func TestStore_RegenerateIdentifier(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := s.Connections()

	u, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)
	u, err = s.MarkVerified(ctx, u, "OLDOLD")
	require.NoError(t, err)

	live, err := c.Open(ctx, model.Connection{ID: model.ConnectionID("OLDOLD", "CLNAAA"), PatientID: "OLDOLD", ClinicianID: "CLNAAA", InitiatedBy: model.RolePatient})
	require.NoError(t, err)
	_, err = c.Open(ctx, model.Connection{ID: model.ConnectionID("PATBBB", "CLNAAA"), PatientID: "PATBBB", ClinicianID: "CLNAAA", InitiatedBy: model.RolePatient})
	require.NoError(t, err)

	u, n, err := s.RegenerateIdentifier(ctx, u, "NEWNEW", model.RevokeReasonUserIDChange)
	require.NoError(t, err)
	assert.Equal(t, "NEWNEW", u.UniqueID)
	assert.Equal(t, 1, n)
	require.NotNil(t, u.IdentifierChangedAt)

	revoked, err := c.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionRevoked, revoked.Status)
	assert.Equal(t, model.RevokeReasonUserIDChange, revoked.RevokeReason)

	taken, err := s.IdentifierTaken(ctx, "OLDOLD")
	require.NoError(t, err)
	assert.True(t, taken, "retired identifiers stay claimed")

	_, err = s.FindByIdentifier(ctx, "OLDOLD")
	require.ErrorIs(t, err, model.ErrNotFound)

	_, _, err = s.RegenerateIdentifier(ctx, u, "NEWNEW", model.RevokeReasonUserIDChange)
	require.ErrorIs(t, err, model.ErrIdentifierTaken)
}

func TestStore_RetiredIdentifierCannotBeReclaimed(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)
	a, err = s.MarkVerified(ctx, a, "OLDOLD")
	require.NoError(t, err)
	_, _, err = s.RegenerateIdentifier(ctx, a, "NEWNEW", model.RevokeReasonUserIDChange)
	require.NoError(t, err)

	b, err := s.CreatePending(ctx, pending(model.RoleClinician, "b@x.com"), 0)
	require.NoError(t, err)
	_, err = s.MarkVerified(ctx, b, "OLDOLD")
	require.ErrorIs(t, err, model.ErrIdentifierTaken)

	b, err = s.MarkVerified(ctx, b, "BBBBBB")
	require.NoError(t, err)
	_, _, err = s.RegenerateIdentifier(ctx, b, "OLDOLD", model.RevokeReasonUserIDChange)
	require.ErrorIs(t, err, model.ErrIdentifierTaken)
}

func TestStore_RegenerateIdentifier_FailureRevokesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := s.Connections()

	u, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)
	u, err = s.MarkVerified(ctx, u, "OLDOLD")
	require.NoError(t, err)
	live, err := c.Open(ctx, model.Connection{ID: model.ConnectionID("OLDOLD", "CLNAAA"), PatientID: "OLDOLD", ClinicianID: "CLNAAA", InitiatedBy: model.RolePatient})
	require.NoError(t, err)

	stale := u
	stale.Rev--
	_, _, err = s.RegenerateIdentifier(ctx, stale, "NEWNEW", model.RevokeReasonUserIDChange)
	require.ErrorIs(t, err, model.ErrRevisionConflict)

	current, err := c.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionPending, current.Status)

	byID, err := s.FindByIdentifier(ctx, "OLDOLD")
	require.NoError(t, err)
	assert.Equal(t, u.Key, byID.Key)

	taken, err := s.IdentifierTaken(ctx, "NEWNEW")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestStore_PasswordChanges(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)
	u, err = s.MarkVerified(ctx, u, "OLDOLD")
	require.NoError(t, err)
	assert.Empty(t, u.CredentialStamp())

	u, err = s.RehashPassword(ctx, u, "rehashed")
	require.NoError(t, err)
	assert.Equal(t, "rehashed", u.PasswordHash)
	assert.Nil(t, u.PasswordChangedAt)

	u, err = s.UpdatePassword(ctx, u, "changed")
	require.NoError(t, err)
	require.NotNil(t, u.PasswordChangedAt)
	assert.NotEmpty(t, u.CredentialStamp())
}

func TestStore_ReissueToken(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, err := s.CreatePending(ctx, pending(model.RolePatient, "a@x.com"), 0)
	require.NoError(t, err)

	expires := time.Now().Add(2 * time.Hour)
	u, err = s.ReissueToken(ctx, u, "tok2", expires)
	require.NoError(t, err)
	assert.Equal(t, "tok2", u.VerificationToken)
	assert.Equal(t, expires, *u.TokenExpiresAt)

	_, err = s.ReissueToken(ctx, model.User{Key: "patient:none@x.com", Role: model.RolePatient}, "t", expires)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_ConcurrentClaimsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := New()

	const workers = 64
	users := make([]model.User, workers)
	for i := range users {
		u, err := s.CreatePending(ctx, pending(model.Roles[i%len(model.Roles)], fmt.Sprintf("u%d@x.com", i)), 0)
		require.NoError(t, err)
		users[i] = u
	}

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.MarkVerified(ctx, users[i], "SAMEID")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, model.ErrIdentifierTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestConnections_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := New().Connections()

	conn := model.Connection{
		ID:          model.ConnectionID("PATAAA", "CLNAAA"),
		PatientID:   "PATAAA",
		ClinicianID: "CLNAAA",
		InitiatedBy: model.RolePatient,
	}

	opened, err := c.Open(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionPending, opened.Status)

	_, err = c.Open(ctx, conn)
	require.ErrorIs(t, err, model.ErrConnectionExists)

	active, err := c.Transition(ctx, opened, model.ConnectionActive, "")
	require.NoError(t, err)

	_, err = c.Transition(ctx, opened, model.ConnectionRevoked, "stale")
	require.ErrorIs(t, err, model.ErrRevisionConflict)

	other := model.Connection{ID: model.ConnectionID("PATAAA", "CLNBBB"), PatientID: "PATAAA", ClinicianID: "CLNBBB", InitiatedBy: model.RoleClinician}
	_, err = c.Open(ctx, other)
	require.NoError(t, err)

	n, err := c.RevokeAllForIdentifier(ctx, "PATAAA", model.RevokeReasonUserIDChange)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.RevokeAllForIdentifier(ctx, "PATAAA", model.RevokeReasonUserIDChange)
	require.NoError(t, err)
	assert.Zero(t, n)

	revoked, err := c.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionRevoked, revoked.Status)
	assert.Equal(t, model.RevokeReasonUserIDChange, revoked.RevokeReason)

	reopened, err := c.Open(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionPending, reopened.Status)
	assert.Greater(t, reopened.Rev, revoked.Rev)

	list, err := c.ListForIdentifier(ctx, "PATAAA")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = c.Get(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}
