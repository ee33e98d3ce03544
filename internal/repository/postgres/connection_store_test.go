package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/moodist-server/internal/model"
)

var connectionRowColumns = []string{
	"id", "patient_id", "clinician_id", "status", "initiated_by", "note", "revoke_reason", "created_at", "updated_at", "rev",
}

func connectionRows(status model.ConnectionStatus, rev int64) *pgxmock.Rows {
	return pgxmock.NewRows(connectionRowColumns).
		AddRow("PATIEN:CLINIC", "PATIEN", "CLINIC", string(status), "patient", "hello", "", fixedNow, fixedNow, rev)
}

func newMockConnectionRepo(t *testing.T) (*ConnectionRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)

	repo := NewConnectionRepository(mock)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func TestConnectionRepository_Open(t *testing.T) {
	conn := model.Connection{
		ID:          model.ConnectionID("PATIEN", "CLINIC"),
		PatientID:   "PATIEN",
		ClinicianID: "CLINIC",
		InitiatedBy: model.RolePatient,
		Note:        "hello",
	}

	t.Run("opens pending record", func(t *testing.T) {
		repo, mock := newMockConnectionRepo(t)
		mock.ExpectQuery(`INSERT INTO connections`).
			WithArgs("PATIEN:CLINIC", "PATIEN", "CLINIC", "pending", "patient", "hello", fixedNow).
			WillReturnRows(connectionRows(model.ConnectionPending, 1))

		got, err := repo.Open(context.Background(), conn)
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionPending, got.Status)
		assert.Equal(t, model.RolePatient, got.InitiatedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live record exists", func(t *testing.T) {
		repo, mock := newMockConnectionRepo(t)
		mock.ExpectQuery(`INSERT INTO connections`).WillReturnError(pgx.ErrNoRows)

		_, err := repo.Open(context.Background(), conn)
		require.ErrorIs(t, err, model.ErrConnectionExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConnectionRepository_Transition(t *testing.T) {
	conn := model.Connection{ID: "PATIEN:CLINIC", Rev: 1}

	t.Run("applies at expected revision", func(t *testing.T) {
		repo, mock := newMockConnectionRepo(t)
		mock.ExpectQuery(`UPDATE connections`).
			WithArgs("PATIEN:CLINIC", int64(1), "active", "", fixedNow).
			WillReturnRows(connectionRows(model.ConnectionActive, 2))

		got, err := repo.Transition(context.Background(), conn, model.ConnectionActive, "")
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionActive, got.Status)
		assert.Equal(t, int64(2), got.Rev)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale revision", func(t *testing.T) {
		repo, mock := newMockConnectionRepo(t)
		mock.ExpectQuery(`UPDATE connections`).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`FROM connections WHERE id`).
			WithArgs("PATIEN:CLINIC").
			WillReturnRows(connectionRows(model.ConnectionActive, 2))

		_, err := repo.Transition(context.Background(), conn, model.ConnectionRevoked, "done")
		require.ErrorIs(t, err, model.ErrRevisionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing record", func(t *testing.T) {
		repo, mock := newMockConnectionRepo(t)
		mock.ExpectQuery(`UPDATE connections`).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`FROM connections WHERE id`).WillReturnError(pgx.ErrNoRows)

		_, err := repo.Transition(context.Background(), conn, model.ConnectionRevoked, "done")
		require.ErrorIs(t, err, model.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConnectionRepository_RevokeAllForIdentifier(t *testing.T) {
	repo, mock := newMockConnectionRepo(t)
	mock.ExpectExec(`UPDATE connections`).
		WithArgs("PATIEN", model.RevokeReasonUserIDChange, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(`UPDATE connections`).
		WithArgs("PATIEN", model.RevokeReasonUserIDChange, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := repo.RevokeAllForIdentifier(context.Background(), "PATIEN", model.RevokeReasonUserIDChange)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.RevokeAllForIdentifier(context.Background(), "PATIEN", model.RevokeReasonUserIDChange)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepository_ListForIdentifier(t *testing.T) {
	repo, mock := newMockConnectionRepo(t)
	rows := pgxmock.NewRows(connectionRowColumns).
		AddRow("PATIEN:CLINIC", "PATIEN", "CLINIC", "active", "patient", "", "", fixedNow, fixedNow, int64(2)).
		AddRow("PATIEN:OTHERS", "PATIEN", "OTHERS", "revoked", "clinician", "", "user_id_change", fixedNow, fixedNow, int64(3))
	mock.ExpectQuery(`FROM connections`).WithArgs("PATIEN").WillReturnRows(rows)

	got, err := repo.ListForIdentifier(context.Background(), "PATIEN")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.ConnectionRevoked, got[1].Status)
	assert.Equal(t, model.RevokeReasonUserIDChange, got[1].RevokeReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
