package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/moodist-server/internal/model"
)

var _ model.ConnectionStore = (*ConnectionRepository)(nil)

const connectionColumns = `id, patient_id, clinician_id, status, initiated_by, note, revoke_reason, created_at, updated_at, rev`

type ConnectionRepository struct {
	db  DB
	now func() time.Time
}

func NewConnectionRepository(db DB) *ConnectionRepository {
	return &ConnectionRepository{
		db:  db,
		now: time.Now,
	}
}

func scanConnection(row pgx.Row) (model.Connection, error) {
	var c model.Connection
	var status, initiatedBy string
	err := row.Scan(
		&c.ID, &c.PatientID, &c.ClinicianID, &status, &initiatedBy, &c.Note, &c.RevokeReason,
		&c.CreatedAt, &c.UpdatedAt, &c.Rev,
	)
	if err != nil {
		return model.Connection{}, err
	}
	c.Status = model.ConnectionStatus(status)
	c.InitiatedBy = model.Role(initiatedBy)
	return c, nil
}

// Open inserts a pending record, reusing the row of a terminal record for the same pair.
func (r *ConnectionRepository) Open(ctx context.Context, conn model.Connection) (model.Connection, error) {
	query := `
		INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7, $7, 1)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, initiated_by = EXCLUDED.initiated_by, note = EXCLUDED.note,
			revoke_reason = '', created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at,
			rev = connections.rev + 1
		WHERE connections.status IN ('revoked', 'rejected')
		RETURNING ` + connectionColumns

	saved, err := scanConnection(r.db.QueryRow(ctx, query,
		conn.ID, conn.PatientID, conn.ClinicianID, string(model.ConnectionPending),
		string(conn.InitiatedBy), conn.Note, r.now().UTC(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Connection{}, model.ErrConnectionExists
		}
		return model.Connection{}, fmt.Errorf("failed to open connection: %w", err)
	}

	return saved, nil
}

func (r *ConnectionRepository) Get(ctx context.Context, id string) (model.Connection, error) {
	conn, err := scanConnection(r.db.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Connection{}, model.ErrNotFound
		}
		return model.Connection{}, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) Transition(ctx context.Context, conn model.Connection, status model.ConnectionStatus, reason string) (model.Connection, error) {
	query := `
		UPDATE connections
		SET status = $3, revoke_reason = $4, updated_at = $5, rev = rev + 1
		WHERE id = $1 AND rev = $2
		RETURNING ` + connectionColumns

	saved, err := scanConnection(r.db.QueryRow(ctx, query,
		conn.ID, conn.Rev, string(status), reason, r.now().UTC(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, conn.ID); getErr != nil {
				return model.Connection{}, getErr
			}
			return model.Connection{}, model.ErrRevisionConflict
		}
		return model.Connection{}, fmt.Errorf("failed to update connection: %w", err)
	}
	return saved, nil
}

// RevokeAllForIdentifier revokes in one statement, so a rerun revokes nothing.
func (r *ConnectionRepository) RevokeAllForIdentifier(ctx context.Context, uniqueID, reason string) (int, error) {
	return revokeConnections(ctx, r.db, uniqueID, reason, r.now().UTC())
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// revokeConnections runs on the pool or inside a transaction.
func revokeConnections(ctx context.Context, db execer, uniqueID, reason string, at time.Time) (int, error) {
	const query = `
		UPDATE connections
		SET status = 'revoked', revoke_reason = $2, updated_at = $3, rev = rev + 1
		WHERE (patient_id = $1 OR clinician_id = $1) AND status IN ('pending', 'active')`

	cmd, err := db.Exec(ctx, query, uniqueID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke connections: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *ConnectionRepository) ListForIdentifier(ctx context.Context, uniqueID string) ([]model.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE patient_id = $1 OR clinician_id = $1
		ORDER BY updated_at DESC, id`

	rows, err := r.db.Query(ctx, query, uniqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conns, nil
}
