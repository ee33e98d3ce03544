package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dtroode/moodist-server/internal/identifier"
	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/metrics"
	"github.com/dtroode/moodist-server/internal/model"
)

const maxNoteLen = 500

// Connections manages patient–clinician links between verified accounts.
type Connections struct {
	users   model.UserDirectory
	store   model.ConnectionStore
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewConnections(users model.UserDirectory, store model.ConnectionStore, metrics *metrics.Metrics, logger *logger.Logger) *Connections {
	return &Connections{
		users:   users,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Request opens a pending connection initiated by actor towards counterpartID.
func (s *Connections) Request(ctx context.Context, actor model.User, counterpartID, note string) (model.Connection, error) {
	counterpartID = identifier.Normalize(counterpartID)
	if !identifier.Valid(counterpartID) {
		return model.Connection{}, model.ErrInvalidIdentifier
	}
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLen {
		return model.Connection{}, model.ErrInvalidInput
	}
	if actor.Status != model.StatusVerified || actor.UniqueID == "" {
		return model.Connection{}, model.ErrForbidden
	}

	counterpart, err := s.users.FindByIdentifier(ctx, counterpartID)
	if err != nil {
		return model.Connection{}, err
	}
	if counterpart.Status != model.StatusVerified {
		return model.Connection{}, model.ErrNotFound
	}

	var patientID, clinicianID string
	switch {
	case actor.Role == model.RolePatient && counterpart.Role == model.RoleClinician:
		patientID, clinicianID = actor.UniqueID, counterpart.UniqueID
	case actor.Role == model.RoleClinician && counterpart.Role == model.RolePatient:
		patientID, clinicianID = counterpart.UniqueID, actor.UniqueID
	default:
		return model.Connection{}, model.ErrForbidden
	}

	conn, err := s.store.Open(ctx, model.Connection{
		ID:          model.ConnectionID(patientID, clinicianID),
		PatientID:   patientID,
		ClinicianID: clinicianID,
		InitiatedBy: actor.Role,
		Note:        note,
	})
	if err != nil {
		if !errors.Is(err, model.ErrConnectionExists) {
			s.logger.Error("Connection service: failed to open connection",
				"patient_id", patientID,
				"clinician_id", clinicianID,
				"error", err.Error())
		}
		return model.Connection{}, err
	}
	s.metrics.ConnectionTransition(string(model.ConnectionPending), 1)

	s.logger.Info("Connection service: connection requested",
		"connection_id", conn.ID,
		"initiated_by", actor.Role)

	return conn, nil
}

// Respond accepts or rejects a pending connection. Only the party that did
// not initiate it may respond.
func (s *Connections) Respond(ctx context.Context, id string, actor model.User, accept bool) (model.Connection, error) {
	status := model.ConnectionRejected
	if accept {
		status = model.ConnectionActive
	}

	return s.transition(ctx, id, status, "", func(conn model.Connection) error {
		if !conn.Involves(actor.UniqueID) || actor.Role == conn.InitiatedBy {
			return model.ErrForbidden
		}
		if conn.Status != model.ConnectionPending {
			return model.ErrInvalidTransition
		}
		return nil
	})
}

// Revoke ends a pending or active connection on behalf of either party.
func (s *Connections) Revoke(ctx context.Context, id string, actor model.User, reason string) (model.Connection, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked_by_" + actor.Role.String()
	}

	return s.transition(ctx, id, model.ConnectionRevoked, reason, func(conn model.Connection) error {
		if !conn.Involves(actor.UniqueID) {
			return model.ErrForbidden
		}
		if conn.Status.Terminal() {
			return model.ErrInvalidTransition
		}
		return nil
	})
}

// transition re-reads the connection on every attempt, so a concurrent
// change is checked against the current state.
func (s *Connections) transition(ctx context.Context, id string, status model.ConnectionStatus, reason string, check func(model.Connection) error) (model.Connection, error) {
	var updated model.Connection
	err := withRetry(ctx, s.metrics, func(ctx context.Context) error {
		conn, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := check(conn); err != nil {
			return err
		}
		updated, err = s.store.Transition(ctx, conn, status, reason)
		return err
	})
	if err != nil {
		if !isClientError(err) && !errors.Is(err, model.ErrForbidden) && !errors.Is(err, model.ErrInvalidTransition) {
			s.logger.Error("Connection service: failed to update connection",
				"connection_id", id,
				"status", status,
				"error", err.Error())
		}
		return model.Connection{}, err
	}
	s.metrics.ConnectionTransition(string(status), 1)

	s.logger.Info("Connection service: connection updated",
		"connection_id", id,
		"status", status)

	return updated, nil
}

// RevokeAllForIdentifier revokes every live connection of uniqueID.
func (s *Connections) RevokeAllForIdentifier(ctx context.Context, uniqueID, reason string) (int, error) {
	n, err := s.store.RevokeAllForIdentifier(ctx, uniqueID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke connections: %w", err)
	}
	s.metrics.ConnectionTransition(string(model.ConnectionRevoked), n)

	s.logger.Debug("Connection service: connections revoked",
		"unique_id", uniqueID,
		"reason", reason,
		"count", n)

	return n, nil
}

// List returns the connections of actor, newest first.
func (s *Connections) List(ctx context.Context, actor model.User) ([]model.Connection, error) {
	if actor.UniqueID == "" {
		return []model.Connection{}, nil
	}
	conns, err := s.store.ListForIdentifier(ctx, actor.UniqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	if conns == nil {
		conns = []model.Connection{}
	}
	return conns, nil
}
