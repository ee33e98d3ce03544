package model

import (
	"context"
	"time"
)

// ConnectionStatus is the state of a patient–clinician relationship.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionActive   ConnectionStatus = "active"
	ConnectionRevoked  ConnectionStatus = "revoked"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionRevoked || s == ConnectionRejected
}

// RevokeReasonUserIDChange marks connections revoked because a party changed its identifier.
const RevokeReasonUserIDChange = "user_id_change"

// ConnectionStore persists connection documents.
type ConnectionStore interface {
	// Open inserts a pending connection. A pending or active record for the pair
	// yields ErrConnectionExists; a terminal one is replaced.
	Open(ctx context.Context, conn Connection) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	// Transition moves conn to status if its revision is still conn.Rev.
	Transition(ctx context.Context, conn Connection, status ConnectionStatus, reason string) (Connection, error)
	// RevokeAllForIdentifier revokes every non-terminal connection referencing
	// uniqueID on either side and returns how many were revoked.
	RevokeAllForIdentifier(ctx context.Context, uniqueID, reason string) (int, error)
	ListForIdentifier(ctx context.Context, uniqueID string) ([]Connection, error)
}

// Connection links a patient identifier with a clinician identifier.
type Connection struct {
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	ID           string           `json:"id"`
	PatientID    string           `json:"patient_id"`
	ClinicianID  string           `json:"clinician_id"`
	Status       ConnectionStatus `json:"status"`
	InitiatedBy  Role             `json:"initiated_by"`
	Note         string           `json:"note,omitempty"`
	RevokeReason string           `json:"revoke_reason,omitempty"`
	Rev          int64            `json:"-"`
}

// ConnectionID returns the deterministic id of the pair.
func ConnectionID(patientID, clinicianID string) string {
	return patientID + ":" + clinicianID
}

// Involves reports whether uniqueID is one of the two parties.
func (c Connection) Involves(uniqueID string) bool {
	return c.PatientID == uniqueID || c.ClinicianID == uniqueID
}
