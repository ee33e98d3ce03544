package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/moodist-server/internal/model"
)

var _ model.ConnectionStore = (*ConnectionStore)(nil)

type ConnectionStore struct {
	mock.Mock
}

func (m *ConnectionStore) Open(ctx context.Context, conn model.Connection) (model.Connection, error) {
	args := m.Called(ctx, conn)
	return args.Get(0).(model.Connection), args.Error(1)
}

func (m *ConnectionStore) Get(ctx context.Context, id string) (model.Connection, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Connection), args.Error(1)
}

func (m *ConnectionStore) Transition(ctx context.Context, conn model.Connection, status model.ConnectionStatus, reason string) (model.Connection, error) {
	args := m.Called(ctx, conn, status, reason)
	return args.Get(0).(model.Connection), args.Error(1)
}

func (m *ConnectionStore) RevokeAllForIdentifier(ctx context.Context, uniqueID, reason string) (int, error) {
	args := m.Called(ctx, uniqueID, reason)
	return args.Int(0), args.Error(1)
}

func (m *ConnectionStore) ListForIdentifier(ctx context.Context, uniqueID string) ([]model.Connection, error) {
	args := m.Called(ctx, uniqueID)
	conns, _ := args.Get(0).([]model.Connection)
	return conns, args.Error(1)
}
