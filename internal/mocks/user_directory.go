package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/moodist-server/internal/model"
)

var _ model.UserDirectory = (*UserDirectory)(nil)

type UserDirectory struct {
	mock.Mock
}

func (m *UserDirectory) CreatePending(ctx context.Context, user model.PendingUser, expectedRev int64) (model.User, error) {
	args := m.Called(ctx, user, expectedRev)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) FindByEmail(ctx context.Context, role model.Role, email string) (model.User, error) {
	args := m.Called(ctx, role, email)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) FindByIdentifier(ctx context.Context, uniqueID string) (model.User, error) {
	args := m.Called(ctx, uniqueID)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) IdentifierTaken(ctx context.Context, uniqueID string) (bool, error) {
	args := m.Called(ctx, uniqueID)
	return args.Bool(0), args.Error(1)
}

func (m *UserDirectory) ReissueToken(ctx context.Context, user model.User, token string, expiresAt time.Time) (model.User, error) {
	args := m.Called(ctx, user, token, expiresAt)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) MarkVerified(ctx context.Context, user model.User, uniqueID string) (model.User, error) {
	args := m.Called(ctx, user, uniqueID)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) UpdatePassword(ctx context.Context, user model.User, passwordHash string) (model.User, error) {
	args := m.Called(ctx, user, passwordHash)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) RehashPassword(ctx context.Context, user model.User, passwordHash string) (model.User, error) {
	args := m.Called(ctx, user, passwordHash)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) SetResetToken(ctx context.Context, user model.User, token string, expiresAt time.Time) (model.User, error) {
	args := m.Called(ctx, user, token, expiresAt)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserDirectory) RegenerateIdentifier(ctx context.Context, user model.User, newID, reason string) (model.User, int, error) {
	args := m.Called(ctx, user, newID, reason)
	return args.Get(0).(model.User), args.Int(1), args.Error(2)
}

func (m *UserDirectory) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
