package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/moodist-server/internal/model"
)

var (
	_ model.Mailer         = (*Mailer)(nil)
	_ model.AttemptLimiter = (*AttemptLimiter)(nil)
)

type Mailer struct {
	mock.Mock
}

func (m *Mailer) Send(ctx context.Context, msg model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type AttemptLimiter struct {
	mock.Mock
}

func (m *AttemptLimiter) Allow(ctx context.Context, scope, key string) (bool, error) {
	args := m.Called(ctx, scope, key)
	return args.Bool(0), args.Error(1)
}
