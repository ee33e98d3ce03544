package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/moodist-server/internal/model"
)

var _ model.ObjectStorage = (*ObjectStorage)(nil)

// ObjectStorage is a testify mock of model.ObjectStorage. The uploaded body is
// read fully and passed to the matcher as []byte.
type ObjectStorage struct {
	mock.Mock
}

func (m *ObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	args := m.Called(ctx, key, body, size, contentType)
	return args.Error(0)
}
