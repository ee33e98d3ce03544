package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/model"
)

// DefaultOutboxPrefix is the key prefix of queued messages.
const DefaultOutboxPrefix = "outbox"

// envelope is the object written for the delivery worker.
type envelope struct {
	ID       string        `json:"id"`
	QueuedAt time.Time     `json:"queued_at"`
	Message  model.Message `json:"message"`
}

// OutboxMailer writes each message as a JSON object into object storage,
// where the external mail transport picks it up.
type OutboxMailer struct {
	storage model.ObjectStorage
	prefix  string
	logger  *logger.Logger
	now     func() time.Time
}

var _ model.Mailer = (*OutboxMailer)(nil)

func NewOutboxMailer(storage model.ObjectStorage, prefix string, logger *logger.Logger) *OutboxMailer {
	if prefix == "" {
		prefix = DefaultOutboxPrefix
	}
	return &OutboxMailer{
		storage: storage,
		prefix:  prefix,
		logger:  logger,
		now:     time.Now,
	}
}

// Send queues msg under <prefix>/<ulid>.json. Keys sort by queue time.
func (m *OutboxMailer) Send(ctx context.Context, msg model.Message) error {
	now := m.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())

	body, err := json.Marshal(envelope{ID: id.String(), QueuedAt: now, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	key := path.Join(m.prefix, id.String()+".json")
	if err := m.storage.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("failed to queue message: %w", err)
	}

	m.logger.Debug("Mail outbox: message queued",
		"key", key,
		"kind", msg.Kind)

	return nil
}

// LogMailer only logs the recipient and subject. Used in development.
type LogMailer struct {
	logger *logger.Logger
}

var _ model.Mailer = (*LogMailer)(nil)

func NewLogMailer(logger *logger.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg model.Message) error {
	m.logger.Info("Mail: message not delivered, log driver active",
		"to", msg.To,
		"subject", msg.Subject,
		"kind", msg.Kind)
	return nil
}
