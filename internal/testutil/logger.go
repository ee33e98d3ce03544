package testutil

import (
	"io"
	"log/slog"

	"github.com/dtroode/moodist-server/internal/logger"
)

// MakeNoopLogger returns a logger that discards every record.
func MakeNoopLogger() *logger.Logger {
	return &logger.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))}
}

// MakeBufferLogger returns a debug level logger writing text records to w.
func MakeBufferLogger(w io.Writer) *logger.Logger {
	return logger.NewWithFormat(int(slog.LevelDebug), "text", w)
}
