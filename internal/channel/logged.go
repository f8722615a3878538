package channel

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// Logged wraps a channel and logs every transfer at level. Failures are
// always logged at error level.
func Logged(inner Channel, logger *slog.Logger, level slog.Level) Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggedChannel{inner: inner, logger: logger, level: level}
}

type loggedChannel struct {
	inner  Channel
	logger *slog.Logger
	level  slog.Level
}

func (l *loggedChannel) Send(p []byte) (int, error) {
	n, err := l.inner.Send(p)
	if err != nil {
		l.logger.Error("channel send error", "len", len(p), "sent", n, "err", err)
		return n, err
	}
	l.logger.Log(context.Background(), l.level, "channel send", "len", n, "data", hex.EncodeToString(p[:n]))
	return n, nil
}

func (l *loggedChannel) Receive(p []byte) (int, error) {
	n, err := l.inner.Receive(p)
	if err != nil {
		l.logger.Error("channel receive error", "len", len(p), "received", n, "err", err)
		return n, err
	}
	l.logger.Log(context.Background(), l.level, "channel receive", "len", n, "data", hex.EncodeToString(p[:n]))
	return n, nil
}

func (l *loggedChannel) Close() error {
	return l.inner.Close()
}
