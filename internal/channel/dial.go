package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/avast/retry-go"
)

// DialConfig describes how to reach a backend.
type DialConfig struct {
	Options

	// Attempts is the number of connection attempts; values below one
	// mean a single attempt.
	Attempts uint

	// Delay is the pause between attempts.
	Delay time.Duration

	// Baud is used by the "serial" network.
	Baud int

	Logger *slog.Logger
}

// Connect opens a channel on network, which is "unix", "tcp" (and its
// variants) or "serial".
func Connect(ctx context.Context, network, address string, cfg DialConfig) (Channel, error) {
	if network == "serial" {
		return OpenSerial(address, cfg.Baud, cfg.Options)
	}
	return Dial(ctx, network, address, cfg)
}

// Dial connects to a backend listening on a socket, retrying while the
// backend is still starting up.
func Dial(ctx context.Context, network, address string, cfg DialConfig) (Channel, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		d    net.Dialer
		conn net.Conn
	)
	err := retry.Do(func() error {
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("backend dial retry", "network", network, "address", address, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s %s: %w", network, address, err)
	}

	logger.Debug("backend connected", "network", network, "address", address)
	return New(conn, cfg.Options), nil
}
