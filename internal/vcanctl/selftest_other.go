//go:build !unix

package vcanctl

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/tinyrange/vcan/internal/backend"
	"github.com/tinyrange/vcan/internal/channel"
)

func startLocalBackend(ctx context.Context, regs *backend.RegisterFile, logger *slog.Logger) (channel.Channel, func() error, error) {
	return nil, nil, fmt.Errorf("selftest is not supported on %s", runtime.GOOS)
}
