//go:build unix

package vcanctl

import (
	"context"
	"log/slog"

	"github.com/tinyrange/vcan/internal/backend"
	"github.com/tinyrange/vcan/internal/channel"
)

// startLocalBackend serves regs on one end of a socket pair and returns
// the other end. stop shuts the backend down and waits for it.
func startLocalBackend(ctx context.Context, regs *backend.RegisterFile, logger *slog.Logger) (channel.Channel, func() error, error) {
	ch, peer, err := channel.SocketPair(channel.Options{Context: ctx})
	if err != nil {
		return nil, nil, err
	}

	srv := backend.NewServer(regs, logger)
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeConn(peer)
	}()

	stop := func() error {
		srv.Close()
		return <-done
	}
	return ch, stop, nil
}
