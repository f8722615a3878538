package vcanctl

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyrange/vcan/internal/backend"
	dev "github.com/tinyrange/vcan/internal/devices/vcan"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference backend (an in-memory register bank)",
		Long: `Listen on the configured backend address and answer register accesses
from a plain in-memory register bank. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			network, address := a.cfg.Backend.Network, a.cfg.Backend.Address
			if network == "serial" {
				return fmt.Errorf("serve does not support serial backends")
			}
			ln, err := backend.Listen(network, address)
			if err != nil {
				return err
			}
			if network == "unix" {
				defer os.Remove(address)
			}

			srv := backend.NewServer(backend.NewRegisterFile(dev.RegionSize), a.logger)
			defer srv.Close()
			stop := context.AfterFunc(cmd.Context(), func() { srv.Close() })
			defer stop()

			a.logger.Info("backend listening", "network", network, "address", ln.Addr().String())
			return srv.Serve(ln)
		},
	}
}
