// Package vcanctl implements the vcanctl command line tool: it runs a
// reference backend, talks to one through a virtual CAN controller and
// inspects access traces.
package vcanctl

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyrange/vcan/internal/config"
)

type app struct {
	configPath   string
	backend      string
	base         uint64
	debug        bool
	tracePath    string
	readTimeout  time.Duration
	writeTimeout time.Duration

	cfg    config.Config
	logger *slog.Logger
}

// NewRootCommand builds the vcanctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "vcanctl",
		Short:         "Virtual CAN controller register bridge tool",
		Long:          `Drive a virtual CAN controller whose registers live in a backend process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (.yaml or .toml)")
	flags.StringVar(&a.backend, "backend", "", "backend as network:address (unix, tcp or serial)")
	flags.Uint64Var(&a.base, "base", 0, "device base address (default from config)")
	flags.BoolVarP(&a.debug, "debug", "d", false, "debug logging")
	flags.StringVar(&a.tracePath, "trace", "", "record accesses to a CBOR trace file")
	flags.DurationVar(&a.readTimeout, "read-timeout", 0, "bound on waiting for a backend response (0 waits forever)")
	flags.DurationVar(&a.writeTimeout, "write-timeout", 0, "bound on sending a request (0 waits forever)")

	root.AddCommand(
		a.serveCommand(),
		a.readCommand(),
		a.writeCommand(),
		a.dumpCommand(),
		a.stressCommand(),
		a.traceCommand(),
		a.selftestCommand(),
		a.devicesCommand(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and creates the
// logger. Flags win over the file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if a.backend != "" {
		network, address, err := parseBackend(a.backend)
		if err != nil {
			return err
		}
		cfg.Backend.Network = network
		cfg.Backend.Address = address
	}
	if a.base != 0 {
		cfg.Device.Base = a.base
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	if a.tracePath != "" {
		cfg.Trace.Path = a.tracePath
	}
	if a.readTimeout != 0 {
		cfg.Backend.ReadTimeout = config.Duration(a.readTimeout)
	}
	if a.writeTimeout != 0 {
		cfg.Backend.WriteTimeout = config.Duration(a.writeTimeout)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a.cfg = cfg
	a.logger = config.NewLogger(cmd.ErrOrStderr(), cfg.Log)
	return nil
}

// parseBackend splits "network:address". The address may contain colons
// itself (tcp host:port).
func parseBackend(s string) (network, address string, err error) {
	network, address, ok := strings.Cut(s, ":")
	if !ok || network == "" || address == "" {
		return "", "", fmt.Errorf("invalid backend %q: want network:address", s)
	}
	return network, address, nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
