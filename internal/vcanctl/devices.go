package vcanctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyrange/vcan/internal/chipset"
	dev "github.com/tinyrange/vcan/internal/devices/vcan"
)

func (a *app) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the device types that can be created",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := chipset.NewRegistry()
			if err := dev.Register(reg); err != nil {
				return err
			}
			for _, name := range reg.Names() {
				info, _ := reg.Lookup(name)
				fmt.Fprintln(out(cmd), info)
				if info.Description != "" {
					fmt.Fprintf(out(cmd), "  %s\n", info.Description)
				}
			}
			return nil
		},
	}
}
