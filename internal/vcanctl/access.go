package vcanctl

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseNumber(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func (a *app) readCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read OFFSET [SIZE]",
		Short: "Read a register through the backend",
		Long:  `Read SIZE bytes (1, 2 or 4; default 4) at OFFSET within the register bank.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseNumber("offset", args[0])
			if err != nil {
				return err
			}
			size := uint64(4)
			if len(args) > 1 {
				if size, err = parseNumber("size", args[1]); err != nil {
					return err
				}
			}

			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.checkRange(offset, size); err != nil {
				return err
			}
			v, err := s.ctrl.ReadErr(uint32(offset), uint8(size))
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "0x%0*x\n", int(size)*2, v)
			return nil
		},
	}
}

func (a *app) writeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "write OFFSET SIZE VALUE",
		Short: "Write a register through the backend",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseNumber("offset", args[0])
			if err != nil {
				return err
			}
			size, err := parseNumber("size", args[1])
			if err != nil {
				return err
			}
			value, err := parseNumber("value", args[2])
			if err != nil {
				return err
			}

			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.checkRange(offset, size); err != nil {
				return err
			}
			return s.ctrl.WriteErr(uint32(offset), uint8(size), value)
		},
	}
}
