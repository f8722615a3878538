package vcanctl

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	addrColor  = color.New(color.FgHiBlue).SprintfFunc()
	zeroColor  = color.New(color.FgHiBlack).SprintfFunc()
	valueColor = color.New(color.FgGreen).SprintfFunc()
	warnColor  = color.New(color.FgYellow).SprintfFunc()
	errColor   = color.New(color.FgRed).SprintfFunc()
)

const dumpWidth = 16

func (a *app) dumpCommand() *cobra.Command {
	var (
		offset uint64
		length uint64
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the register bank as 32-bit bus reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if length == 0 {
				length = s.region.Size - min(offset, s.region.Size)
			}
			if offset%4 != 0 || length%4 != 0 {
				return fmt.Errorf("offset and length must be multiples of 4")
			}
			if offset+length > s.region.Size {
				return fmt.Errorf("range 0x%x+0x%x outside the 0x%x byte register bank", offset, length, s.region.Size)
			}

			data, err := s.dump(cmd, offset, length)
			if err != nil {
				return err
			}
			writeHexdump(out(cmd), s.region.Address+offset, data)

			if st := s.ctrl.Stats(); len(st.Failures) > 0 {
				var failed uint64
				for _, n := range st.Failures {
					failed += n
				}
				fmt.Fprintln(cmd.ErrOrStderr(), warnColor("warning: %d of %d reads failed and read as zero", failed, st.Reads))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "first offset to dump")
	cmd.Flags().Uint64Var(&length, "length", 0, "bytes to dump (default to the end of the bank)")
	return cmd
}

// dump reads [offset, offset+length) through the bus in 4-byte accesses.
func (s *session) dump(cmd *cobra.Command, offset, length uint64) ([]byte, error) {
	var bar *progressbar.ProgressBar
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bar = newBar(int(length), "dumping")
	}

	data := make([]byte, length)
	for i := uint64(0); i < length; i += 4 {
		if err := cmd.Context().Err(); err != nil {
			return nil, err
		}
		if err := s.bus.HandleMMIO(s.region.Address+offset+i, data[i:i+4], false); err != nil {
			return nil, err
		}
		if bar != nil {
			bar.Add(4)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	return data, nil
}

func newBar(length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(ansi.NewAnsiStderr()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// writeHexdump prints data as rows of 32-bit little-endian words.
func writeHexdump(w io.Writer, addr uint64, data []byte) {
	for row := 0; row < len(data); row += dumpWidth {
		fmt.Fprint(w, addrColor("%08x", addr+uint64(row)), ":")
		end := min(row+dumpWidth, len(data))
		for i := row; i+4 <= end; i += 4 {
			word := binary.LittleEndian.Uint32(data[i:])
			if word == 0 {
				fmt.Fprint(w, " ", zeroColor("%08x", word))
			} else {
				fmt.Fprint(w, " ", valueColor("%08x", word))
			}
		}
		fmt.Fprintln(w)
	}
}
