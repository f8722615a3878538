package vcanctl

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyrange/vcan/internal/trace"
)

func (a *app) traceCommand() *cobra.Command {
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "trace FILE",
		Short: "Print an access trace recorded with --trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			tr := trace.NewReader(f)
			for {
				rec, err := tr.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if failedOnly && !rec.Failed() {
					continue
				}
				printRecord(out(cmd), rec)
			}
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only show failed accesses")
	return cmd
}

func printRecord(w io.Writer, rec trace.Record) {
	ts := rec.Time.Local().Format(time.TimeOnly + ".000000")
	line := fmt.Sprintf("%s %-5s %s size=%d", ts, rec.Op, addrColor("0x%08x", rec.Offset), rec.Size)
	if rec.Failed() {
		fmt.Fprintf(w, "%s %s\n", line, errColor("%s: %s", rec.Kind, rec.Err))
		return
	}
	fmt.Fprintf(w, "%s %s\n", line, valueColor("0x%0*x", int(rec.Size)*2, rec.Value))
}
