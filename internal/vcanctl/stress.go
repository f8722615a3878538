package vcanctl

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	dev "github.com/tinyrange/vcan/internal/devices/vcan"
)

type stressResult struct {
	accesses   uint64
	mismatches uint64
	elapsed    time.Duration
}

func (a *app) stressCommand() *cobra.Command {
	var (
		workers    int
		iterations int
	)
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Hammer the backend from concurrent workers and verify read-back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := runStress(cmd.Context(), s.ctrl, s.region.Size, workers, iterations)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "%d accesses from %d workers in %v\n", res.accesses, workers, res.elapsed.Round(time.Millisecond))
			if res.mismatches > 0 {
				return fmt.Errorf("%d read-back mismatches", res.mismatches)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "concurrent workers")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 100, "write/read pairs per worker")
	return cmd
}

// runStress gives every worker its own 32-bit register so read-backs are
// deterministic, then checks each value after writing it.
func runStress(ctx context.Context, ctrl *dev.Controller, size uint64, workers, iterations int) (stressResult, error) {
	if workers < 1 || uint64(workers)*4 > size {
		return stressResult{}, fmt.Errorf("workers must be between 1 and %d", size/4)
	}

	var (
		accesses   atomic.Uint64
		mismatches atomic.Uint64
	)
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		offset := uint32(w * 4)
		g.Go(func() error {
			for i := 0; i < iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				want := uint64(offset)<<16 | uint64(i)
				if err := ctrl.WriteErr(offset, 4, want); err != nil {
					return err
				}
				got, err := ctrl.ReadErr(offset, 4)
				if err != nil {
					return err
				}
				accesses.Add(2)
				if got != want {
					mismatches.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return stressResult{
		accesses:   accesses.Load(),
		mismatches: mismatches.Load(),
		elapsed:    time.Since(start),
	}, err
}
