package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run growth cycles in the configured step mode",
		Long: `Run scores the current points, runs one growth cycle, and repeats.

In manual mode each cycle is a single physics sub-step. In auto and
equilibrium modes each cycle steps until displacement settles or the step
budget is spent. In continuous mode each cycle is one fixed batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cycles, _ := cmd.Flags().GetInt("cycles")
			drift, _ := cmd.Flags().GetFloat64("drift")

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			start := time.Now()
			defer s.close(start)

			mode := string(s.cfg.Stepping.Mode)

			analyze := s.scorer.Drifting(drift)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			settled := 0
			for cycle := 1; cycle <= cycles; cycle++ {
				scores, err := analyze(ctx, s.orch.Points())
				if err != nil {
					return fmt.Errorf("scoring cycle %d: %w", cycle, err)
				}
				res, err := s.orch.Step(scores)
				if err != nil {
					return fmt.Errorf("cycle %d: %w", cycle, err)
				}
				if res.Stats.EquilibriumReached {
					settled++
				}
				if err := s.record(cycle, mode, res); err != nil {
					return err
				}
			}

			if window := s.cfg.Telemetry.PerfWindow; window <= 0 || cycles%window != 0 {
				if err := s.flushPerf(cycles); err != nil {
					return err
				}
			}
			slog.Info("run complete", "cycles", cycles, "settled", settled, "step_mode", mode)
			return nil
		},
	}

	cmd.Flags().Int("cycles", 20, "Number of growth cycles to run")
	cmd.Flags().Float64("drift", 1.5, "Noise field shift per cycle")
	cmd.Flags().String("mode", "", "Override stepping.mode (manual, auto, equilibrium, continuous)")

	return cmd
}
