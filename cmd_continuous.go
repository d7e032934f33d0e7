package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/cellgrowth/engine"
)

func newContinuousCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continuous",
		Short: "Run continuous mode with periodic re-analysis",
		Long: `Continuous runs physics in the background and asks the noise scorer
for fresh scores every stepping.physics_steps_per_analysis sub-steps.

It stops after --duration or on interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetDuration("duration")
			drift, _ := cmd.Flags().GetFloat64("drift")

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			start := time.Now()
			defer s.close(start)

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			// The hook runs on the loop goroutine; writeErr is read after Wait.
			var mu sync.Mutex
			var writeErr error
			batch := 0
			s.orch.SetOnCycle(func(res engine.Result) {
				batch++
				if err := s.record(batch, "continuous", res); err != nil {
					mu.Lock()
					writeErr = err
					mu.Unlock()
					s.orch.Stop()
				}
			})

			if err := s.orch.Start(ctx, nil, s.scorer.Drifting(drift)); err != nil {
				return err
			}
			exited := make(chan struct{})
			go func() {
				s.orch.Wait()
				close(exited)
			}()
			select {
			case <-ctx.Done():
			case <-exited:
			}
			s.orch.Stop()
			<-exited

			if err := s.orch.Err(); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if writeErr != nil {
				return writeErr
			}
			if err := s.flushPerf(batch); err != nil {
				return err
			}
			slog.Info("continuous run complete", "batches", batch)
			return nil
		},
	}

	cmd.Flags().Duration("duration", 5*time.Second, "How long to run (0 = until interrupted)")
	cmd.Flags().Float64("drift", 1.5, "Noise field shift per analysis")

	return cmd
}
