package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/cellgrowth/config"
	"github.com/pthm-cable/cellgrowth/engine"
	"github.com/pthm-cable/cellgrowth/scoring"
	"github.com/pthm-cable/cellgrowth/telemetry"
	"github.com/pthm-cable/cellgrowth/tessellate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cellgrowth",
		Short: "Score-driven cell growth on a Voronoi tessellation",
		Long: `cellgrowth moves Voronoi generator points so that cells scoring above a
threshold grow and cells below it shrink, using inverse-square forces
between neighboring cells and damped integration.

Scores come from a simplex noise field that stands in for a real analysis.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (empty = use defaults)")
	rootCmd.PersistentFlags().String("output-dir", "", "Output directory for CSV logs and config snapshot")
	rootCmd.PersistentFlags().Int64("seed", 0, "Point and noise seed (0 = use config)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newRunCmd(),
		newContinuousCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// session bundles everything a command needs to drive the orchestrator.
type session struct {
	cfg    *config.Config
	orch   *engine.Orchestrator
	scorer *scoring.NoiseScorer
	perf   *telemetry.PerfCollector
	output *telemetry.OutputManager
}

// setupLogging installs a JSON slog handler at the level from --log-level.
func setupLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", levelName, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig initializes the global config from --config and applies the
// --seed and, on commands that define it, --mode overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if err := config.Init(path); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := config.Cfg()

	if seed, _ := cmd.Flags().GetInt64("seed"); seed != 0 {
		cfg.Demo.Seed = seed
	}
	if f := cmd.Flags().Lookup("mode"); f != nil && f.Value.String() != "" {
		mode, err := config.ParseStepMode(f.Value.String())
		if err != nil {
			return nil, err
		}
		cfg.Stepping.Mode = mode
	}
	return cfg, nil
}

// newSession seeds random points, builds the orchestrator and opens output.
func newSession(cmd *cobra.Command) (*session, error) {
	if err := setupLogging(cmd); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	outputDir, _ := cmd.Flags().GetString("output-dir")
	output, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return nil, err
	}
	if err := output.WriteConfig(cfg); err != nil {
		output.Close()
		return nil, fmt.Errorf("writing config snapshot: %w", err)
	}

	demo := cfg.Demo
	points := tessellate.RandomPoints(demo.Points, demo.Width, demo.Height, demo.Seed)

	orch := engine.New(cfg, &tessellate.Voronoi2D{Width: demo.Width, Height: demo.Height})
	if err := orch.Load(points); err != nil {
		output.Close()
		return nil, err
	}
	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	orch.SetPerf(perf)

	slog.Info("session ready",
		"points", demo.Points,
		"seed", demo.Seed,
		"step_mode", cfg.Stepping.Mode,
		"dt", cfg.Derived.DT,
		"output_dir", outputDir,
	)

	return &session{
		cfg:    cfg,
		orch:   orch,
		scorer: scoring.FromDemo(demo),
		perf:   perf,
		output: output,
	}, nil
}

// record writes one cycle to cycles.csv and, every perf window, to perf.csv.
func (s *session) record(cycle int, mode string, res engine.Result) error {
	rec := res.Record(cycle, mode)
	slog.Info("cycle", "stats", rec)
	if err := s.output.WriteCycle(rec); err != nil {
		return err
	}

	if window := s.cfg.Telemetry.PerfWindow; window > 0 && cycle%window == 0 {
		return s.flushPerf(cycle)
	}
	return nil
}

func (s *session) flushPerf(cycle int) error {
	stats := s.perf.Stats()
	slog.Info("perf", "cycle", cycle, "stats", stats)
	return s.output.WritePerf(stats, cycle)
}

func (s *session) close(start time.Time) {
	slog.Info("session finished", "elapsed", time.Since(start).Round(time.Millisecond))
	if err := s.output.Close(); err != nil {
		slog.Error("closing output", "error", err)
	}
}
