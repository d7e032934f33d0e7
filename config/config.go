// Package config provides configuration loading and access for the growth engine.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/harmonica"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration parameters.
type Config struct {
	Growth    GrowthConfig    `yaml:"growth"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Neighbors NeighborsConfig `yaml:"neighbors"`
	Stepping  SteppingConfig  `yaml:"stepping"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Demo      DemoConfig      `yaml:"demo"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// GrowthConfig controls how per-cell scores become signed growth rates.
type GrowthConfig struct {
	Threshold      float64    `yaml:"threshold"`        // Decision boundary for score comparison
	Mode           GrowthMode `yaml:"mode"`             // grow-only, grow-both, shrink-only, shrink-both
	GrowthPower    float64    `yaml:"growth_power"`     // Non-linear exponent applied to magnitude (>= 0.5)
	Normalize      bool       `yaml:"normalize"`        // Divide by the max absolute raw signal
	BaseGrowthRate float64    `yaml:"base_growth_rate"` // Final scale applied to every signal
}

// PhysicsConfig holds force and integration parameters.
type PhysicsConfig struct {
	ForceStrength        float64 `yaml:"force_strength"`
	Damping              float64 `yaml:"damping"`               // Velocity multiplier per sub-step (0..1)
	MaxForce             float64 `yaml:"max_force"`             // Per-pair force clamp
	MinDistance          float64 `yaml:"min_distance"`          // Below this a pair produces no force
	EquilibriumPrecision float64 `yaml:"equilibrium_precision"` // Max displacement that counts as settled
	MaxPhysicsSteps      int     `yaml:"max_physics_steps"`     // Sub-step budget per cycle
	FPS                  int     `yaml:"fps"`                   // Nominal frame rate used to derive dt
	DT                   float64 `yaml:"dt"`                    // Explicit timestep (0 = 1/fps)
}

// NeighborsConfig holds adjacency detection parameters.
type NeighborsConfig struct {
	Precision int `yaml:"precision"`  // Decimal places kept when matching polygon vertices
	MinShared int `yaml:"min_shared"` // Shared vertices required to count as neighbors
}

// SteppingConfig selects how cycles are driven.
type SteppingConfig struct {
	Mode                    StepMode      `yaml:"mode"`
	PhysicsStepsPerAnalysis int           `yaml:"physics_steps_per_analysis"` // Continuous mode batch size
	Interval                time.Duration `yaml:"interval"`                   // Delay between continuous sub-steps
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"` // Cycles averaged by the perf collector
}

// DemoConfig holds parameters for the bundled tessellator and scorer.
type DemoConfig struct {
	Points     int     `yaml:"points"`
	Seed       int64   `yaml:"seed"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	NoiseScale float64 `yaml:"noise_scale"` // Spatial frequency of the score field
	ScoreScale float64 `yaml:"score_scale"` // Scores fall in [0, score_scale]
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT        float64 // Physics.DT, or the nominal frame delta when unset
	Tolerance float64 // Neighbor vertex match distance, 10^-Neighbors.Precision
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate reports every out-of-range setting as one joined error.
func (c *Config) Validate() error {
	var errs []error
	if !c.Growth.Mode.Valid() {
		errs = append(errs, fmt.Errorf("growth.mode: unknown mode %q", c.Growth.Mode))
	}
	if c.Growth.GrowthPower < 0.5 {
		errs = append(errs, fmt.Errorf("growth.growth_power: %v is below 0.5", c.Growth.GrowthPower))
	}
	if c.Physics.Damping < 0 || c.Physics.Damping > 1 {
		errs = append(errs, fmt.Errorf("physics.damping: %v is outside [0, 1]", c.Physics.Damping))
	}
	if c.Physics.MaxForce < 0 {
		errs = append(errs, fmt.Errorf("physics.max_force: %v is negative", c.Physics.MaxForce))
	}
	if c.Physics.MinDistance < 0 {
		errs = append(errs, fmt.Errorf("physics.min_distance: %v is negative", c.Physics.MinDistance))
	}
	if c.Physics.EquilibriumPrecision < 0 {
		errs = append(errs, fmt.Errorf("physics.equilibrium_precision: %v is negative", c.Physics.EquilibriumPrecision))
	}
	if c.Physics.MaxPhysicsSteps < 1 {
		errs = append(errs, fmt.Errorf("physics.max_physics_steps: %d must be at least 1", c.Physics.MaxPhysicsSteps))
	}
	if c.Physics.DT < 0 {
		errs = append(errs, fmt.Errorf("physics.dt: %v is negative", c.Physics.DT))
	}
	if c.Physics.DT == 0 && c.Physics.FPS < 1 {
		errs = append(errs, fmt.Errorf("physics.fps: %d must be positive when dt is unset", c.Physics.FPS))
	}
	if c.Neighbors.Precision < 0 || c.Neighbors.Precision > 12 {
		errs = append(errs, fmt.Errorf("neighbors.precision: %d is outside [0, 12]", c.Neighbors.Precision))
	}
	if c.Neighbors.MinShared < 1 {
		errs = append(errs, fmt.Errorf("neighbors.min_shared: %d must be at least 1", c.Neighbors.MinShared))
	}
	if !c.Stepping.Mode.Valid() {
		errs = append(errs, fmt.Errorf("stepping.mode: unknown mode %q", c.Stepping.Mode))
	}
	if c.Stepping.PhysicsStepsPerAnalysis < 1 {
		errs = append(errs, fmt.Errorf("stepping.physics_steps_per_analysis: %d must be at least 1", c.Stepping.PhysicsStepsPerAnalysis))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT = c.Physics.DT
	if c.Derived.DT == 0 {
		c.Derived.DT = harmonica.FPS(c.Physics.FPS)
	}
	c.Derived.Tolerance = math.Pow10(-c.Neighbors.Precision)
}

// Clone returns a deep copy with derived values recomputed.
func (c *Config) Clone() *Config {
	cp := *c
	cp.computeDerived()
	return &cp
}

// Refresh recomputes derived values after fields were changed in code.
func (c *Config) Refresh() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
