package config

import "fmt"

// GrowthMode selects which side of the threshold grows and which shrinks.
type GrowthMode string

const (
	// GrowOnly grows cells scoring above the threshold; cells below are inactive.
	GrowOnly GrowthMode = "grow-only"
	// GrowBoth grows cells above the threshold and shrinks cells below it.
	GrowBoth GrowthMode = "grow-both"
	// ShrinkOnly shrinks cells scoring above the threshold; cells below are inactive.
	ShrinkOnly GrowthMode = "shrink-only"
	// ShrinkBoth shrinks cells above the threshold and grows cells below it.
	ShrinkBoth GrowthMode = "shrink-both"
)

// GrowthModes lists every accepted growth mode.
var GrowthModes = []GrowthMode{GrowOnly, GrowBoth, ShrinkOnly, ShrinkBoth}

// Valid reports whether m is a known growth mode.
func (m GrowthMode) Valid() bool {
	switch m {
	case GrowOnly, GrowBoth, ShrinkOnly, ShrinkBoth:
		return true
	}
	return false
}

// ParseGrowthMode converts a string into a GrowthMode.
func ParseGrowthMode(s string) (GrowthMode, error) {
	m := GrowthMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown growth mode %q", s)
	}
	return m, nil
}

// StepMode selects how the orchestrator advances the simulation.
type StepMode string

const (
	// StepManual runs exactly one physics sub-step per call. Calls with
	// unchanged scores continue the same cycle, keeping velocities.
	StepManual StepMode = "manual"
	// StepAuto runs one growth cycle to equilibrium or step budget per call.
	StepAuto StepMode = "auto"
	// StepEquilibrium behaves like StepAuto.
	StepEquilibrium StepMode = "equilibrium"
	// StepContinuous runs in the background until stopped.
	StepContinuous StepMode = "continuous"
)

// StepModes lists every accepted step mode.
var StepModes = []StepMode{StepManual, StepAuto, StepEquilibrium, StepContinuous}

// Valid reports whether m is a known step mode.
func (m StepMode) Valid() bool {
	switch m {
	case StepManual, StepAuto, StepEquilibrium, StepContinuous:
		return true
	}
	return false
}

// ParseStepMode converts a string into a StepMode.
func ParseStepMode(s string) (StepMode, error) {
	m := StepMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown step mode %q", s)
	}
	return m, nil
}
