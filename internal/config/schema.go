// Package config parses the Governor's YAML configuration (spec §6) into
// typed structs, the way the teacher's configuration/cfgbackend package
// parses O² component configuration — except the Governor's schema is
// closed and known ahead of time, so it is unmarshalled straight into Go
// structs with gopkg.in/yaml.v3 rather than through a generic Item tree.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DeviceKind is the tagged-variant discriminator of spec §3/§4.1.
type DeviceKind string

const (
	KindMotor DeviceKind = "Motor"
	KindValve DeviceKind = "Valve"
	KindDummy DeviceKind = "Device"
)

// DeviceConfig is one entry of the top-level `devices` map.
type DeviceConfig struct {
	Type      DeviceKind         `yaml:"type"`
	Name      string             `yaml:"name"`
	PV        string             `yaml:"pv"`
	Tolerance float64            `yaml:"tolerance"`
	Timeout   float64            `yaml:"timeout"`
	Positions map[string]float64 `yaml:"positions"`

	// Simulation parameters. Not part of spec §6's wire schema; the
	// Governor has no real motor-record/valve link to drive (spec §1),
	// so every Device is backed by the simulated driverBackend of
	// SPEC_FULL §D and these knobs tune its physics. All are optional:
	// velocity and travel default in internal/device, and a nil limits
	// pair leaves the motor without soft limits.
	Velocity     float64  `yaml:"velocity,omitempty"`
	ValveTravel  float64  `yaml:"travel,omitempty"`
	MotorLimits  *[2]float64 `yaml:"limits,omitempty"`
}

// TargetBindingConfig is one entry of a state's `targets` map.
type TargetBindingConfig struct {
	Target      string     `yaml:"target"`
	Limits      [2]float64 `yaml:"limits"`
	UpdateAfter bool       `yaml:"updateAfter,omitempty"`
}

// StateConfig is one entry of the top-level `states` map.
type StateConfig struct {
	Name    string                         `yaml:"name"`
	Targets map[string]TargetBindingConfig `yaml:"targets,omitempty"`
}

// Stage is one element of a transition's stage list: either a single
// device key (singleton stage) or a list of device keys (parallel
// stage). It unmarshals from either YAML form per spec §6.
type Stage []string

func (s *Stage) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = Stage{single}
		return nil
	case yaml.SequenceNode:
		var multi []string
		if err := value.Decode(&multi); err != nil {
			return err
		}
		*s = Stage(multi)
		return nil
	default:
		return fmt.Errorf("transition stage must be a device key or a list of device keys, got %v", value.Kind)
	}
}

// StageList is the full ordered stage sequence of one transition.
type StageList []Stage

// MachineConfig is the top-level shape of one `-c CONFIG` file.
type MachineConfig struct {
	Name        string                            `yaml:"name"`
	Devices     map[string]DeviceConfig           `yaml:"devices"`
	States      map[string]StateConfig            `yaml:"states"`
	InitState   string                            `yaml:"init_state"`
	Transitions map[string]map[string]StageList   `yaml:"transitions,omitempty"`
}

// SyncConfig is the top-level shape of the `-s SYNC` file: device key to
// the list of its target names that are shared across machines.
type SyncConfig map[string][]string
