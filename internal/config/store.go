package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LimitKind selects which end of a target binding's window a writable
// limit channel addresses.
type LimitKind int

const (
	LimitLow LimitKind = iota
	LimitHigh
)

// Store wraps one machine's parsed MachineConfig together with the file
// it was loaded from, so a runtime limit or position write persists
// across a restart instead of reverting to the file's original
// contents — grounded on the teacher's own
// configuration/cfgbackend/yamlsource.go flush(): unmarshal the backing
// file into memory once, mutate the in-memory tree, re-marshal and
// write the whole file back out on every committed change.
type Store struct {
	path string
	cfg  *MachineConfig
}

// NewStore wraps cfg, already loaded from path, for persistence. cfg is
// mutated in place by SetDeviceLimit/SetDevicePosition; Commit writes
// the current in-memory contents back to path.
func NewStore(path string, cfg *MachineConfig) *Store {
	return &Store{path: path, cfg: cfg}
}

// SetDeviceLimit updates one end of a state's device binding window. A
// write that would cross the other end is rejected and nothing is
// changed.
func (s *Store) SetDeviceLimit(state, device string, which LimitKind, value float64) error {
	st, ok := s.cfg.States[state]
	if !ok {
		return fmt.Errorf("no such state %q", state)
	}
	binding, ok := st.Targets[device]
	if !ok {
		return fmt.Errorf("device %q has no binding on state %q", device, state)
	}

	newLimits := binding.Limits
	switch which {
	case LimitLow:
		newLimits[0] = value
	case LimitHigh:
		newLimits[1] = value
	}
	if newLimits[0] > newLimits[1] {
		return fmt.Errorf("state %q device %q: lower limit %v exceeds upper limit %v", state, device, newLimits[0], newLimits[1])
	}
	binding.Limits = newLimits
	st.Targets[device] = binding
	return nil
}

// SetDevicePosition updates a device's named position value.
func (s *Store) SetDevicePosition(device, target string, value float64) error {
	devCfg, ok := s.cfg.Devices[device]
	if !ok {
		return fmt.Errorf("no such device %q", device)
	}
	if _, ok := devCfg.Positions[target]; !ok {
		return fmt.Errorf("device %q has no position %q", device, target)
	}
	devCfg.Positions[target] = value
	return nil
}

// Commit writes the current in-memory configuration back to its
// backing file.
func (s *Store) Commit() error {
	raw, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}
