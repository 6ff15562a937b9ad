package machine

import (
	"fmt"

	"github.com/openbeamline/governor/internal/config"
)

// SetConfigStore wires the backing config.Store that SetDeviceLimit and
// SetDevicePosition persist through. Mirrors pvbus.Server.SetGovernor:
// a setter called once after Compile, not a Compile parameter, so the
// many existing call sites that never exercise runtime config writes
// are unaffected.
func (m *Machine) SetConfigStore(cs *config.Store) {
	m.cfgStore = cs
}

// SetDeviceLimit rewrites one end of a state's device binding window,
// live in the compiled graph and, when a config store is wired,
// persisted to the backing config file. Grounded on the original
// Governor's set_state_device_limit (original_source/components.py): a
// write that would invert the window (lower limit above upper) is
// rejected and nothing changes. A Machine with no config store wired
// still gets the live write; it just never persists.
func (m *Machine) SetDeviceLimit(stateKey, deviceKey string, which config.LimitKind, value float64) error {
	if m.cfgStore == nil {
		return m.Graph.SetLimit(stateKey, deviceKey, int(which), value)
	}
	if err := m.cfgStore.SetDeviceLimit(stateKey, deviceKey, which, value); err != nil {
		return err
	}
	if err := m.Graph.SetLimit(stateKey, deviceKey, int(which), value); err != nil {
		return err
	}
	return m.cfgStore.Commit()
}

// Limit returns one end of a device binding's limit window on a state.
func (m *Machine) Limit(stateKey, deviceKey string, which config.LimitKind) (float64, bool) {
	return m.Graph.Limit(stateKey, deviceKey, int(which))
}

// SetDevicePosition rewrites a device's named position setpoint, live
// on the device and, when a config store is wired, persisted to the
// backing config file. Grounded on the original Governor's
// set_device_position. A Machine with no config store wired (every
// existing test, and any caller that never loaded its config from a
// file) still gets the live write; it just never persists, the same
// as before SetConfigStore existed.
func (m *Machine) SetDevicePosition(deviceKey, targetName string, value float64) error {
	d, ok := m.devices[deviceKey]
	if !ok {
		return fmt.Errorf("machine %q: unknown device %q", m.Name, deviceKey)
	}
	if m.cfgStore == nil {
		return d.SetTargetValue(targetName, value)
	}
	if err := m.cfgStore.SetDevicePosition(deviceKey, targetName, value); err != nil {
		return err
	}
	if err := d.SetTargetValue(targetName, value); err != nil {
		return err
	}
	return m.cfgStore.Commit()
}
