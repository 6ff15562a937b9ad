package machine

import "github.com/openbeamline/governor/common/governorerr"

// HeldInState implements spec §4.3's held predicate: a state is held
// (and so the machine may legitimately report Idle in it) iff every
// device bound by that state is connected, homed, and within its
// window. The initial state has no bindings and is trivially held.
//
// A false return paired with a non-nil error tells the caller (the
// controller's Idle poll) which typed failure to raise the machine's
// status to FAULT with.
func (m *Machine) HeldInState(stateKey string) (bool, error) {
	st, ok := m.Graph.States[stateKey]
	if !ok || stateKey == m.Graph.InitState {
		return true, nil
	}

	for devKey, binding := range st.Targets {
		d, ok := m.devices[devKey]
		if !ok {
			continue
		}
		if !d.Connected() {
			return false, governorerr.WithMachine(governorerr.NewDisconnectedError(devKey), m.Name)
		}
		if !d.Homed() {
			return false, governorerr.WithMachine(governorerr.NewNotHomedError(devKey), m.Name)
		}
		within, err := d.Within(binding.Target, binding.Limits[0], binding.Limits[1])
		if err != nil {
			return false, governorerr.WithMachine(err, m.Name)
		}
		if !within {
			return false, governorerr.WithMachine(governorerr.NewOutOfWindowError(devKey, stateKey), m.Name)
		}
	}
	return true, nil
}
