// Package machine compiles one configuration file into a runnable
// Machine and drives its transitions, implementing spec §4.2 through
// §4.4: the target store wiring, the held-in-state predicate, and the
// staged transition executor.
//
// The shape borrows from the teacher's core/environment.Environment: a
// compiled, named object owning its Devices and its FSM-relevant state,
// with Execute (and EnterFaultState, its no-motion fallback) the only
// writers of CurrentState — the same discipline as
// Environment.handlerFunc being the only writer of an Environment's FSM.
package machine

import (
	"sync"

	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/device"
	"github.com/openbeamline/governor/internal/stategraph"
	"github.com/openbeamline/governor/internal/target"
)

// Machine is one compiled state machine, spec §3's Machine entity.
type Machine struct {
	Name  string
	Graph *stategraph.Graph

	devices  map[string]*device.Device
	store    *target.Store
	cfgStore *config.Store
	log      *logger.Log

	mu      sync.RWMutex
	current string
}

// Devices returns the compiled device map, keyed by device key.
func (m *Machine) Devices() map[string]*device.Device {
	return m.devices
}

// Device looks up one device by key.
func (m *Machine) Device(key string) (*device.Device, bool) {
	d, ok := m.devices[key]
	return d, ok
}

// CurrentState returns the machine's current state key.
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Machine) setCurrentState(s string) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

// EnterFaultState forces the current state to the graph's initial state
// without motion, per spec §4.3: "the machine becomes FAULT and the
// initial state is entered immediately without motion" when the
// held-in-state check fails while Idle.
func (m *Machine) EnterFaultState() {
	m.setCurrentState(m.Graph.InitState)
}

// Start launches every device's polling goroutine. Call once after
// Compile, before accepting commands.
func (m *Machine) Start() {
	for _, d := range m.devices {
		d.Start()
	}
}

// Close stops every device's polling goroutine.
func (m *Machine) Close() {
	for _, d := range m.devices {
		d.Close()
	}
}
