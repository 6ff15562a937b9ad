// Package stategraph holds the compiled, static shape of a machine's
// states and transitions (spec §3/§4.2): plain data, no behavior except
// the one runtime mutator a writable-limits write needs, SetLimit.
package stategraph

import (
	"fmt"
	"sync"
)

// Binding is one device's target and tolerance window on a State, spec
// §3's `targets` entry.
type Binding struct {
	Device      string
	Target      string
	Limits      [2]float64
	UpdateAfter bool
}

// State is one named position of the machine, spec §3.
type State struct {
	Name    string
	Targets map[string]Binding // device key -> binding
}

// Stage is one step of a Transition's ordered stage list: the device
// keys that move concurrently within that step, spec §4.2.
type Stage []string

// Transition is a compiled From->To edge with its ordered stages, spec
// §4.2. A Transition into the initial state has an empty Stages list:
// reaching it is a reset, not a move.
type Transition struct {
	From   string
	To     string
	Stages []Stage
}

// Graph is the compiled state/transition shape of one machine.
type Graph struct {
	InitState   string
	States      map[string]*State
	Transitions map[string]map[string]*Transition // from -> to -> transition

	// mu guards State.Targets against the one runtime mutator,
	// SetLimit, racing the executor's per-transition destination-state
	// snapshot copy (executor.go's copier.CopyWithOption call).
	mu sync.RWMutex
}

// RLockStates and RUnlockStates let the executor hold Graph's state lock
// across its destination-state snapshot copy, without stategraph having
// to know about jinzhu/copier.
func (g *Graph) RLockStates()   { g.mu.RLock() }
func (g *Graph) RUnlockStates() { g.mu.RUnlock() }

// SetLimit rewrites one end of a device binding's limit window on a
// compiled state, idx 0 for the lower bound and 1 for the upper. A
// write that would invert the window is rejected, mirroring the
// original Governor's set_state_device_limit validation.
func (g *Graph) SetLimit(stateKey, deviceKey string, idx int, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.States[stateKey]
	if !ok {
		return fmt.Errorf("no such state %q", stateKey)
	}
	b, ok := st.Targets[deviceKey]
	if !ok {
		return fmt.Errorf("device %q has no binding on state %q", deviceKey, stateKey)
	}
	newLimits := b.Limits
	newLimits[idx] = value
	if newLimits[0] > newLimits[1] {
		return fmt.Errorf("state %q device %q: lower limit %v exceeds upper limit %v", stateKey, deviceKey, newLimits[0], newLimits[1])
	}
	b.Limits = newLimits
	st.Targets[deviceKey] = b
	return nil
}

// Limit returns one end of a device binding's limit window.
func (g *Graph) Limit(stateKey, deviceKey string, idx int) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st, ok := g.States[stateKey]
	if !ok {
		return 0, false
	}
	b, ok := st.Targets[deviceKey]
	if !ok {
		return 0, false
	}
	return b.Limits[idx], true
}

// Lookup returns the transition from `from` to `to`, if declared.
func (g *Graph) Lookup(from, to string) (*Transition, bool) {
	byTo, ok := g.Transitions[from]
	if !ok {
		return nil, false
	}
	t, ok := byTo[to]
	return t, ok
}

// Reachable returns every state reachable from `from` in one hop: the
// destination of every transition declared from `from`, per spec
// §4.5's Reach-Sel enumeration.
func (g *Graph) Reachable(from string) []string {
	byTo, ok := g.Transitions[from]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byTo))
	for to := range byTo {
		out = append(out, to)
	}
	return out
}

// ReachableGiven computes the full reachable set from `current`, folding
// in the Active/Idle gating of §4.3: the initial state is always
// reachable (it is the fault-safe fallback, reachable even from FAULT or
// Disabled); every other declared transition target is reachable only
// while the machine is Active and Idle.
func (g *Graph) ReachableGiven(current string, active, idle bool) map[string]bool {
	out := map[string]bool{g.InitState: true}
	if !active || !idle {
		return out
	}
	for to := range g.Transitions[current] {
		out[to] = true
	}
	return out
}
