// Package supervisor implements the Governor of spec §3/§4.6: the
// process-wide object holding every loaded Machine's Controller,
// enforcing that at most one is Active, and forwarding the global
// Abort/Kill/Config-Sel commands.
//
// Per spec §9's design note, this is constructed once at startup and
// passed by reference into the PV binding layer — no hidden mutable
// global, mirroring the teacher's single *core.ControlCore instance
// threaded through cmd/o2-aliecs-core's plugin registration.
package supervisor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	"github.com/openbeamline/governor/common/governorerr"
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/controller"
	"github.com/openbeamline/governor/internal/status"
)

// Governor holds every loaded Machine's Controller and the single-Active
// invariant of spec §4.6.
type Governor struct {
	log *logger.Log

	mu          sync.RWMutex
	controllers map[string]*controller.Controller
	names       []string // insertion order, for stable -I listing
	active      string   // "" means none selected
	globalActive bool    // Active-Sel; false disables every machine

	killOnce sync.Once
}

// New builds an empty Governor. Call Register for each compiled
// machine, then SelectActive to pick the one that starts Active.
func New(log *logger.Log) *Governor {
	return &Governor{
		log:          log,
		controllers:  make(map[string]*controller.Controller),
		globalActive: true,
	}
}

// Register adds a Controller under its Machine's name. Call before
// Start.
func (g *Governor) Register(name string, c *controller.Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.controllers[name] = c
	g.names = append(g.names, name)
}

// Start launches every registered controller. None is Active until
// SelectActive is called.
func (g *Governor) Start() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.controllers {
		c.Start()
	}
}

// Names returns every registered machine name, in registration order,
// for the `{Gov}List-I` channel.
func (g *Governor) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Query returns the registered machine names matching a glob pattern,
// sorted (the teacher's QueryRoles-style glob filtering, generalized
// from role FSM names to machine names). No PV channel calls it; the
// `-I` listing channels always return every name.
func (g *Governor) Query(pattern string) ([]string, error) {
	gl, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	names := g.Names()
	var out []string
	for _, n := range names {
		if gl.Match(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Controller returns the named controller, if registered.
func (g *Governor) Controller(name string) (*controller.Controller, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.controllers[name]
	return c, ok
}

// ActiveName returns the currently selected active machine's name, or
// "" if none is selected.
func (g *Governor) ActiveName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// SelectActive implements `Config-Sel`: switches the Active machine.
// Rejected while any machine is Busy, per spec §4.6.
func (g *Governor) SelectActive(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.controllers[name]; !ok {
		return fmt.Errorf("no such machine %q", name)
	}
	for n, c := range g.controllers {
		if c.Last().Status == status.Busy {
			return &governorerr.CommandRejectedError{Machine: n, Reason: "cannot switch active machine while Busy"}
		}
	}

	prevActive := g.active
	g.active = name

	for n, c := range g.controllers {
		want := g.globalActive && n == name
		if err := c.SetActive(want); err != nil {
			g.active = prevActive
			return err
		}
	}
	return nil
}

// SetGlobalActive implements `Active-Sel`: Inactive disables every
// machine regardless of which one was selected; Active restores the
// selected machine (if any) to Active and leaves the rest Disabled.
func (g *Governor) SetGlobalActive(active bool) error {
	g.mu.Lock()
	g.globalActive = active
	selected := g.active
	controllers := make(map[string]*controller.Controller, len(g.controllers))
	for n, c := range g.controllers {
		controllers[n] = c
	}
	g.mu.Unlock()

	for n, c := range controllers {
		want := active && n == selected
		if err := c.SetActive(want); err != nil {
			return err
		}
	}
	return nil
}

// Abort forwards to the currently active machine's Abort, per spec
// §4.6's global `Abort-Cmd`.
func (g *Governor) Abort() error {
	name := g.ActiveName()
	if name == "" {
		return &governorerr.CommandRejectedError{Reason: "no active machine"}
	}
	c, ok := g.Controller(name)
	if !ok {
		return &governorerr.CommandRejectedError{Reason: "active machine no longer registered"}
	}
	return c.Abort()
}

// Kill performs the orderly shutdown of spec §4.6's `Kill-Cmd`: abort
// the active machine, then stop every controller (and so every device
// poller beneath it). The PV binding layer's own listener shutdown is
// the caller's responsibility, since the Governor has no handle on it.
// Only the first call has any effect; later calls return immediately.
func (g *Governor) Kill() {
	g.killOnce.Do(func() {
		_ = g.Abort()

		g.mu.RLock()
		controllers := make([]*controller.Controller, 0, len(g.controllers))
		for _, c := range g.controllers {
			controllers = append(controllers, c)
		}
		g.mu.RUnlock()

		for _, c := range controllers {
			c.Close()
		}
	})
}
