package machine

import (
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/device"
	"github.com/openbeamline/governor/internal/stategraph"
	"github.com/openbeamline/governor/internal/target"
)

// Compile validates cfg and builds a runnable Machine from it, per spec
// §3/§4: devices first, then the static state/transition graph, with the
// current state seeded at init_state. Compile returns a
// *governorerr.ConfigInvalidError (via config.Validate) on any
// violation; the caller decides whether that is fatal (governord
// daemon startup) or just a reported failure (--check_config).
func Compile(cfg *config.MachineConfig, store *target.Store, log *logger.Log) (*Machine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	m := &Machine{
		Name:    cfg.Name,
		devices: make(map[string]*device.Device, len(cfg.Devices)),
		store:   store,
		log:     log,
		current: cfg.InitState,
	}

	setters := make(map[string]target.Setter, len(cfg.Devices))
	for key, devCfg := range cfg.Devices {
		d := device.New(key, devCfg, log)
		m.devices[key] = d
		setters[key] = d
	}
	if store != nil {
		store.Register(cfg.Name, setters)
	}

	graph := &stategraph.Graph{
		InitState:   cfg.InitState,
		States:      make(map[string]*stategraph.State, len(cfg.States)),
		Transitions: make(map[string]map[string]*stategraph.Transition),
	}
	for key, st := range cfg.States {
		compiled := &stategraph.State{
			Name:    key,
			Targets: make(map[string]stategraph.Binding, len(st.Targets)),
		}
		for devKey, binding := range st.Targets {
			compiled.Targets[devKey] = stategraph.Binding{
				Device:      devKey,
				Target:      binding.Target,
				Limits:      binding.Limits,
				UpdateAfter: binding.UpdateAfter,
			}
		}
		graph.States[key] = compiled
	}
	// config.Validate above already requires init_state to be declared
	// in cfg.States with no bindings (spec §3: "the initial state ... has
	// no device bindings"); this guard keeps it a graph node regardless.
	if _, ok := graph.States[cfg.InitState]; !ok {
		graph.States[cfg.InitState] = &stategraph.State{Name: cfg.InitState}
	}

	for from, tos := range cfg.Transitions {
		for to, stageList := range tos {
			stages := make([]stategraph.Stage, 0, len(stageList))
			for _, s := range stageList {
				stages = append(stages, stategraph.Stage(s))
			}
			if graph.Transitions[from] == nil {
				graph.Transitions[from] = make(map[string]*stategraph.Transition)
			}
			graph.Transitions[from][to] = &stategraph.Transition{From: from, To: to, Stages: stages}
		}
	}
	m.Graph = graph
	return m, nil
}
