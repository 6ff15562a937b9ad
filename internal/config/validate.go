package config

import (
	"fmt"
	"sort"

	"github.com/openbeamline/governor/common/governorerr"
)

// Validate checks every invariant spec §3/§4 places on a machine
// configuration and returns the full, non-fail-fast list of violations as
// a *governorerr.ConfigInvalidError, or nil if the configuration compiles.
//
// Unlike the teacher's cfgbackend, which trusts its generic KV tree and
// defers structural checks to call sites, the Governor's schema is closed
// and every invariant is enumerable up front — so Validate collects all
// of them in one pass, matching spec §7's "fail startup with enumerated
// messages".
func Validate(cfg *MachineConfig) error {
	var msgs []string

	if cfg.Name == "" {
		msgs = append(msgs, "machine name must not be empty")
	}
	if len(cfg.Devices) == 0 {
		msgs = append(msgs, "at least one device must be declared")
	}
	if cfg.InitState == "" {
		msgs = append(msgs, "init_state must be set")
	} else if initState, ok := cfg.States[cfg.InitState]; !ok {
		msgs = append(msgs, fmt.Sprintf("init_state %q is not declared in states", cfg.InitState))
	} else if len(initState.Targets) != 0 {
		msgs = append(msgs, fmt.Sprintf("init_state %q must not bind any device (it is the fault-safe home)", cfg.InitState))
	}

	for key, dev := range cfg.Devices {
		msgs = append(msgs, validateDevice(key, dev)...)
	}

	for key, st := range cfg.States {
		msgs = append(msgs, validateState(cfg, key, st)...)
	}

	for from, tos := range cfg.Transitions {
		if from != cfg.InitState {
			if _, ok := cfg.States[from]; !ok {
				msgs = append(msgs, fmt.Sprintf("transition from unknown state %q", from))
			}
		}
		for to, stages := range tos {
			msgs = append(msgs, validateTransition(cfg, from, to, stages)...)
		}
	}

	if len(msgs) == 0 {
		return nil
	}
	sort.Strings(msgs)
	return &governorerr.ConfigInvalidError{Machine: cfg.Name, Messages: msgs}
}

func validateDevice(key string, dev DeviceConfig) []string {
	var msgs []string
	switch dev.Type {
	case KindMotor, KindDummy:
		if len(dev.Positions) == 0 {
			msgs = append(msgs, fmt.Sprintf("device %q of type %s must declare at least one position", key, dev.Type))
		}
		if dev.Type == KindMotor && dev.Tolerance < 0 {
			msgs = append(msgs, fmt.Sprintf("device %q: tolerance must be >= 0", key))
		}
	case KindValve:
		if len(dev.Positions) != 0 {
			msgs = append(msgs, fmt.Sprintf("device %q of type Valve must not declare positions (Open/Closed are implicit)", key))
		}
	default:
		msgs = append(msgs, fmt.Sprintf("device %q: unknown type %q", key, dev.Type))
	}
	if dev.Timeout <= 0 {
		msgs = append(msgs, fmt.Sprintf("device %q: timeout must be > 0 seconds", key))
	}
	return msgs
}

func validateState(cfg *MachineConfig, key string, st StateConfig) []string {
	var msgs []string
	for devKey, binding := range st.Targets {
		dev, ok := cfg.Devices[devKey]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("state %q: binds unknown device %q", key, devKey))
			continue
		}
		if !targetExists(dev, binding.Target) {
			msgs = append(msgs, fmt.Sprintf("state %q: device %q has no target %q", key, devKey, binding.Target))
		}
		lo, hi := binding.Limits[0], binding.Limits[1]
		if !(lo <= 0 && 0 <= hi) {
			msgs = append(msgs, fmt.Sprintf("state %q: device %q window [%.6g,%.6g] must satisfy lo<=0<=hi", key, devKey, lo, hi))
		}
	}
	return msgs
}

func targetExists(dev DeviceConfig, target string) bool {
	switch dev.Type {
	case KindValve:
		return target == "Open" || target == "Closed"
	default:
		_, ok := dev.Positions[target]
		return ok
	}
}

func validateTransition(cfg *MachineConfig, from, to string, stages StageList) []string {
	var msgs []string
	label := fmt.Sprintf("transition %s->%s", from, to)

	if to == cfg.InitState {
		if len(stages) != 0 {
			msgs = append(msgs, fmt.Sprintf("%s: transitions into the initial state must have an empty stage list", label))
		}
		return msgs
	}

	toState, ok := cfg.States[to]
	if !ok {
		msgs = append(msgs, fmt.Sprintf("%s: destination state %q is not declared", label, to))
		return msgs
	}

	if len(stages) == 0 {
		msgs = append(msgs, fmt.Sprintf("%s: stage list must not be empty (except transitions to init_state)", label))
	}

	seen := make(map[string]bool)
	for i, stage := range stages {
		if len(stage) == 0 {
			msgs = append(msgs, fmt.Sprintf("%s: stage %d is empty", label, i))
			continue
		}
		for _, devKey := range stage {
			if _, ok := cfg.Devices[devKey]; !ok {
				msgs = append(msgs, fmt.Sprintf("%s: stage %d references unknown device %q", label, i, devKey))
				continue
			}
			if seen[devKey] {
				msgs = append(msgs, fmt.Sprintf("%s: device %q appears in more than one stage", label, devKey))
			}
			seen[devKey] = true
			if _, bound := toState.Targets[devKey]; !bound {
				msgs = append(msgs, fmt.Sprintf("%s: device %q has no binding on destination state %q", label, devKey, to))
			}
		}
	}
	return msgs
}
