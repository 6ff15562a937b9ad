// Package target implements the cross-machine target sync store of spec
// §5: a single serializing updater goroutine that fans a written target
// value out to every device that shares it, so that no two machines'
// executors can race on the same underlying setpoint.
//
// The shape mirrors the teacher's core/environment event publishing: one
// owned goroutine drains a command channel and is the only writer of
// shared state, exactly the way Environment.handlerFunc is the only
// writer of an Environment's FSM.
package target

import (
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/device"
)

// Setter is the minimal device capability the store writes through. It
// is satisfied by *device.Device; kept as an interface so tests can fake
// it without a running device goroutine.
type Setter interface {
	SetTargetValue(target string, value float64) error
	HasTarget(target string) bool
}

// binding is one (device key, target name) pair shared by two or more
// machines, per the `-s SYNC` file (spec §6).
type binding struct {
	deviceKey string
	target    string
}

type writeCmd struct {
	origin string
	key    binding
	value  float64
	done   chan struct{}
}

type registerCmd struct {
	machine string
	devices map[string]Setter
	done    chan struct{}
}

// Store serializes writes to every (device, target) pair declared shared
// in the sync configuration, and fans each write out to every
// registered machine's device that carries the same key.
type Store struct {
	log *logger.Log

	sync map[binding]bool // declared-shared bindings, read-only after New

	writeCh    chan writeCmd
	registerCh chan registerCmd
	quit       chan struct{}

	// owned exclusively by run()
	owners map[binding]map[string]Setter // binding -> machine name -> device
}

// New builds a Store from the `-s SYNC` configuration. A nil or empty
// sync config is legal: the store still exists but never fans anything
// out, since no binding is declared shared.
func New(sync config.SyncConfig, log *logger.Log) *Store {
	s := &Store{
		log:        log,
		sync:       make(map[binding]bool),
		writeCh:    make(chan writeCmd),
		registerCh: make(chan registerCmd),
		quit:       make(chan struct{}),
		owners:     make(map[binding]map[string]Setter),
	}
	for deviceKey, targets := range sync {
		for _, t := range targets {
			s.sync[binding{deviceKey, t}] = true
		}
	}
	go s.run()
	return s
}

// Close stops the store's goroutine.
func (s *Store) Close() { close(s.quit) }

func (s *Store) run() {
	for {
		select {
		case <-s.quit:
			return
		case cmd := <-s.registerCh:
			for devKey, setter := range cmd.devices {
				for b := range s.sync {
					if b.deviceKey != devKey || !setter.HasTarget(b.target) {
						continue
					}
					if s.owners[b] == nil {
						s.owners[b] = make(map[string]Setter)
					}
					s.owners[b][cmd.machine] = setter
				}
			}
			close(cmd.done)
		case cmd := <-s.writeCh:
			if !s.sync[cmd.key] {
				// not a shared binding: the write stays local to the
				// origin machine's own device, nothing to fan out.
				close(cmd.done)
				continue
			}
			for machine, setter := range s.owners[cmd.key] {
				if machine == cmd.origin {
					continue
				}
				if err := setter.SetTargetValue(cmd.key.target, cmd.value); err != nil {
					s.log.WithField("machine", machine).
						WithField("device", cmd.key.deviceKey).
						Warnf("sync fan-out: %v", err)
				}
			}
			close(cmd.done)
		}
	}
}

// Register tells the store which devices a machine owns, so future
// writes against a shared binding know who else to fan out to. Safe to
// call once per machine at compile time.
func (s *Store) Register(machine string, devices map[string]Setter) {
	done := make(chan struct{})
	s.registerCh <- registerCmd{machine: machine, devices: devices, done: done}
	<-done
}

// Write applies value to deviceKey/target on the origin machine's own
// device (the caller is expected to have already done that — Write only
// handles fan-out) and propagates it to every other machine sharing the
// same binding, per spec §5's single-origin rule: the machine that
// issued the write is never re-written by its own fan-out.
func (s *Store) Write(origin, deviceKey, targetName string, value float64) {
	done := make(chan struct{})
	s.writeCh <- writeCmd{
		origin: origin,
		key:    binding{deviceKey, targetName},
		value:  value,
		done:   done,
	}
	<-done
}

// Shared reports whether a (device, target) pair is declared shared in
// the sync configuration.
func (s *Store) Shared(deviceKey, target string) bool {
	return s.sync[binding{deviceKey, target}]
}

var _ Setter = (*device.Device)(nil)
