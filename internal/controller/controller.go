// Package controller owns exactly one Machine and mediates the Go/Abort
// command surface of spec §4.5 through a single serializing goroutine,
// the way the teacher's core/environment.Environment owns one FSM behind
// one handler loop. The controller never blocks the caller of Go/Abort
// on the transition itself: the executor runs on its own goroutine and
// reports back through a result channel so the serializer stays
// responsive to Abort while Busy.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/xid"

	"github.com/openbeamline/governor/common/governorerr"
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/machine"
	"github.com/openbeamline/governor/internal/status"
)

// holdPollInterval is how often the controller re-checks the held-state
// predicate while Idle, per spec §4.3. It does not need to be as tight
// as a device's own poll interval; it exists to catch drift between
// device-initiated readback changes and the machine's belief that it is
// settled.
const holdPollInterval = 200 * time.Millisecond

// Snapshot is the publishable view of a controller's state, consumed by
// internal/pvbus to republish on every change (spec §4.7).
type Snapshot struct {
	Machine          string
	Status           status.Status
	State            string
	Reachable        map[string]bool
	Msg              string
	ActiveTransition string
	RunID            string
	FailedDevices    []string
}

type cmdKind int

const (
	cmdGo cmdKind = iota
	cmdAbort
	cmdSetActive
)

type cmdRequest struct {
	kind   cmdKind
	target string
	active bool
	reply  chan error
}

type resultMsg struct {
	runID   string
	outcome *machine.Outcome
	err     error
}

// Controller mediates one Machine's command intake and status.
type Controller struct {
	m         *machine.Machine
	log       *logger.Log
	onPublish func(Snapshot)

	cmdCh    chan cmdRequest
	resultCh chan resultMsg
	quit     chan struct{}

	lastMu sync.RWMutex
	last   Snapshot
}

// New builds a Controller around an already-compiled Machine. Call
// Start to launch its serializer goroutine.
func New(m *machine.Machine, log *logger.Log, onPublish func(Snapshot)) *Controller {
	return &Controller{
		m:         m,
		log:       log,
		onPublish: onPublish,
		cmdCh:     make(chan cmdRequest),
		resultCh:  make(chan resultMsg, 1),
		quit:      make(chan struct{}),
	}
}

// Start launches the controller's owned Machine's device pollers,
// publishes the initial Disabled snapshot, and launches the serializer
// goroutine.
func (c *Controller) Start() {
	c.m.Start()
	f := newStatusFSM(status.Disabled)
	c.publish(f, "", "", "", nil)
	go c.run(f)
}

// Close stops the serializer goroutine and every device poller beneath
// it. Safe to call once.
func (c *Controller) Close() {
	close(c.quit)
	c.m.Close()
}

// Machine returns the Controller's owned Machine, for callers (the PV
// binding layer's device channel routing) that need direct device
// access outside the command surface.
func (c *Controller) Machine() *machine.Machine { return c.m }

// Last returns the most recently published snapshot without going
// through the serializer, for read-mostly callers like the PV binding's
// HTTP handlers.
func (c *Controller) Last() Snapshot {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	return c.last
}

// Go issues a Go command, per spec §4.5: rejected while Busy or
// Disabled, otherwise accepted if target is the initial state or a
// defined transition from the current state.
func (c *Controller) Go(target string) error {
	reply := make(chan error, 1)
	c.cmdCh <- cmdRequest{kind: cmdGo, target: target, reply: reply}
	return <-reply
}

// Abort issues an Abort command. Rejected unless the machine is Busy.
func (c *Controller) Abort() error {
	reply := make(chan error, 1)
	c.cmdCh <- cmdRequest{kind: cmdAbort, reply: reply}
	return <-reply
}

// SetActive is the supervisor's hook for the single-Active invariant
// (spec §4.6): activating recomputes the held-state predicate and enters
// Idle or FAULT accordingly; deactivating always lands on Disabled.
func (c *Controller) SetActive(active bool) error {
	reply := make(chan error, 1)
	c.cmdCh <- cmdRequest{kind: cmdSetActive, active: active, reply: reply}
	return <-reply
}

func (c *Controller) run(fsmInitial *fsm.FSM) {
	f := fsmInitial
	holdTicker := time.NewTicker(holdPollInterval)
	defer holdTicker.Stop()

	var abortCh chan struct{}
	var runID string
	var msg string
	var activeTransition string
	var activeFlag bool
	var failedDevices []string

	for {
		select {
		case <-c.quit:
			return

		case cm := <-c.cmdCh:
			switch cm.kind {
			case cmdGo:
				cur := f.Current()
				if cur == string(status.Busy) || cur == string(status.Disabled) {
					cm.reply <- &governorerr.CommandRejectedError{Machine: c.m.Name, Reason: fmt.Sprintf("cannot Go while %s", cur)}
					continue
				}
				currentState := c.m.CurrentState()
				if cm.target != c.m.Graph.InitState {
					if _, ok := c.m.Graph.Lookup(currentState, cm.target); !ok {
						cm.reply <- &governorerr.CommandRejectedError{Machine: c.m.Name, Reason: fmt.Sprintf("no transition %s->%s", currentState, cm.target)}
						continue
					}
				}
				if err := f.Event("accept_go"); err != nil {
					cm.reply <- &governorerr.CommandRejectedError{Machine: c.m.Name, Reason: err.Error()}
					continue
				}
				runID = xid.New().String()
				abortCh = make(chan struct{})
				activeTransition = fmt.Sprintf("%s-%s", currentState, cm.target)
				msg = ""
				failedDevices = nil
				c.publish(f, msg, activeTransition, runID, failedDevices)
				cm.reply <- nil

				go func(target string, abortCh chan struct{}, runID string) {
					outcome, err := c.m.Execute(context.Background(), target, abortCh)
					c.resultCh <- resultMsg{runID: runID, outcome: outcome, err: err}
				}(cm.target, abortCh, runID)

			case cmdAbort:
				if f.Current() != string(status.Busy) {
					cm.reply <- &governorerr.CommandRejectedError{Machine: c.m.Name, Reason: "not busy"}
					continue
				}
				if abortCh != nil {
					close(abortCh)
					abortCh = nil
				}
				cm.reply <- nil

			case cmdSetActive:
				if cm.active == activeFlag {
					cm.reply <- nil
					continue
				}
				activeFlag = cm.active
				if !activeFlag {
					_ = f.Event("disable")
					msg = ""
				} else {
					held, herr := c.m.HeldInState(c.m.CurrentState())
					if held {
						_ = f.Event("enable")
						msg = ""
					} else {
						_ = f.Event("fault")
						msg = herr.Error()
					}
				}
				c.publish(f, msg, activeTransition, runID, failedDevices)
				cm.reply <- nil
			}

		case res := <-c.resultCh:
			if res.runID != runID {
				continue // stale result from a superseded run; should not happen but is harmless to drop
			}
			if res.err != nil {
				// Execute only returns a non-nil error when the Go
				// command's own precondition check above was somehow
				// bypassed (e.g. a stale transition edge); there is no
				// outcome to apply status from.
				c.log.WithField("machine", c.m.Name).Errorf("executor error: %v", res.err)
				_ = f.Event("fault")
				msg = res.err.Error()
				activeTransition = ""
				failedDevices = nil
				c.publish(f, msg, activeTransition, runID, failedDevices)
				continue
			}
			switch res.outcome.Kind {
			case machine.Success:
				_ = f.Event("complete")
				msg = ""
				failedDevices = nil
			case machine.Failure:
				_ = f.Event("fault")
				msg = res.outcome.Reason
				failedDevices = res.outcome.FailedDevices
			case machine.Aborted:
				_ = f.Event("abort_complete")
				msg = res.outcome.Reason
				failedDevices = nil
			}
			activeTransition = ""
			c.publish(f, msg, activeTransition, runID, failedDevices)

		case <-holdTicker.C:
			if f.Current() == string(status.Idle) {
				held, herr := c.m.HeldInState(c.m.CurrentState())
				if !held {
					c.m.EnterFaultState()
					_ = f.Event("fault")
					msg = herr.Error()
					failedDevices = nil
					c.publish(f, msg, activeTransition, runID, failedDevices)
				}
			}
		}
	}
}

func (c *Controller) publish(f *fsm.FSM, msg, activeTransition, runID string, failedDevices []string) {
	current := c.m.CurrentState()
	st := status.Status(f.Current())
	active := st != status.Disabled
	idle := st == status.Idle
	snap := Snapshot{
		Machine:          c.m.Name,
		Status:           st,
		State:            current,
		Reachable:        c.m.Graph.ReachableGiven(current, active, idle),
		Msg:              msg,
		ActiveTransition: activeTransition,
		RunID:            runID,
		FailedDevices:    failedDevices,
	}

	c.lastMu.Lock()
	c.last = snap
	c.lastMu.Unlock()

	if c.onPublish != nil {
		c.onPublish(snap)
	}
}
