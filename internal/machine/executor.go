package machine

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/openbeamline/governor/common/governorerr"
	"github.com/openbeamline/governor/internal/device"
	"github.com/openbeamline/governor/internal/stategraph"
)

// OutcomeKind classifies how Execute ended, so the controller (which owns
// the Idle/Busy/FAULT status word) knows what status to apply without
// re-deriving it from the error type.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	Failure
	Aborted
)

// Outcome is Execute's result, spec §4.4 steps 3-5.
type Outcome struct {
	Kind          OutcomeKind
	Reason        string
	FailedDevices []string
}

// Execute drives the machine from its current state to target, per spec
// §4.4. Precondition checking (is this a defined transition, is the
// machine Idle and Active) is the controller's job, done before Execute
// is ever called; Execute trusts that target is either the graph's
// initial state or a defined (current, target) edge.
//
// abort is polled between stages and, through the run context it
// cancels, also raced against every device's WaitMove — the
// level-triggered cancellation of spec §5.
func (m *Machine) Execute(ctx context.Context, target string, abort <-chan struct{}) (*Outcome, error) {
	current := m.CurrentState()

	if target == m.Graph.InitState {
		m.setCurrentState(m.Graph.InitState)
		return &Outcome{Kind: Success}, nil
	}

	tr, ok := m.Graph.Lookup(current, target)
	if !ok {
		return nil, fmt.Errorf("machine %q: no transition %s->%s", m.Name, current, target)
	}
	graphDestState, ok := m.Graph.States[target]
	if !ok {
		return nil, fmt.Errorf("machine %q: destination state %q not compiled", m.Name, target)
	}
	// Snapshot the destination state's bindings by value rather than
	// holding the graph's own pointer for the run's duration: the graph
	// is shared read-only state, and a deep copy means a stage's device
	// dispatch never observes a mutation to it mid-transition.
	destState := &stategraph.State{}
	m.Graph.RLockStates()
	err := copier.CopyWithOption(destState, graphDestState, copier.Option{DeepCopy: true})
	m.Graph.RUnlockStates()
	if err != nil {
		return nil, fmt.Errorf("machine %q: snapshotting destination state %q: %w", m.Name, target, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-abort:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for _, stage := range tr.Stages {
		select {
		case <-abort:
			return m.abortPath(), nil
		default:
		}

		started, err := m.startStage(stage, destState)
		if err != nil {
			m.stopDevices(started)
			return m.failurePath(err), nil
		}

		if err := m.waitStage(runCtx, started); err != nil {
			m.stopDevices(started)
			select {
			case <-abort:
				return m.abortPath(), nil
			default:
			}
			return m.failurePath(err), nil
		}
	}

	for devKey, binding := range destState.Targets {
		if !binding.UpdateAfter {
			continue
		}
		d, ok := m.devices[devKey]
		if !ok {
			continue
		}
		readback := d.Readback().Position
		if err := d.SetTargetValue(binding.Target, readback); err != nil {
			m.log.WithField("machine", m.Name).Warnf("updateAfter %s/%s: %v", devKey, binding.Target, err)
			continue
		}
		if m.store != nil {
			m.store.Write(m.Name, devKey, binding.Target, readback)
		}
	}

	m.setCurrentState(target)
	return &Outcome{Kind: Success}, nil
}

type startedDevice struct {
	key    string
	target string
}

// startStage issues start_move to every device in the stage concurrently
// (spec §4.4 step 2a: "the executor does not serialize their start_move
// calls"). It returns the subset that accepted the move; a device whose
// start_move fails outright (e.g. MISSED_TARGET from an out-of-limits
// setpoint) is reported as the stage's failure immediately, per spec
// §4.4's "device appears in a stage but its destination setpoint is
// outside its own motor limits ... treated as MISSED_TARGET immediately".
func (m *Machine) startStage(stage []string, destState *stategraph.State) ([]startedDevice, error) {
	var mu sync.Mutex
	var started []startedDevice
	var firstErr error

	var wg sync.WaitGroup
	for _, devKey := range stage {
		binding, ok := destState.Targets[devKey]
		if !ok {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("device %q has no binding on destination state", devKey)
			}
			mu.Unlock()
			continue
		}
		d, ok := m.devices[devKey]
		if !ok {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("unknown device %q", devKey)
			}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(devKey string, d *device.Device, t string) {
			defer wg.Done()
			err := d.StartMove(t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = governorerr.WithMachine(err, m.Name)
				}
				return
			}
			started = append(started, startedDevice{key: devKey, target: t})
		}(devKey, d, binding.Target)
	}
	wg.Wait()
	return started, firstErr
}

// waitStage blocks until every started device in the stage reports
// success, returning the first failure encountered. All devices are
// waited on concurrently; the stage itself is the barrier (spec §4.4:
// "Stages themselves are barriers").
func (m *Machine) waitStage(ctx context.Context, started []startedDevice) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(started))

	for _, sd := range started {
		d, ok := m.devices[sd.key]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(d *device.Device, target string) {
			defer wg.Done()
			if err := d.WaitMove(ctx, target); err != nil {
				errCh <- governorerr.WithMachine(err, m.Name)
			}
		}(d, sd.target)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err // first failure; devices may still need stopping by the caller
	}
	return nil
}

func (m *Machine) stopDevices(started []startedDevice) {
	for _, sd := range started {
		if d, ok := m.devices[sd.key]; ok {
			d.StopMove()
		}
	}
}

func (m *Machine) failurePath(cause error) *Outcome {
	m.setCurrentState(m.Graph.InitState)
	devices := deviceNamesFromError(cause)
	return &Outcome{Kind: Failure, Reason: cause.Error(), FailedDevices: devices}
}

func (m *Machine) abortPath() *Outcome {
	m.setCurrentState(m.Graph.InitState)
	return &Outcome{Kind: Aborted, Reason: "ABORTED"}
}

func deviceNamesFromError(err error) []string {
	switch e := err.(type) {
	case *governorerr.DisconnectedError:
		return []string{e.Device}
	case *governorerr.TimeoutError:
		return []string{e.Device}
	case *governorerr.MissedTargetError:
		return []string{e.Device}
	case *governorerr.NotHomedError:
		return []string{e.Device}
	default:
		return nil
	}
}
