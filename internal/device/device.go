// Package device implements the Device driver capability set of spec
// §4.1: a tagged variant over Motor, Valve and Dummy, dispatched by Kind
// rather than by method lookup (spec §9's design note), each with its own
// connection state, live readback and move primitive.
//
// Every Device is backed by the simulated driverBackend described in
// SPEC_FULL §D: the Governor has nothing real to link against, so the
// run() goroutine below models motor travel at a configurable velocity
// and valve actuation after a configurable delay. A Motor-record/valve
// backend for a real facility would drive the same public API; only the
// inside of run() would change.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openbeamline/governor/common/governorerr"
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
)

// Kind is the tagged-variant discriminator.
type Kind = config.DeviceKind

const (
	Motor = config.KindMotor
	Valve = config.KindValve
	Dummy = config.KindDummy
)

// ValveState is the discrete readback alphabet for Valve devices.
type ValveState int

const (
	ValveUnknown ValveState = iota
	ValveOpen
	ValveClosed
	ValveMoving
)

func (v ValveState) String() string {
	switch v {
	case ValveOpen:
		return "Open"
	case ValveClosed:
		return "Closed"
	case ValveMoving:
		return "Moving"
	default:
		return "Unknown"
	}
}

// Default simulation poll intervals, per spec §9's design note suggestion
// (100ms motors, 250ms valves).
const (
	motorPollInterval = 100 * time.Millisecond
	valvePollInterval = 250 * time.Millisecond
	defaultVelocity    = 50.0 // position units per second
	defaultValveTravel = 500 * time.Millisecond
)

// Readback is a snapshot of a Device's live position, taken without
// blocking on the device's own goroutine (spec §5: "non-blocking snapshot
// reads of last readback").
type Readback struct {
	Connected  bool
	Homed      bool
	Position   float64    // Motor/Dummy
	ValveState ValveState // Valve
	Moving     bool
}

type moveCmd struct {
	target string
	reply  chan error
}

// Device drives one positioner under the capability set of spec §4.1.
type Device struct {
	Key       string
	Name      string
	Kind      Kind
	PV        string
	Tolerance float64
	Timeout   time.Duration

	velocity    float64
	valveTravel time.Duration
	limits      *[2]float64

	log *logger.Log

	mu      sync.RWMutex
	targets map[string]float64 // Motor/Dummy only; Valve targets are implicit Open/Closed

	snapMu sync.RWMutex
	snap   Readback

	cmdCh   chan moveCmd
	stopCh  chan struct{}
	quit    chan struct{}
	started bool

	// simulation-only state, owned exclusively by run()
	simMoveDeadline time.Time
	simDesiredValve ValveState
	simTargetPos    float64
	simMoving       bool
	stuckMoving     bool // test hook: if set, Moving() never clears once a move starts
}

// New builds a Device from its configuration entry. It does not start the
// polling goroutine; call Start for that.
func New(key string, cfg config.DeviceConfig, log *logger.Log) *Device {
	d := &Device{
		Key:       key,
		Name:      cfg.Name,
		Kind:      cfg.Type,
		PV:        cfg.PV,
		Tolerance: cfg.Tolerance,
		Timeout:   time.Duration(cfg.Timeout * float64(time.Second)),
		log:       log,
		targets:   make(map[string]float64, len(cfg.Positions)),
		cmdCh:     make(chan moveCmd),
		stopCh:    make(chan struct{}),
		quit:      make(chan struct{}),
	}
	for name, v := range cfg.Positions {
		d.targets[name] = v
	}

	d.velocity = cfg.Velocity
	if d.velocity <= 0 {
		d.velocity = defaultVelocity
	}
	d.valveTravel = time.Duration(cfg.ValveTravel * float64(time.Second))
	if d.valveTravel <= 0 {
		d.valveTravel = defaultValveTravel
	}
	d.limits = cfg.MotorLimits

	d.snap = Readback{Connected: true, Homed: true}
	if cfg.Type == Valve {
		d.snap.ValveState = ValveClosed
	} else if v, ok := cfg.Positions[firstKey(cfg.Positions)]; ok {
		d.snap.Position = v
	}
	return d
}

func firstKey(m map[string]float64) string {
	for k := range m {
		return k
	}
	return ""
}

// Start launches the device's own goroutine. Every call that mutates
// motion state (StartMove, StopMove) and every physics step happens on
// this one goroutine (spec §5: "device drivers may only be called from
// their own task").
func (d *Device) Start() {
	if d.started {
		return
	}
	d.started = true
	go d.run()
}

// Close stops the device's goroutine. Safe to call once.
func (d *Device) Close() {
	close(d.quit)
}

func (d *Device) pollInterval() time.Duration {
	if d.Kind == Valve {
		return valvePollInterval
	}
	return motorPollInterval
}

func (d *Device) run() {
	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-d.quit:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			d.step(dt)
		case cmd := <-d.cmdCh:
			cmd.reply <- d.handleStartMove(cmd.target)
		case <-d.stopCh:
			d.handleStop()
		}
	}
}

// step advances the simulated physics by dt. Called only from run().
func (d *Device) step(dt time.Duration) {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()

	switch d.Kind {
	case Motor:
		if d.simMoving && !d.stuckMoving {
			delta := d.velocity * dt.Seconds()
			if d.snap.Position < d.simTargetPos {
				d.snap.Position += delta
				if d.snap.Position >= d.simTargetPos {
					d.snap.Position = d.simTargetPos
					d.simMoving = false
				}
			} else if d.snap.Position > d.simTargetPos {
				d.snap.Position -= delta
				if d.snap.Position <= d.simTargetPos {
					d.snap.Position = d.simTargetPos
					d.simMoving = false
				}
			} else {
				d.simMoving = false
			}
			d.snap.Moving = d.simMoving
		}
	case Valve:
		if d.simMoving && !d.stuckMoving {
			d.snap.ValveState = ValveMoving
			if !d.simMoveDeadline.IsZero() && time.Now().After(d.simMoveDeadline) {
				d.snap.ValveState = d.simDesiredValve
				d.simMoving = false
			}
			d.snap.Moving = d.simMoving
		}
	case Dummy:
		// instant; nothing to step
	}
}

func (d *Device) handleStartMove(target string) error {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()

	if !d.snap.Connected {
		return governorerr.NewDisconnectedError(d.Key)
	}
	if d.Kind == Motor && !d.snap.Homed {
		return governorerr.NewNotHomedError(d.Key)
	}

	switch d.Kind {
	case Motor, Dummy:
		d.mu.RLock()
		value, ok := d.targets[target]
		d.mu.RUnlock()
		if !ok {
			return fmt.Errorf("device %s: target %q is not defined", d.Key, target)
		}
		if d.limits != nil && (value < d.limits[0] || value > d.limits[1]) {
			return governorerr.NewMissedTargetError(d.Key, target)
		}
		d.simTargetPos = value
		if d.Kind == Dummy {
			d.snap.Position = value
			d.simMoving = false
		} else {
			d.simMoving = d.snap.Position != value
			d.snap.Moving = d.simMoving
		}
	case Valve:
		var desired ValveState
		switch target {
		case "Open":
			desired = ValveOpen
		case "Closed":
			desired = ValveClosed
		default:
			return fmt.Errorf("device %s: valve target must be Open or Closed, got %q", d.Key, target)
		}
		d.simDesiredValve = desired
		if d.snap.ValveState == desired {
			d.simMoving = false
		} else {
			d.simMoving = true
			d.snap.ValveState = ValveMoving
			d.simMoveDeadline = time.Now().Add(d.valveTravel)
		}
		d.snap.Moving = d.simMoving
	}
	return nil
}

func (d *Device) handleStop() {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	if d.Kind == Motor {
		d.simMoving = false
		d.snap.Moving = false
		d.simTargetPos = d.snap.Position
	}
	// Valves ignore stop, per spec §4.1.
}

// --- capability set, spec §4.1 ---

func (d *Device) Connected() bool {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snap.Connected
}

func (d *Device) Homed() bool {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	if d.Kind != Motor {
		return true
	}
	return d.snap.Homed
}

func (d *Device) Readback() Readback {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snap
}

func (d *Device) Moving() bool {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snap.Moving
}

// At reports whether the current readback matches target, per the
// per-kind equality of spec §4.1.
func (d *Device) At(target string) (bool, error) {
	if d.Kind == Dummy {
		return true, nil
	}
	snap := d.Readback()
	if !snap.Connected {
		return false, governorerr.NewDisconnectedError(d.Key)
	}
	switch d.Kind {
	case Motor:
		setpoint, ok := d.TargetValue(target)
		if !ok {
			return false, fmt.Errorf("device %s: target %q is not defined", d.Key, target)
		}
		return absf(snap.Position-setpoint) <= d.Tolerance, nil
	case Valve:
		var want ValveState
		switch target {
		case "Open":
			want = ValveOpen
		case "Closed":
			want = ValveClosed
		default:
			return false, fmt.Errorf("device %s: valve target must be Open or Closed, got %q", d.Key, target)
		}
		return snap.ValveState == want, nil
	}
	return false, nil
}

// Within reports whether the readback lies in [setpoint+lo-tol,
// setpoint+hi+tol], per spec §4.1/§3. Valve and Dummy devices have no
// numeric window, so Within degenerates to At for them.
func (d *Device) Within(target string, lo, hi float64) (bool, error) {
	if d.Kind != Motor {
		return d.At(target)
	}
	snap := d.Readback()
	if !snap.Connected {
		return false, governorerr.NewDisconnectedError(d.Key)
	}
	setpoint, ok := d.TargetValue(target)
	if !ok {
		return false, fmt.Errorf("device %s: target %q is not defined", d.Key, target)
	}
	window := [2]float64{setpoint + lo - d.Tolerance, setpoint + hi + d.Tolerance}
	return snap.Position >= window[0] && snap.Position <= window[1], nil
}

// StartMove issues the move and returns once the backend has accepted or
// rejected it; it does not wait for completion (that is WaitMove's job).
func (d *Device) StartMove(target string) error {
	reply := make(chan error, 1)
	select {
	case d.cmdCh <- moveCmd{target: target, reply: reply}:
	case <-d.quit:
		return fmt.Errorf("device %s: closed", d.Key)
	}
	return <-reply
}

// StopMove issues a best-effort halt. Motors abort in place; valves
// ignore it, per spec §4.1.
func (d *Device) StopMove() {
	select {
	case d.stopCh <- struct{}{}:
	case <-d.quit:
	}
}

// WaitMove implements the waiting discipline of spec §4.4: a timer bounded
// by the device's configured Timeout, reset on every sign of real forward
// progress so slow-but-progressing motion never trips it, and firing
// TimeoutError if a Motor's readback position goes stale (a driver that
// never clears moving() makes no progress either, so it times out too) or
// a Valve simply takes longer than Timeout to settle. It returns nil once
// the device reports at(target), or a typed error (TimeoutError,
// MissedTargetError, DisconnectedError, NotHomedError) on failure.
func (d *Device) WaitMove(ctx context.Context, target string) error {
	if !d.Connected() {
		return governorerr.NewDisconnectedError(d.Key)
	}
	if d.Kind == Motor && !d.Homed() {
		return governorerr.NewNotHomedError(d.Key)
	}
	if d.Kind == Dummy {
		return nil
	}

	const samplePeriod = 20 * time.Millisecond
	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()

	idleTimer := time.NewTimer(d.Timeout)
	defer idleTimer.Stop()

	lastPos := d.Readback().Position

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idleTimer.C:
			return governorerr.NewTimeoutError(d.Key, target)
		case <-ticker.C:
			if !d.Connected() {
				return governorerr.NewDisconnectedError(d.Key)
			}
			snap := d.Readback()

			if d.Kind == Motor && snap.Position != lastPos {
				lastPos = snap.Position
				if !idleTimer.Stop() {
					<-idleTimer.C
				}
				idleTimer.Reset(d.Timeout)
			}

			if !snap.Moving {
				at, err := d.At(target)
				if err != nil {
					return err
				}
				if at {
					return nil
				}
				return governorerr.NewMissedTargetError(d.Key, target)
			}
		}
	}
}

// TargetValue returns a Motor/Dummy target's current setpoint.
func (d *Device) TargetValue(target string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.targets[target]
	return v, ok
}

// TargetNames lists every target name defined on this device: the
// numeric position keys for Motor/Dummy, or the implicit Open/Closed
// pair for Valve. Backs the per-device Sts:Tgts-I enumeration channel.
func (d *Device) TargetNames() []string {
	if d.Kind == Valve {
		return []string{"Open", "Closed"}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.targets))
	for name := range d.targets {
		names = append(names, name)
	}
	return names
}

// HasTarget reports whether target is defined on this device (numeric
// target for Motor/Dummy, or the implicit Open/Closed pair for Valve).
func (d *Device) HasTarget(target string) bool {
	if d.Kind == Valve {
		return target == "Open" || target == "Closed"
	}
	_, ok := d.TargetValue(target)
	return ok
}

// SetTargetValue mutates a target's setpoint. This is the entry point the
// target store (internal/target) and the executor's updateAfter
// side-effect (spec §4.4 item 3) both write through.
func (d *Device) SetTargetValue(target string, value float64) error {
	if d.Kind == Valve {
		return fmt.Errorf("device %s: valve targets have no numeric setpoint", d.Key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.targets[target]; !ok {
		return fmt.Errorf("device %s: target %q is not defined", d.Key, target)
	}
	d.targets[target] = value
	return nil
}

// --- simulation-only test hooks; spec §1 excludes real PV protocols, so
// these are the only way to exercise DISCONNECTED/NOT_HOMED/stuck-motion
// scenarios against the simulated backend. ---

func (d *Device) SetSimulatedConnected(connected bool) {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	d.snap.Connected = connected
}

func (d *Device) SetSimulatedHomed(homed bool) {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	d.snap.Homed = homed
}

// SetSimulatedStuck forces the device to report Moving() forever once a
// move starts, modelling a controller that never clears its in-motion
// bit (spec seed scenario 3).
func (d *Device) SetSimulatedStuck(stuck bool) {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	d.stuckMoving = stuck
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
