// Package governorerr defines the typed error kinds of spec §7: each
// distinguishable failure mode the Governor can raise is its own type, so
// callers composing a FAULT message can discriminate with errors.As
// instead of string matching.
package governorerr

import (
	"fmt"
	"strings"
)

// ConfigInvalidError collects every validation message produced while
// compiling a single machine configuration. It is always non-empty.
type ConfigInvalidError struct {
	Machine  string
	Messages []string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("machine %q: invalid configuration: %s", e.Machine, strings.Join(e.Messages, "; "))
}

type deviceErrorBase struct {
	Machine string
	Device  string
}

func (e deviceErrorBase) deviceTag() string {
	return fmt.Sprintf("%s/%s", e.Machine, e.Device)
}

// DisconnectedError: the device driver reports at least one underlying PV
// is not live.
type DisconnectedError struct{ deviceErrorBase }

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("device %s: DISCONNECTED", e.deviceTag())
}

// NewDisconnectedError builds a DisconnectedError tagged with a device
// key. Machine is left blank; callers up the stack (the executor,
// the controller) that know the owning machine wrap it with
// WithMachine.
func NewDisconnectedError(device string) *DisconnectedError {
	return &DisconnectedError{deviceErrorBase{Device: device}}
}

// NotHomedError: a Motor reports its controller is unhomed.
type NotHomedError struct{ deviceErrorBase }

func (e *NotHomedError) Error() string {
	return fmt.Sprintf("device %s: NOT_HOMED", e.deviceTag())
}

func NewNotHomedError(device string) *NotHomedError {
	return &NotHomedError{deviceErrorBase{Device: device}}
}

// TimeoutError: a device's idle timer expired before it reached its
// target during a transition stage.
type TimeoutError struct {
	deviceErrorBase
	Target string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device %s: TIMEOUT moving to %q", e.deviceTag(), e.Target)
}

func NewTimeoutError(device, target string) *TimeoutError {
	return &TimeoutError{deviceErrorBase{Device: device}, target}
}

// MissedTargetError: a device stopped moving but its readback settled
// outside the target's window.
type MissedTargetError struct {
	deviceErrorBase
	Target string
}

func (e *MissedTargetError) Error() string {
	return fmt.Sprintf("device %s: MISSED_TARGET %q", e.deviceTag(), e.Target)
}

func NewMissedTargetError(device, target string) *MissedTargetError {
	return &MissedTargetError{deviceErrorBase{Device: device}, target}
}

// OutOfWindowError: the held-state check found a bound device outside its
// window while the machine claimed Idle.
type OutOfWindowError struct {
	deviceErrorBase
	State string
}

func (e *OutOfWindowError) Error() string {
	return fmt.Sprintf("device %s: OUT_OF_WINDOW for state %q", e.deviceTag(), e.State)
}

func NewOutOfWindowError(device, state string) *OutOfWindowError {
	return &OutOfWindowError{deviceErrorBase{Device: device}, state}
}

// WithMachine annotates any of the device-tagged error kinds with the
// owning machine name, returning the same concrete type so errors.As
// still matches at call sites further up the stack.
func WithMachine(err error, machine string) error {
	switch e := err.(type) {
	case *DisconnectedError:
		e.Machine = machine
		return e
	case *NotHomedError:
		e.Machine = machine
		return e
	case *TimeoutError:
		e.Machine = machine
		return e
	case *MissedTargetError:
		e.Machine = machine
		return e
	case *OutOfWindowError:
		e.Machine = machine
		return e
	default:
		return err
	}
}

// AbortedError: a transition was cancelled by an explicit Abort signal,
// not by a device failure. It never causes FAULT.
type AbortedError struct {
	Machine string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("machine %q: ABORTED", e.Machine)
}

// CommandRejectedError: a command was refused without changing state
// (e.g. Go while Busy, Config-Sel while any machine Busy).
type CommandRejectedError struct {
	Machine string
	Reason  string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("machine %q: command rejected: %s", e.Machine, e.Reason)
}
