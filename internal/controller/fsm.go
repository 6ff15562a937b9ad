package controller

import (
	"github.com/looplab/fsm"

	"github.com/openbeamline/governor/internal/status"
)

// newStatusFSM builds the status word FSM of spec §4.5. It follows the
// teacher's core/environment pattern of driving state with
// github.com/looplab/fsm rather than a hand-rolled switch, generalized
// from one big environment lifecycle to the Governor's four-state
// controller status.
//
// Recovery policy (spec §7) reads "the operator issues a fresh Go once
// the underlying condition clears" — so accept_go's source set includes
// FAULT as well as Idle: a Go command is only rejected outright while
// Busy or Disabled, never solely because the machine is at fault.
func newStatusFSM(initial status.Status) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: "accept_go", Src: []string{string(status.Idle), string(status.Fault)}, Dst: string(status.Busy)},
			{Name: "complete", Src: []string{string(status.Busy)}, Dst: string(status.Idle)},
			{Name: "abort_complete", Src: []string{string(status.Busy)}, Dst: string(status.Idle)},
			{Name: "fault", Src: []string{string(status.Idle), string(status.Busy), string(status.Disabled)}, Dst: string(status.Fault)},
			{Name: "disable", Src: []string{string(status.Idle), string(status.Busy), string(status.Fault)}, Dst: string(status.Disabled)},
			{Name: "enable", Src: []string{string(status.Disabled)}, Dst: string(status.Idle)},
		},
		fsm.Callbacks{},
	)
}
