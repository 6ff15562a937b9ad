// Package pvbus translates the internal object graph into the published
// PV channel names of spec §6 and routes writes back as commands
// (spec §4.7). It is the only package that knows about the literal
// brace naming convention; everything else in the core talks in plain
// machine/device/state keys.
package pvbus

import "fmt"

// Scope builders. All names are relative to a configured prefix,
// applied by Server when it actually publishes a channel.

// Global returns a global-scope channel, e.g. "{Gov}List-I".
func Global(suffix string) string {
	return fmt.Sprintf("{Gov}%s", suffix)
}

// Machine returns a per-machine channel, e.g. "{Gov:SM}Status-Sts".
func Machine(name, suffix string) string {
	return fmt.Sprintf("{Gov:%s}%s", name, suffix)
}

// Device returns a per-device channel, e.g.
// "{Gov:SM-Dev:d}Pos:T-Pos" when suffix is "Pos:T-Pos".
func Device(machine, deviceKey, suffix string) string {
	return fmt.Sprintf("{Gov:%s-Dev:%s}%s", machine, deviceKey, suffix)
}

// State returns a per-state channel, e.g.
// "{Gov:SM-St:X}Sts:Reach-Sts" when suffix is "Sts:Reach-Sts".
func State(machine, stateKey, suffix string) string {
	return fmt.Sprintf("{Gov:%s-St:%s}%s", machine, stateKey, suffix)
}

// Transition returns a per-transition channel, e.g.
// "{Gov:SM-Tr:FROM-TO}Sts:Active-Sts".
func Transition(machine, from, to, suffix string) string {
	return fmt.Sprintf("{Gov:%s-Tr:%s-%s}%s", machine, from, to, suffix)
}

// PosTarget is the per-device, per-target setpoint channel:
// "{Gov:SM-Dev:d}Pos:T-Pos".
func PosTarget(machine, deviceKey, targetName string) string {
	return Device(machine, deviceKey, fmt.Sprintf("Pos:%s-Pos", targetName))
}

// ReachSts is the per-state reachability channel:
// "{Gov:SM-St:X}Sts:Reach-Sts".
func ReachSts(machine, stateKey string) string {
	return State(machine, stateKey, "Sts:Reach-Sts")
}

// DeviceLimit is the per-state, per-device writable limit channel,
// named after the original Governor's LLim/HLim PVs:
// "{Gov:SM-St:X}LLim:d-Pos" / "{Gov:SM-St:X}HLim:d-Pos".
func DeviceLimit(machine, stateKey, deviceKey, tag string) string {
	return State(machine, stateKey, fmt.Sprintf("%s:%s-Pos", tag, deviceKey))
}

// Limit tags, matched against a decoded state-channel suffix by
// reDeviceLimit.
const (
	LimitLowTag  = "LLim"
	LimitHighTag = "HLim"
)

// Fixed per-machine channel names (spec §6: -Sel/-Cmd/-Sts/-I/-Pos
// suffix conventions).
const (
	SuffixStatusSts   = "Status-Sts"
	SuffixStateI      = "State-I"
	SuffixReachI      = "Reach-I"
	SuffixMsgI        = "Msg-I"
	SuffixGoCmd       = "Cmd:Go-Cmd"
	SuffixAbortCmd    = "Cmd:Abort-Cmd"
	SuffixActiveTrSts = "Sts:Active-Sts"
	SuffixDevsI       = "Sts:Devs-I"
	SuffixStatesI     = "Sts:States-I"
)

// Fixed per-device channel names.
const (
	SuffixTgtsI = "Sts:Tgts-I"
)

// Fixed global channel names.
const (
	SuffixListI     = "List-I"
	SuffixActiveSel = "Active-Sel"
	SuffixConfigSel = "Config-Sel"
	SuffixAbortCmdG = "Abort-Cmd"
	SuffixKillCmd   = "Kill-Cmd"
)
