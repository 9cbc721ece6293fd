package controller

import "time"

// Flag identifies one OS-level enablement owned by the controller.
type Flag string

const (
	FlagSystemProxy Flag = "system-proxy"
	FlagTun         Flag = "tun"
)

// FlagState is the per-flag state machine. The transient states are visible
// to observers for progress indication but are never persisted: on startup
// the controller re-derives actual state from the OS.
type FlagState string

const (
	StateDisabled  FlagState = "disabled"
	StateEnabling  FlagState = "enabling"
	StateEnabled   FlagState = "enabled"
	StateDisabling FlagState = "disabling"
)

// Enabled reports the flag's settled intent. Transient states count toward
// the state they are moving to.
func (s FlagState) Enabled() bool {
	return s == StateEnabled || s == StateEnabling
}

// Settled reports whether the flag is not mid-transition.
func (s FlagState) Settled() bool {
	return s == StateEnabled || s == StateDisabled
}

// GuardResult is the outcome of the most recent guard check.
type GuardResult string

const (
	GuardResultOK        GuardResult = "ok"
	GuardResultCorrected GuardResult = "corrected"
	GuardResultFailed    GuardResult = "correction-failed"
	GuardResultSuspended GuardResult = "suspended"
)

// State is a point-in-time snapshot of the process-wide proxy state.
type State struct {
	SystemProxy FlagState
	Tun         FlagState
	Guard       bool

	LastAppliedConfigHash string
	LastGuardCheckAt      time.Time
	LastGuardResult       GuardResult
}
