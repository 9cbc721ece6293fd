package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying each stable failure kind. Callers match with
// errors.Is; the typed structs below carry the human-readable detail that is
// surfaced to the UI verbatim.
var (
	// Profile errors
	ErrFetch = errors.New("profile fetch failed")
	ErrParse = errors.New("profile content is malformed")
	ErrInUse = errors.New("profile is referenced by the active merge chain")

	// Merge errors
	ErrValidation = errors.New("merged configuration is invalid")

	// Sandbox errors
	ErrScript  = errors.New("script execution failed")
	ErrTimeout = errors.New("script execution exceeded time budget")

	// Activation errors
	ErrActivation = errors.New("core rejected configuration")

	// OS errors
	ErrPermission = errors.New("elevated rights required")
	ErrOSState    = errors.New("OS reported inconsistent proxy state")

	// Sync errors
	ErrConflict = errors.New("remote data changed since last pull")
)

// FetchError represents a network/transport failure while fetching a profile.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch '%s': %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return ErrFetch }

// ParseError represents malformed profile content.
type ParseError struct {
	Source string // profile name or URL
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse '%s': %v", e.Source, e.Cause)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// InUseError is returned when removing a profile that the active merge chain
// still references.
type InUseError struct {
	ProfileID string
	Name      string
}

func (e *InUseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("profile '%s' is used by the merge chain (remove with force to prune)", e.Name)
	}
	return fmt.Sprintf("profile %s is used by the merge chain (remove with force to prune)", e.ProfileID)
}

func (e *InUseError) Unwrap() error { return ErrInUse }

// ValidationError represents a structurally invalid merged result. Path
// points at the offending location, e.g. "proxies[2].name".
type ValidationError struct {
	Path   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid configuration at %s: %s", e.Path, e.Detail)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ScriptError represents a failure raised inside a transformation script.
// Console carries lines the script logged before failing.
type ScriptError struct {
	Profile string
	Detail  string
	Console []string
}

func (e *ScriptError) Error() string {
	if e.Profile != "" {
		return fmt.Sprintf("script '%s': %s", e.Profile, e.Detail)
	}
	return fmt.Sprintf("script: %s", e.Detail)
}

func (e *ScriptError) Unwrap() error { return ErrScript }

// TimeoutError is returned when a script exceeds its wall-clock budget.
type TimeoutError struct {
	Profile string
	Budget  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script '%s' exceeded time budget (%s)", e.Profile, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ActivationError is returned when the external core rejects a configuration
// or is unreachable. Detail is the core's diagnostic message when available.
type ActivationError struct {
	Detail      string
	Unreachable bool
	Cause       error
}

func (e *ActivationError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("core unreachable: %v", e.Cause)
	}
	return fmt.Sprintf("core rejected configuration: %s", e.Detail)
}

func (e *ActivationError) Unwrap() error { return ErrActivation }

// PermissionError is returned when an OS mutation needs elevated rights that
// are not available.
type PermissionError struct {
	Operation string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s requires elevated rights", e.Operation)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// OSStateError is returned when a read-back after an OS mutation does not
// match what was written.
type OSStateError struct {
	Flag     string // "system" or "tun"
	Expected string
	Actual   string
}

func (e *OSStateError) Error() string {
	return fmt.Sprintf("OS state for %s inconsistent after apply: expected %s, got %s", e.Flag, e.Expected, e.Actual)
}

func (e *OSStateError) Unwrap() error { return ErrOSState }

// ConflictError is returned when the remote sync blob changed since the last
// pull. The caller must resolve explicitly; last-writer-wins is never applied.
type ConflictError struct {
	Key       string
	LocalRev  string
	RemoteRev string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict on '%s': remote revision %s, local base %s", e.Key, e.RemoteRev, e.LocalRev)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
