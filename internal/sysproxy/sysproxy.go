// Package sysproxy mutates OS-level proxy settings and the virtual network
// adapter. The OS is an external collaborator: every setter is expected to be
// followed by a read-back verification in the controller.
package sysproxy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Settings are the OS system proxy fields.
type Settings struct {
	Enabled bool
	Host    string
	Port    int
	Bypass  []string
}

// Equal reports whether two settings describe the same OS state. Bypass
// order is not significant to the OS, so it is compared as a set.
func (s Settings) Equal(o Settings) bool {
	if s.Enabled != o.Enabled {
		return false
	}
	if !s.Enabled {
		// Disabled is disabled regardless of stale host/port fields.
		return true
	}
	if s.Host != o.Host || s.Port != o.Port || len(s.Bypass) != len(o.Bypass) {
		return false
	}
	set := make(map[string]struct{}, len(s.Bypass))
	for _, b := range s.Bypass {
		set[b] = struct{}{}
	}
	for _, b := range o.Bypass {
		if _, ok := set[b]; !ok {
			return false
		}
	}
	return true
}

func (s Settings) String() string {
	if !s.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Manager is the OS proxy/network capability used by the controller.
type Manager interface {
	// SystemProxy reads the actual system proxy state from the OS.
	SystemProxy(ctx context.Context) (Settings, error)

	// SetSystemProxy applies system proxy settings.
	SetSystemProxy(ctx context.Context, s Settings) error

	// Tun reads whether the virtual network adapter is up.
	Tun(ctx context.Context) (bool, error)

	// SetTun brings the virtual network adapter up or down.
	SetTun(ctx context.Context, enabled bool) error
}

// New returns the Manager for the current OS.
func New() Manager {
	return newPlatformManager()
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run %s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
