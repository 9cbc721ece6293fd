package sysproxy

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

const (
	gnomeProxySchema = "org.gnome.system.proxy"
	tunDevice        = "verge-tun"
)

type gnomeManager struct{}

func newPlatformManager() Manager { return &gnomeManager{} }

// SystemProxy reads the GNOME proxy settings (Ubuntu/GNOME desktops).
func (m *gnomeManager) SystemProxy(ctx context.Context) (Settings, error) {
	mode, err := run(ctx, "gsettings", "get", gnomeProxySchema, "mode")
	if err != nil {
		return Settings{}, err
	}
	if unquote(mode) != "manual" {
		return Settings{}, nil
	}

	host, err := run(ctx, "gsettings", "get", gnomeProxySchema+".http", "host")
	if err != nil {
		return Settings{}, err
	}
	portRaw, err := run(ctx, "gsettings", "get", gnomeProxySchema+".http", "port")
	if err != nil {
		return Settings{}, err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return Settings{}, fmt.Errorf("unexpected gsettings port value %q: %w", portRaw, err)
	}

	s := Settings{Enabled: true, Host: unquote(host), Port: port}
	if hosts, err := run(ctx, "gsettings", "get", gnomeProxySchema, "ignore-hosts"); err == nil {
		s.Bypass = parseIgnoreHosts(hosts)
	}
	return s, nil
}

// SetSystemProxy sets or clears the GNOME system proxy.
func (m *gnomeManager) SetSystemProxy(ctx context.Context, s Settings) error {
	if !s.Enabled {
		_, err := run(ctx, "gsettings", "set", gnomeProxySchema, "mode", "none")
		return err
	}

	commands := [][]string{
		{"gsettings", "set", gnomeProxySchema, "mode", "manual"},
		{"gsettings", "set", gnomeProxySchema + ".http", "host", s.Host},
		{"gsettings", "set", gnomeProxySchema + ".http", "port", fmt.Sprint(s.Port)},
		{"gsettings", "set", gnomeProxySchema + ".https", "host", s.Host},
		{"gsettings", "set", gnomeProxySchema + ".https", "port", fmt.Sprint(s.Port)},
		{"gsettings", "set", gnomeProxySchema + ".socks", "host", s.Host},
		{"gsettings", "set", gnomeProxySchema + ".socks", "port", fmt.Sprint(s.Port)},
	}
	if len(s.Bypass) > 0 {
		commands = append(commands, []string{
			"gsettings", "set", gnomeProxySchema, "ignore-hosts", formatIgnoreHosts(s.Bypass),
		})
	}

	for _, args := range commands {
		if _, err := run(ctx, args[0], args[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// Tun reports whether the managed TUN device exists and is up.
func (m *gnomeManager) Tun(ctx context.Context) (bool, error) {
	out, err := run(ctx, "ip", "link", "show", tunDevice)
	if err != nil {
		// "does not exist" is a state, not a failure.
		if strings.Contains(err.Error(), "does not exist") {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(out, "UP"), nil
}

// SetTun creates and raises, or deletes, the managed TUN device. Requires
// root.
func (m *gnomeManager) SetTun(ctx context.Context, enabled bool) error {
	if os.Geteuid() != 0 {
		return &pkgerrors.PermissionError{Operation: "changing the TUN adapter"}
	}

	if !enabled {
		up, err := m.Tun(ctx)
		if err != nil {
			return err
		}
		if !up {
			return nil
		}
		_, err = run(ctx, "ip", "tuntap", "del", "dev", tunDevice, "mode", "tun")
		return err
	}

	if _, err := run(ctx, "ip", "link", "show", tunDevice); err != nil {
		if _, err := run(ctx, "ip", "tuntap", "add", "dev", tunDevice, "mode", "tun"); err != nil {
			return err
		}
	}
	_, err := run(ctx, "ip", "link", "set", tunDevice, "up")
	return err
}

func unquote(s string) string {
	return strings.Trim(s, "'")
}

// parseIgnoreHosts parses gsettings list output like "['localhost', '127.0.0.0/8']".
func parseIgnoreHosts(raw string) []string {
	raw = strings.Trim(raw, "[]")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := unquote(strings.TrimSpace(p)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func formatIgnoreHosts(hosts []string) string {
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = "'" + h + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
