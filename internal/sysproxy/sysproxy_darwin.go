package sysproxy

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

const networkService = "Wi-Fi"

type darwinManager struct{}

func newPlatformManager() Manager { return &darwinManager{} }

// SystemProxy reads the web proxy state via networksetup.
func (m *darwinManager) SystemProxy(ctx context.Context) (Settings, error) {
	out, err := run(ctx, "networksetup", "-getwebproxy", networkService)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Enabled":
			s.Enabled = value == "Yes"
		case "Server":
			s.Host = value
		case "Port":
			s.Port, _ = strconv.Atoi(value)
		}
	}

	if bypass, err := run(ctx, "networksetup", "-getproxybypassdomains", networkService); err == nil {
		for _, line := range strings.Split(bypass, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "There aren't") {
				s.Bypass = append(s.Bypass, line)
			}
		}
	}
	return s, nil
}

// SetSystemProxy sets or clears the web/secure-web/SOCKS proxies.
func (m *darwinManager) SetSystemProxy(ctx context.Context, s Settings) error {
	if !s.Enabled {
		for _, off := range []string{"-setwebproxystate", "-setsecurewebproxystate", "-setsocksfirewallproxystate"} {
			if _, err := run(ctx, "networksetup", off, networkService, "off"); err != nil {
				return err
			}
		}
		return nil
	}

	port := fmt.Sprint(s.Port)
	commands := [][]string{
		{"networksetup", "-setwebproxy", networkService, s.Host, port},
		{"networksetup", "-setsecurewebproxy", networkService, s.Host, port},
		{"networksetup", "-setsocksfirewallproxy", networkService, s.Host, port},
	}
	if len(s.Bypass) > 0 {
		commands = append(commands, append([]string{"networksetup", "-setproxybypassdomains", networkService}, s.Bypass...))
	}

	for _, args := range commands {
		if _, err := run(ctx, args[0], args[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// Tun reports whether a utun interface created by the core is present.
func (m *darwinManager) Tun(ctx context.Context) (bool, error) {
	out, err := run(ctx, "ifconfig", "-l")
	if err != nil {
		return false, err
	}
	for _, iface := range strings.Fields(out) {
		// The embedded core names its adapter utun225.
		if iface == "utun225" {
			return true, nil
		}
	}
	return false, nil
}

// SetTun toggles the adapter by asking the core-managed launch daemon to
// bring it up or tear it down. Requires root.
func (m *darwinManager) SetTun(ctx context.Context, enabled bool) error {
	if os.Geteuid() != 0 {
		return &pkgerrors.PermissionError{Operation: "changing the TUN adapter"}
	}

	action := "unload"
	if enabled {
		action = "load"
	}
	_, err := run(ctx, "launchctl", action, "-w", "/Library/LaunchDaemons/io.github.clash-verge-xpp.tun.plist")
	return err
}
