package cli

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/app"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/probe"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
)

var probeCmd = &cobra.Command{
	Use:   "probe [url...]",
	Short: "Check that traffic actually flows through the local proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		host := settingOrDefault(cmd, app.SettingProxyHost, "127.0.0.1")
		port := settingOrDefault(cmd, app.SettingProxyPort, "7897")

		prober := probe.New(probe.Config{
			ProxyAddr: net.JoinHostPort(host, port),
			Timeout:   timeout,
		}, appInstance.Logger)

		handshake, err := prober.Listening(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("proxy endpoint %s: listening (%dms)\n", net.JoinHostPort(host, port), handshake)

		failures := 0
		for _, r := range prober.Run(cmd.Context(), args) {
			if r.Err != nil {
				failures++
				fmt.Printf("✗ %s: %v\n", r.URL, r.Err)
			} else {
				fmt.Printf("✓ %s: %dms\n", r.URL, r.LatencyMS)
			}
		}
		if failures > 0 {
			return fmt.Errorf("%d probe(s) failed", failures)
		}
		return nil
	},
}

func settingOrDefault(cmd *cobra.Command, key, fallback string) string {
	value, err := appInstance.Storage.GetSetting(cmd.Context(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrSettingNotFound) {
			appInstance.Logger.Warn("failed to read setting, using default")
		}
		return fallback
	}
	return value
}

func init() {
	probeCmd.Flags().Duration("timeout", 5*time.Second, "per-request timeout")
}
