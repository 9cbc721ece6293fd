package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/controller"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/profile"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the current profile chain and print the effective config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appInstance.MergeCurrent(cmd.Context())
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		if output != "" {
			if err := os.WriteFile(output, cfg.Document, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Printf("Wrote effective config to %s (hash %s)\n", output, cfg.Hash[:12])
			return nil
		}
		os.Stdout.Write(cfg.Document)
		return nil
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Merge the current chain and push it to the running core",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appInstance.Activate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Activated config %s", cfg.Hash[:12])
		if !cfg.Stable {
			fmt.Print(" (script output varies between runs)")
		}
		fmt.Println()
		return nil
	},
}

var sysproxyCmd = &cobra.Command{
	Use:       "sysproxy <on|off>",
	Short:     "Enable or disable the system proxy",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return setFlag(cmd, controller.FlagSystemProxy, args[0])
	},
}

var tunCmd = &cobra.Command{
	Use:       "tun <on|off>",
	Short:     "Enable or disable TUN mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return setFlag(cmd, controller.FlagTun, args[0])
	},
}

func setFlag(cmd *cobra.Command, flag controller.Flag, arg string) error {
	enabled, err := parseOnOff(arg)
	if err != nil {
		return err
	}
	ctrl, err := appInstance.Controller()
	if err != nil {
		return err
	}

	if flag == controller.FlagSystemProxy {
		err = ctrl.SetSystemProxy(cmd.Context(), enabled)
	} else {
		err = ctrl.SetTun(cmd.Context(), enabled)
	}
	if err != nil {
		return err
	}

	word := "disabled"
	if enabled {
		word = "enabled"
	}
	fmt.Printf("%s %s\n", flag, word)
	return nil
}

var guardCmd = &cobra.Command{
	Use:       "guard <on|off|run>",
	Short:     "Control the proxy state guard",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "run"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := appInstance.Controller()
		if err != nil {
			return err
		}

		if args[0] == "run" {
			loop, err := appInstance.Guard()
			if err != nil {
				return err
			}
			ctrl.SetGuard(true)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := loop.Start(ctx); err != nil {
				return err
			}

			refresher, err := profile.NewScheduler(appInstance.Profiles, appInstance.Logger)
			if err != nil {
				return err
			}
			if err := refresher.Start(ctx); err != nil {
				return err
			}
			defer refresher.Stop()

			fmt.Println("Guard running, press Ctrl+C to stop")
			<-ctx.Done()
			return loop.Stop()
		}

		enabled, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		ctrl.SetGuard(enabled)
		if enabled {
			fmt.Println("Guard enabled")
		} else {
			fmt.Println("Guard disabled")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy state and the active config",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := appInstance.Controller()
		if err != nil {
			return err
		}
		state := ctrl.State()

		fmt.Printf("system proxy: %s\n", state.SystemProxy)
		fmt.Printf("tun:          %s\n", state.Tun)
		fmt.Printf("guard:        %v\n", state.Guard)
		if state.LastAppliedConfigHash != "" {
			fmt.Printf("config:       %s\n", state.LastAppliedConfigHash[:12])
		} else {
			fmt.Println("config:       (none activated)")
		}
		if !state.LastGuardCheckAt.IsZero() {
			fmt.Printf("last guard check: %s (%s)\n",
				state.LastGuardCheckAt.Format("15:04:05"), state.LastGuardResult)
		}

		if ver, err := appInstance.Core.Version(cmd.Context()); err == nil {
			fmt.Printf("core:         %s\n", ver)
		} else {
			fmt.Println("core:         unreachable")
		}
		return nil
	},
}

func parseOnOff(arg string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected 'on' or 'off', got '%s'", arg)
	}
}

func init() {
	mergeCmd.Flags().StringP("output", "o", "", "write the effective config to a file instead of stdout")
}
