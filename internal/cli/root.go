package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vergectl",
	Short: "vergectl - profile merge & system proxy guard for an external Clash core",
	Long: `vergectl - profile merge & system proxy guard for an external Clash core

  Merge remote/local profiles with override documents and scripts into one
  effective configuration, activate it against the running core, and keep
  system proxy / TUN state guarded against external drift.

  Quick start:
    vergectl profile add work --url "https://example.com/sub.yaml"
    vergectl profile use work
    vergectl activate
    vergectl sysproxy on
    vergectl guard on`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		var err error
		appInstance, err = app.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(sysproxyCmd)
	rootCmd.AddCommand(tunCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(settingCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vergectl %s\n", version)
	},
}
