package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push or pull profiles against the configured sync endpoint",
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload local profiles, failing on remote conflict",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := appInstance.Sync(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.Push(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Pushed profiles")
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download remote profiles and replace the local set",
	RunE: func(cmd *cobra.Command, args []string) error {
		apply, _ := cmd.Flags().GetBool("apply")
		svc, err := appInstance.Sync(cmd.Context())
		if err != nil {
			return err
		}
		result, err := svc.Pull(cmd.Context(), apply)
		if err != nil {
			return err
		}
		if result.Applied {
			fmt.Printf("Pulled %d profiles (revision %s)\n", result.Profiles, result.Rev)
		} else {
			fmt.Printf("Remote has %d profiles (revision %s); rerun with --apply to replace local state\n",
				result.Profiles, result.Rev)
		}
		return nil
	},
}

func init() {
	syncPullCmd.Flags().Bool("apply", false, "replace local profiles with the pulled set")

	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
}
