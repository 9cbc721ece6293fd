package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
)

var settingCmd = &cobra.Command{
	Use:   "setting",
	Short: "Read and write application settings",
}

var settingGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a setting (all settings when no key given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			value, err := appInstance.Storage.GetSetting(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrSettingNotFound) {
				return fmt.Errorf("setting '%s' is not set", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		}

		settings, err := appInstance.Storage.GetAllSettings(cmd.Context())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, settings[k])
		}
		return w.Flush()
	},
}

var settingSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Storage.SetSetting(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", args[0])
		return nil
	},
}

func init() {
	settingCmd.AddCommand(settingGetCmd)
	settingCmd.AddCommand(settingSetCmd)
}
