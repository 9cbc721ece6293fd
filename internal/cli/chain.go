package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Manage the merge chain applied on top of the current profile",
}

var chainShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merge chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := appInstance.Profiles.Chain(cmd.Context())
		if err != nil {
			return err
		}

		base, err := appInstance.Storage.GetProfile(cmd.Context(), chain.Base)
		if err != nil {
			return err
		}
		fmt.Printf("base: %s\n", base.Name)
		if len(chain.Entries) == 0 {
			fmt.Println("(no chain entries)")
			return nil
		}
		for i, id := range chain.Entries {
			p, err := appInstance.Storage.GetProfile(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("%d. %s (%s)\n", i+1, p.Name, p.Kind)
		}
		return nil
	},
}

var chainSetCmd = &cobra.Command{
	Use:   "set [name...]",
	Short: "Replace the merge chain with the given profiles, in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]string, 0, len(args))
		for _, ref := range args {
			p, err := resolveProfile(cmd.Context(), ref)
			if err != nil {
				return err
			}
			ids = append(ids, p.ID)
		}
		if err := appInstance.Profiles.SetChainEntries(cmd.Context(), ids); err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("Cleared merge chain")
		} else {
			fmt.Printf("Merge chain set (%d entries)\n", len(ids))
		}
		return nil
	},
}

func init() {
	chainCmd.AddCommand(chainShowCmd)
	chainCmd.AddCommand(chainSetCmd)
}
