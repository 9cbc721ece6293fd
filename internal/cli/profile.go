package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/convert"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/profile"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage configuration profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Import a profile (remote URL, local file, merge document, or script)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		links, _ := cmd.Flags().GetString("links")
		kindFlag, _ := cmd.Flags().GetString("kind")
		interval, _ := cmd.Flags().GetInt("interval")

		opts := profile.AddOptions{
			Name:           args[0],
			URL:            url,
			UpdateInterval: interval,
		}

		switch {
		case url != "":
			opts.Kind = models.KindRemote
		case links != "":
			payload, err := os.ReadFile(links)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", links, err)
			}
			proxies, err := convert.NewRegistry().Links(string(payload))
			if err != nil {
				return err
			}
			content, err := yaml.Marshal(convert.Document(proxies))
			if err != nil {
				return fmt.Errorf("failed to encode converted proxies: %w", err)
			}
			opts.Content = string(content)
			opts.Kind = models.KindMerge
			fmt.Printf("Converted %d share links\n", len(proxies))
		case file != "":
			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			opts.Content = string(content)
			opts.Kind = models.KindLocal
		default:
			return fmt.Errorf("one of --url, --file, or --links is required")
		}
		if kindFlag != "" {
			opts.Kind = models.ProfileKind(kindFlag)
		}

		p, err := appInstance.Profiles.Add(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Printf("Added %s profile '%s' (%s)\n", p.Kind, p.Name, p.ID)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := appInstance.Profiles.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tCURRENT\tLAST FETCHED\tID")
		for _, p := range profiles {
			current := ""
			if p.Current {
				current = "*"
			}
			fetched := "-"
			if p.LastFetched != nil {
				fetched = p.LastFetched.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Kind, current, fetched, p.ID)
		}
		return w.Flush()
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		p, err := resolveProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := appInstance.Profiles.Remove(cmd.Context(), p.ID, force); err != nil {
			return err
		}
		fmt.Printf("Removed profile '%s'\n", p.Name)
		return nil
	},
}

var profileRefreshCmd = &cobra.Command{
	Use:   "refresh [name]",
	Short: "Re-fetch a remote profile (all due remote profiles when no name given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			all, _ := cmd.Flags().GetBool("all")
			results, err := appInstance.Profiles.RefreshAll(cmd.Context(), !all)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("✗ %s: %v\n", r.Name, r.Err)
				} else {
					fmt.Printf("✓ %s\n", r.Name)
				}
			}
			return nil
		}

		p, err := resolveProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		refreshed, err := appInstance.Profiles.Refresh(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Refreshed '%s' (content hash %s)\n", refreshed.Name, refreshed.ContentHash[:12])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select a profile as the merge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := appInstance.Profiles.SetCurrent(cmd.Context(), p.ID); err != nil {
			return err
		}
		fmt.Printf("Now using '%s' as merge base\n", p.Name)
		return nil
	},
}

// resolveProfile accepts a profile name or ID.
func resolveProfile(ctx context.Context, ref string) (*models.Profile, error) {
	p, err := appInstance.Storage.GetProfileByName(ctx, ref)
	if err == nil {
		return p, nil
	}
	if err != storage.ErrProfileNotFound {
		return nil, err
	}
	p, err = appInstance.Storage.GetProfile(ctx, ref)
	if err == storage.ErrProfileNotFound {
		return nil, fmt.Errorf("no profile named '%s'", ref)
	}
	return p, err
}

func init() {
	profileAddCmd.Flags().String("url", "", "subscription URL for a remote profile")
	profileAddCmd.Flags().String("file", "", "path to a local document or script")
	profileAddCmd.Flags().String("links", "", "path to a file of proxy share links to convert")
	profileAddCmd.Flags().String("kind", "", "override profile kind ("+strings.Join([]string{
		string(models.KindRemote), string(models.KindLocal), string(models.KindMerge), string(models.KindScript),
	}, "|")+")")
	profileAddCmd.Flags().Int("interval", 0, "auto-refresh interval in minutes (0 = manual)")

	profileRemoveCmd.Flags().BoolP("force", "f", false, "prune merge chain references")
	profileRefreshCmd.Flags().Bool("all", false, "refresh every remote profile, not only due ones")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileRefreshCmd)
	profileCmd.AddCommand(profileUseCmd)
}
