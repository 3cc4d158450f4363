package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/querycache/storage/filestore"
)

// NewStoreListCmd creates a Cobra "list" command for displaying store
// entries. The command lists every entry by default and supports an
// `--expired` flag to show only lapsed entries and a `--json` flag for
// machine-readable output.
func NewStoreListCmd() *cobra.Command {
	var (
		dir         string
		expiredOnly bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List store entries",
		Long:  "List all persisted entries with their sizes, ages, and expiry",
		Example: `  # List all entries
  querycache store list

  # List only expired entries
  querycache store list --expired

  # Emit entries as JSON
  querycache store list --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStoreList(cmd, dir, expiredOnly, asJSON)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "store directory (defaults to $QUERYCACHE_DIR, then the user cache dir)")
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "Show only expired entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit entries as JSON")
	return cmd
}

func runStoreList(cmd *cobra.Command, flagDir string, expiredOnly, asJSON bool) error {
	dir, err := resolveStoreDir(flagDir)
	if err != nil {
		return err
	}

	if !storeDirExists(dir) {
		cmd.Printf("Store directory does not exist: %s\n", dir)
		return nil
	}

	store, err := filestore.New(dir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	infos, err := store.List()
	if err != nil {
		return fmt.Errorf("listing store entries: %w", err)
	}

	if expiredOnly {
		kept := infos[:0]
		for _, info := range infos {
			if info.Expired {
				kept = append(kept, info)
			}
		}
		infos = kept
	}

	if len(infos) == 0 {
		cmd.Println("No entries found.")
		return nil
	}

	if asJSON {
		data, marshalErr := json.MarshalIndent(infos, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("encoding entries: %w", marshalErr)
		}
		cmd.Println(string(data))
		return nil
	}

	return displayEntries(cmd, infos)
}

// displayEntries writes the entries to the command's output using a tabular
// layout.
func displayEntries(cmd *cobra.Command, infos []filestore.Info) error {
	const tabPadding = 2
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabPadding, ' ', 0)

	fmt.Fprintln(w, "Key\tSize\tAge\tExpires")
	fmt.Fprintln(w, "---\t----\t---\t-------")

	now := time.Now()
	for _, info := range infos {
		fmt.Fprintf(
			w,
			"%s\t%s\t%s\t%s\n",
			info.Key,
			formatBytes(info.Size),
			FormatDuration(now.Sub(info.CreatedAt)),
			formatExpiry(info, now),
		)
	}
	return w.Flush()
}

// formatExpiry renders the expiry column: "never" for entries without a
// TTL, "expired" for lapsed ones, and the remaining time otherwise.
func formatExpiry(info filestore.Info, now time.Time) string {
	if info.ExpiresAt.IsZero() {
		return "never"
	}
	if info.Expired {
		return "expired"
	}
	return "in " + FormatDuration(info.ExpiresAt.Sub(now))
}
