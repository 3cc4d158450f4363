package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rshade/querycache/storage/filestore"
)

// NewStoreStatusCmd creates a Cobra "status" command summarizing the file
// store: entry counts, expired counts, and total size on disk.
func NewStoreStatusCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the file store",
		Long:  "Show entry counts and total size for the persistent file store",
		Example: `  # Summarize the default store
  querycache store status

  # Summarize a specific directory
  querycache store status --dir /var/cache/querycache`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStoreStatus(cmd, dir)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "store directory (defaults to $QUERYCACHE_DIR, then the user cache dir)")
	return cmd
}

func runStoreStatus(cmd *cobra.Command, flagDir string) error {
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

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("reading store stats: %w", err)
	}

	const tabPadding = 2
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabPadding, ' ', 0)
	fmt.Fprintf(w, "Directory:\t%s\n", store.Directory())
	fmt.Fprintf(w, "Entries:\t%d\n", stats.Entries)
	fmt.Fprintf(w, "Expired:\t%d\n", stats.Expired)
	fmt.Fprintf(w, "Total size:\t%s\n", formatBytes(stats.TotalBytes))
	return w.Flush()
}
