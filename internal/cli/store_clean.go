package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rshade/querycache/internal/logging"
	"github.com/rshade/querycache/storage/filestore"
)

// NewStoreCleanCmd creates a Cobra "clean" command that removes expired
// entries from the file store. The `--all` flag clears the store entirely.
func NewStoreCleanCmd() *cobra.Command {
	var (
		dir string
		all bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove expired store entries",
		Long:  "Remove expired entries from the persistent file store, or everything with --all",
		Example: `  # Remove expired entries
  querycache store clean

  # Remove every entry
  querycache store clean --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStoreClean(cmd, dir, all)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "store directory (defaults to $QUERYCACHE_DIR, then the user cache dir)")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every entry, not just expired ones")
	return cmd
}

func runStoreClean(cmd *cobra.Command, flagDir string, all bool) error {
	dir, err := resolveStoreDir(flagDir)
	if err != nil {
		return err
	}

	if !storeDirExists(dir) {
		cmd.Printf("Store directory does not exist: %s\n", dir)
		cmd.Println("Nothing to clean.")
		return nil
	}

	store, err := filestore.New(dir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	log := logging.FromContext(cmd.Context())
	if all {
		removed, clearErr := store.Clear()
		if clearErr != nil {
			return fmt.Errorf("clearing store: %w", clearErr)
		}
		log.Debug().Str("operation", "clean").Int("removed", removed).Msg("cleared store")
		cmd.Printf("Removed all %d entries.\n", removed)
		return nil
	}

	removed, cleanErr := store.CleanupExpired()
	if cleanErr != nil {
		return fmt.Errorf("cleaning expired entries: %w", cleanErr)
	}
	log.Debug().Str("operation", "clean").Int("removed", removed).Msg("removed expired entries")
	cmd.Printf("Removed %d expired entries.\n", removed)
	return nil
}
