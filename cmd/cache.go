package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache [crate@version ...]",
	Short: "Delete cached rustdoc JSON and search indexes",
	Long:  `Without arguments the whole cache is cleared. With arguments only those crate versions are removed.`,
	Run:   runClearCache,
}

func runClearCache(cmd *cobra.Command, args []string) {
	ids := parseCrateArgs(args)
	a := mustOpenApp()
	defer a.Close()

	if len(ids) == 0 {
		if err := a.files.Clear(); err != nil {
			slog.Error("failed to clear cache", "error", err)
			os.Exit(1)
		}
		if a.db != nil {
			if err := a.db.Clear(cmd.Context()); err != nil {
				slog.Error("failed to clear database", "error", err)
				os.Exit(1)
			}
		}
		fmt.Printf("cache cleared (%s)\n", a.files.Dir())
		return
	}

	for _, id := range ids {
		if id.Version == "" {
			slog.Error("clear-cache needs an exact version", "crate", id.Name)
			os.Exit(1)
		}
		if err := a.files.Remove(id); err != nil {
			slog.Error("failed to remove cached crate", "crate", id.String(), "error", err)
			os.Exit(1)
		}
		if a.db != nil {
			if err := a.db.DeleteCrate(cmd.Context(), id); err != nil {
				slog.Error("failed to remove crate from database", "crate", id.String(), "error", err)
				os.Exit(1)
			}
		}
		fmt.Printf("  %s: removed\n", id)
	}
}
