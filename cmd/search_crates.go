package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

var searchCratesCmd = &cobra.Command{
	Use:   "search-crates <query>",
	Short: "Search crates.io for Rust crates",
	Example: `  ferrisdoc search-crates serde
  ferrisdoc search-crates "async http client"
  ferrisdoc search-crates --limit 5 tokio`,
	Args: cobra.ExactArgs(1),
	Run:  runSearchCrates,
}

var searchCratesLimit int

func init() {
	searchCratesCmd.Flags().IntVar(&searchCratesLimit, "limit", 20, "max results")
}

func runSearchCrates(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()
	if a.docsrs == nil {
		slog.Error("crates.io search needs the docs.rs source (disabled or --offline)")
		os.Exit(1)
	}

	results, err := a.docsrs.SearchCrates(cmd.Context(), args[0], searchCratesLimit)
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return
	}

	cached, err := a.files.Crates(cmd.Context())
	if err != nil {
		slog.Warn("failed to list cached crates", "error", err)
	}

	for _, r := range results {
		var versions []string
		for _, id := range cached {
			if graph.SameCrateName(id.Name, r.Name) {
				versions = append(versions, id.Version)
			}
		}
		indexed := ""
		if len(versions) > 0 {
			indexed = fmt.Sprintf(" [cached: %v]", versions)
		}
		fmt.Printf("  %-30s %s  (%d downloads)%s\n", r.Name, r.MaxVersion, r.Downloads, indexed)
		if r.Description != "" {
			fmt.Printf("    %s\n", r.Description)
		}
	}
}
