package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/navigator"
)

func parseCrateArgs(args []string) []graph.Identity {
	ids := make([]graph.Identity, 0, len(args))
	for _, arg := range args {
		id, err := navigator.ParseCrate(arg)
		if err != nil {
			slog.Error("invalid crate", "error", err)
			os.Exit(1)
		}
		ids = append(ids, id)
	}
	return ids
}

var indexCmd = &cobra.Command{
	Use:     "index [crate[@version] ...]",
	Aliases: []string{"add"},
	Short:   "Load and index crate documentation",
	Long:    `Fetch, normalize and index Rust crate documentation so later reads and searches are local. Version defaults to "latest".`,
	Example: `  ferrisdoc index serde
  ferrisdoc index serde@1.0.200 tokio@^1
  ferrisdoc index std core alloc`,
	Args: cobra.MinimumNArgs(1),
	Run:  runIndex,
}

func runIndex(cmd *cobra.Command, args []string) {
	ids := parseCrateArgs(args)
	a := mustOpenApp()
	defer a.Close()

	failed := false
	for _, id := range ids {
		idx, err := a.nav.Index(cmd.Context(), id)
		if err != nil {
			fmt.Printf("  %s: error: %v\n", id, err)
			failed = true
			continue
		}
		fmt.Printf("  %s: %d items indexed (%d terms)\n", idx.Identity(), idx.Len(), idx.Tokens())
	}
	if failed {
		os.Exit(1)
	}
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search crate documentation",
	Example: `  ferrisdoc search --crate serde_json "from str"
  ferrisdoc search --crate serde --crate serde_json Deserializer
  ferrisdoc search --limit 5 spawn`,
	Args: cobra.ExactArgs(1),
	Run:  runSearch,
}

var (
	searchCrates []string
	searchLimit  int
	searchJSON   bool
)

func init() {
	searchCmd.Flags().StringSliceVar(&searchCrates, "crate", nil, "search within these crates, loading them if needed (repeatable)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results (default search.limit)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) {
	scope := parseCrateArgs(searchCrates)
	a := mustOpenApp()
	defer a.Close()

	results, err := a.nav.Search(cmd.Context(), args[0], scope, searchLimit)
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}

	if searchJSON {
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
		return
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return
	}
	for i, r := range results {
		fmt.Printf("%d. [%d] %s (%s) %s@%s\n", i+1, r.Score, r.Path, r.Kind, r.Crate, r.Version)
		if r.Summary != "" {
			fmt.Printf("   %s\n", r.Summary)
		}
		fmt.Printf("   %s\n", r.URI)
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show cached, local and loaded crates",
	Args:  cobra.NoArgs,
	Run:   runList,
}

var listJSON bool

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}

func runList(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	entries, err := a.nav.List(cmd.Context())
	if err != nil {
		slog.Error("list failed", "error", err)
		os.Exit(1)
	}

	if listJSON {
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(out))
		return
	}
	if len(entries) == 0 {
		fmt.Println("no crates available")
		return
	}
	for _, e := range entries {
		state := "available"
		switch {
		case e.Indexed:
			state = "indexed"
		case e.Loaded:
			state = "loaded"
		}
		fmt.Printf("  %s@%s [%s]\n", e.Name, e.Version, state)
	}
}

var linksCmd = &cobra.Command{
	Use:   "links <item>",
	Short: "Show how the intra-doc links of an item resolve",
	Example: `  ferrisdoc links serde_json::from_str
  ferrisdoc links --follow rsdoc://axum/0.7.5/Router`,
	Args: cobra.ExactArgs(1),
	Run:  runLinks,
}

var linksFollow bool

func init() {
	linksCmd.Flags().BoolVar(&linksFollow, "follow", false, "load linked crates so deferred links resolve")
}

func runLinks(cmd *cobra.Command, args []string) {
	req, err := navigator.ParseRequest(args[0])
	if err != nil {
		slog.Error("invalid item", "error", err)
		os.Exit(1)
	}
	a := mustOpenApp()
	defer a.Close()

	ls, err := a.nav.Links(cmd.Context(), req, linksFollow)
	if err != nil {
		slog.Error("resolving links failed", "item", req.String(), "error", err)
		os.Exit(1)
	}
	if len(ls) == 0 {
		fmt.Println("no links")
		return
	}
	for _, l := range ls {
		target := l.URI()
		if target == "" {
			target = l.Reason
		}
		fmt.Printf("  [%s] %s -> %s\n", l.Status, l.Ref.Text, target)
	}
}
