package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/ferrisdoc/internal/navigator"
)

var getCmd = &cobra.Command{
	Use:   "get <rsdoc://crate/version/path | crate[@version]::path>",
	Short: "Read a documentation item",
	Example: `  ferrisdoc get rsdoc://serde/latest/serde::Serialize
  ferrisdoc get rsdoc://tokio/1.0.0/tokio::spawn
  ferrisdoc get serde/latest/serde::Serialize#implementors
  ferrisdoc get std::collections::HashMap
  ferrisdoc get 'anyhow@^1::macro@anyhow'`,
	Args: cobra.ExactArgs(1),
	Run:  runGet,
}

func runGet(cmd *cobra.Command, args []string) {
	req, err := navigator.ParseRequest(args[0])
	if err != nil {
		slog.Error("invalid item", "error", err)
		os.Exit(1)
	}

	a := mustOpenApp()
	defer a.Close()

	page, err := a.nav.Get(cmd.Context(), req)
	if err != nil {
		slog.Error("get doc failed", "item", req.String(), "error", err)
		os.Exit(1)
	}

	fmt.Print(page.Markdown)
}
