package cmd

import (
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio (same as running without a command)",
	Long: `Serve documentation tools over the Model Context Protocol on stdin/stdout.

Tools: get_item, search_docs, get_links, list_crates, load_crates and, when
docs.rs is enabled, search_crates. Items are also readable as resources at
rsdoc://{crate}/{version}/{path}.`,
	Args: cobra.NoArgs,
	Run:  runServe,
}
