package mcp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/links"
	"github.com/jcdickinson/ferrisdoc/internal/navigator"
	"github.com/jcdickinson/ferrisdoc/internal/provider"
)

//go:embed instructions.md
var instructions string

// CrateSearcher looks crates up by keyword on a remote registry.
type CrateSearcher interface {
	SearchCrates(ctx context.Context, query string, limit int) ([]provider.CrateInfo, error)
}

type Server struct {
	mcpServer *server.MCPServer
	nav       *navigator.Navigator
	crates    CrateSearcher
	log       *slog.Logger
}

// NewServer exposes nav over MCP. crates may be nil, which leaves out the
// search_crates tool.
func NewServer(nav *navigator.Navigator, crates CrateSearcher, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{nav: nav, crates: crates, log: log}

	mcpServer := server.NewMCPServer(
		"ferrisdoc",
		version,
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func crateListSchema(description string) mcp.ToolOption {
	return mcp.WithArray("crates",
		mcp.Description(description),
		mcp.Items(map[string]interface{}{"type": "string"}),
	)
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("get_item",
			mcp.WithDescription("Read the documentation page of a Rust item: kind, signature, docs with resolved links, members and trait implementations. Accepts an rsdoc:// URI or `crate[@version]::path`. Loads the crate if needed."),
			mcp.WithString("uri",
				mcp.Description("rsdoc://crate/version/path[#section] or crate[@version]::path"),
				mcp.Required(),
			),
		),
		s.handleGetItem,
	)

	mcpServer.AddTool(
		mcp.NewTool("search_docs",
			mcp.WithDescription("Search Rust crate documentation by name, path, signature and doc text. Returns URIs that can be read with get_item or as resources. Use `crates` to restrict the search (crates not loaded yet are fetched); omit it to search every loaded crate."),
			mcp.WithString("query",
				mcp.Description("Search terms"),
				mcp.Required(),
			),
			crateListSchema("Optional list of crates (`name` or `name@version`) to search within"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20)"),
			),
		),
		s.handleSearchDocs,
	)

	mcpServer.AddTool(
		mcp.NewTool("get_links",
			mcp.WithDescription("List the intra-doc links of an item with their resolution status. With `follow`, crates named by deferred links are loaded so those links resolve."),
			mcp.WithString("uri",
				mcp.Description("rsdoc://crate/version/path or crate[@version]::path"),
				mcp.Required(),
			),
			mcp.WithBoolean("follow",
				mcp.Description("Load linked crates before resolving (default false)"),
			),
		),
		s.handleGetLinks,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_crates",
			mcp.WithDescription("List loaded crates and crates available from the local cache and workspace."),
		),
		s.handleListCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("load_crates",
			mcp.WithDescription("Fetch, normalize and index crates ahead of time. Version defaults to \"latest\"."),
			crateListSchema("Crates to load (`name` or `name@version`)"),
		),
		s.handleLoadCrates,
	)

	if s.crates != nil {
		mcpServer.AddTool(
			mcp.NewTool("search_crates",
				mcp.WithDescription("Search crates.io for Rust crates by name or keyword."),
				mcp.WithString("query",
					mcp.Description("Search query (crate name or keyword)"),
					mcp.Required(),
				),
				mcp.WithNumber("limit",
					mcp.Description("Maximum number of results (default 20)"),
				),
			),
			s.handleSearchCrates,
		)
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"rsdoc://{crate}/{version}/{path}",
			"Rust documentation item",
			mcp.WithTemplateDescription("Read a specific Rust documentation item. Search results return these URIs."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func parseCrates(args map[string]any) ([]graph.Identity, error) {
	raw, ok := args["crates"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("crates must be an array of strings")
	}
	ids := make([]graph.Identity, 0, len(list))
	for _, v := range list {
		spec, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("crates must be an array of strings")
		}
		id, err := navigator.ParseCrate(spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) handleGetItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri := req.GetString("uri", "")
	if uri == "" {
		return mcp.NewToolResultError("missing required parameter: uri"), nil
	}
	r, err := navigator.ParseRequest(uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.nav.Get(ctx, r)
	if err != nil {
		return mcp.NewToolResultError(describe(err)), nil
	}
	return mcp.NewToolResultText(page.Markdown), nil
}

// describe renders ambiguity and misses as guidance rather than failures.
func describe(err error) string {
	var amb *navigator.AmbiguousError
	if errors.As(err, &amb) {
		msg := fmt.Sprintf("%q matches several items; pick one:\n", amb.Path)
		for _, c := range amb.Candidates {
			msg += "- " + c + "\n"
		}
		return msg
	}
	var nf *navigator.NotFoundError
	if errors.As(err, &nf) && len(nf.Suggestions) > 0 {
		msg := fmt.Sprintf("no item at %q in %s. Similar items:\n", nf.Path, nf.Crate)
		for _, c := range nf.Suggestions {
			msg += "- " + c + "\n"
		}
		return msg
	}
	return err.Error()
}

func (s *Server) handleSearchDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	crates, err := parseCrates(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates parameter: %v", err)), nil
	}

	results, err := s.nav.Search(ctx, query, crates, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(results)
}

type linkResult struct {
	Text   string `json:"text"`
	Status string `json:"status"`
	URI    string `json:"uri,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleGetLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri := req.GetString("uri", "")
	if uri == "" {
		return mcp.NewToolResultError("missing required parameter: uri"), nil
	}
	r, err := navigator.ParseRequest(uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ls, err := s.nav.Links(ctx, r, req.GetBool("follow", false))
	if err != nil {
		return mcp.NewToolResultError(describe(err)), nil
	}
	return jsonResult(linkResults(ls))
}

func linkResults(ls []links.Link) []linkResult {
	out := make([]linkResult, len(ls))
	for i, l := range ls {
		out[i] = linkResult{Text: l.Ref.Text, Status: l.Status.String(), URI: l.URI(), Reason: l.Reason}
	}
	return out
}

func (s *Server) handleListCrates(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.nav.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing crates failed: %v", err)), nil
	}
	return jsonResult(entries)
}

type loadResult struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Items   int    `json:"items,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleLoadCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crates, err := parseCrates(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates parameter: %v", err)), nil
	}
	if len(crates) == 0 {
		return mcp.NewToolResultError("missing required parameter: crates"), nil
	}

	results := make([]loadResult, len(crates))
	for i, id := range crates {
		results[i] = loadResult{Name: id.Name, Version: id.Version}
		idx, err := s.nav.Index(ctx, id)
		if err != nil {
			s.log.Warn("failed to load crate", "crate", id.String(), "error", err)
			results[i].Error = err.Error()
			continue
		}
		results[i].Version = idx.Identity().Version
		results[i].Items = idx.Len()
	}
	return jsonResult(results)
}

func (s *Server) handleSearchCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	infos, err := s.crates.SearchCrates(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(infos)
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	r, err := navigator.ParseRequest(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}
	page, err := s.nav.Get(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("getting doc: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     page.Markdown,
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}
