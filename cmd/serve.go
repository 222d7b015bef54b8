package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jcdickinson/ferrisdoc/internal/config"
	"github.com/jcdickinson/ferrisdoc/internal/db"
	"github.com/jcdickinson/ferrisdoc/internal/mcp"
	"github.com/jcdickinson/ferrisdoc/internal/navigator"
	"github.com/jcdickinson/ferrisdoc/internal/provider"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
	"github.com/jcdickinson/ferrisdoc/internal/store"
)

const version = "0.1.0"

var offline bool

var rootCmd = &cobra.Command{
	Use:   "ferrisdoc",
	Short: "Offline Rust documentation browser and search MCP server",
	Run:   runServe,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never contact docs.rs; serve cached and local exports only")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(searchCratesCmd)
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	files  *store.FileStore
	db     *db.DB
	docsrs *provider.DocsRs
	nav    *navigator.Navigator
}

// openApp loads configuration and wires the sources, storage backend and
// registry. Logging goes to stderr so stdout stays clean for output and the
// MCP transport.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	a := &app{cfg: cfg, log: log, files: store.NewFileStore(cfg.CacheDir())}

	var index registry.IndexStore = a.files
	if cfg.Storage.Backend == "sqlite" {
		if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		database, err := db.New(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.db = database
		index = database
	}

	local := provider.NewDir(cfg.Sources.Local.Dirs...)
	chain := provider.Chain{local}
	if cfg.Sources.Std.Enabled {
		chain = append(chain, provider.NewStd(cfg.Sources.Std.Toolchain))
	}
	var remote registry.Provider
	if cfg.Sources.DocsRs.Enabled && !offline {
		a.docsrs = provider.NewDocsRs(
			provider.WithBaseURL(cfg.Sources.DocsRs.BaseURL),
			provider.WithCratesIOURL(cfg.Sources.DocsRs.CratesIOURL),
			provider.WithRateLimit(cfg.Sources.DocsRs.RequestsPerSecond),
			provider.WithLogger(log),
		)
		remote = a.docsrs
	}
	chain = append(chain, provider.NewCached(remote, a.files, log))

	reg := registry.New(
		registry.WithLogger(log),
		registry.WithIndexStore(index),
		registry.WithSearchOptions(cfg.SearchOptions()),
	)
	opts := []navigator.Option{
		navigator.WithLogger(log),
		navigator.WithDefaultLimit(cfg.Search.Limit),
		navigator.WithCatalog(local),
		navigator.WithCatalog(a.files),
	}
	if a.db != nil {
		opts = append(opts, navigator.WithCatalog(a.db))
	}
	a.nav = navigator.New(reg, chain, opts...)

	log.Debug("configured", "cache", cfg.CacheDir(), "storage", cfg.Storage.Backend, "sources", len(chain), "offline", offline)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
}

func mustOpenApp() *app {
	a, err := openApp()
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	return a
}

func runServe(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	var crates mcp.CrateSearcher
	if a.docsrs != nil {
		crates = a.docsrs
	}
	server := mcp.NewServer(a.nav, crates, version, a.log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	if err := waitForSignal(cmd.Context(), errCh); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

func waitForSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", context.Cause(ctx))
		return nil
	case err := <-errCh:
		return err
	}
}
