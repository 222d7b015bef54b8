package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestCacheBase_XDGSet(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")
	got := cacheBase()
	want := filepath.Join("/custom/cache", "ferrisdoc")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCacheBase_HomeDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	got := cacheBase()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	want := filepath.Join(home, ".cache", "ferrisdoc")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCacheBase_TmpFallback(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "")
	got := cacheBase()
	// Should use os.TempDir() when HOME is unset
	if !strings.Contains(got, "ferrisdoc") {
		t.Errorf("expected ferrisdoc in path, got %q", got)
	}
}

func loadIsolated(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadIsolated(t)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("storage.backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Search.MinTokenLength != 2 || cfg.Search.Limit != 20 {
		t.Errorf("unexpected search defaults %+v", cfg.Search)
	}
	if cfg.Search.Weights.Exact != 16 || cfg.Search.Weights.Name != 8 || cfg.Search.Weights.Docs != 1 {
		t.Errorf("unexpected weights %+v", cfg.Search.Weights)
	}
	if cfg.Log.Level != slog.LevelInfo {
		t.Errorf("log.level = %v, want INFO", cfg.Log.Level)
	}
	if !cfg.Sources.DocsRs.Enabled || cfg.Sources.DocsRs.BaseURL != "https://docs.rs" {
		t.Errorf("unexpected docs.rs defaults %+v", cfg.Sources.DocsRs)
	}
	if len(cfg.Sources.Local.Dirs) != 1 || cfg.Sources.Local.Dirs[0] != filepath.Join("target", "doc") {
		t.Errorf("unexpected local dirs %v", cfg.Sources.Local.Dirs)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("FERRISDOC_SEARCH_LIMIT", "5")
	t.Setenv("FERRISDOC_LOG_LEVEL", "debug")
	t.Setenv("FERRISDOC_STORAGE_BACKEND", "sqlite")
	t.Setenv("FERRISDOC_SOURCES_LOCAL_DIRS", "a,b")
	t.Setenv("FERRISDOC_CACHE_DIR", "/srv/cache")

	cfg, err := loadIsolated(t)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.Limit != 5 {
		t.Errorf("search.limit = %d, want 5", cfg.Search.Limit)
	}
	if cfg.Log.Level != slog.LevelDebug {
		t.Errorf("log.level = %v, want DEBUG", cfg.Log.Level)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("storage.backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if len(cfg.Sources.Local.Dirs) != 2 || cfg.Sources.Local.Dirs[1] != "b" {
		t.Errorf("sources.local.dirs = %v, want [a b]", cfg.Sources.Local.Dirs)
	}
	if cfg.DBPath() != filepath.Join("/srv/cache", "ferrisdoc.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}

func TestLoad_File(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "ferrisdoc"), 0755); err != nil {
		t.Fatal(err)
	}
	toml := "[search.weights]\nname = 20\n\n[log]\nformat = \"json\"\n"
	if err := os.WriteFile(filepath.Join(dir, "ferrisdoc", "config.toml"), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.Weights.Name != 20 || cfg.Search.Weights.Path != 4 {
		t.Errorf("unexpected weights %+v", cfg.Search.Weights)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %q, want json", cfg.Log.Format)
	}
	if opts := cfg.SearchOptions(); opts.Weights.Name != 20 || opts.MinTokenLength != 2 {
		t.Errorf("unexpected search options %+v", opts)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"FERRISDOC_STORAGE_BACKEND": "duckdb",
		"FERRISDOC_LOG_LEVEL":       "loud",
		"FERRISDOC_LOG_FORMAT":      "xml",
	}
	for env, value := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			if _, err := loadIsolated(t); err == nil {
				t.Errorf("expected error for %s=%s", env, value)
			}
		})
	}
}
