package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/jcdickinson/ferrisdoc/internal/search"
)

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `mapstructure:"backend"`
}

type SearchConfig struct {
	MinTokenLength int            `mapstructure:"min_token_length"`
	Limit          int            `mapstructure:"limit"`
	Weights        search.Weights `mapstructure:"weights"`
}

type LocalSourceConfig struct {
	Dirs []string `mapstructure:"dirs"`
}

type StdSourceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Toolchain string `mapstructure:"toolchain"`
}

type DocsRsSourceConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"base_url"`
	CratesIOURL       string  `mapstructure:"crates_io_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type SourcesConfig struct {
	Local  LocalSourceConfig  `mapstructure:"local"`
	Std    StdSourceConfig    `mapstructure:"std"`
	DocsRs DocsRsSourceConfig `mapstructure:"docsrs"`
}

type LogConfig struct {
	Level  slog.Level `mapstructure:"level"`
	Format string     `mapstructure:"format"`
}

type Config struct {
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
	Search  SearchConfig  `mapstructure:"search"`
	Sources SourcesConfig `mapstructure:"sources"`
	Log     LogConfig     `mapstructure:"log"`
}

// cacheBase returns the base cache directory for ferrisdoc.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/ferrisdoc as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "ferrisdoc")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "ferrisdoc")
	}
	return filepath.Join(os.TempDir(), "ferrisdoc")
}

// CacheDir is cache.dir, or the XDG cache location when unset.
func (c *Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return cacheBase()
}

// DBPath returns the path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.CacheDir(), "ferrisdoc.db")
}

func (c *Config) SearchOptions() search.Options {
	return search.Options{
		MinTokenLength: c.Search.MinTokenLength,
		Weights:        c.Search.Weights,
	}
}

// Logger builds the process logger, writing text or JSON to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Log.Level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "ferrisdoc"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "ferrisdoc"))
	}

	w := search.DefaultWeights()
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("search.min_token_length", search.DefaultMinTokenLength)
	viper.SetDefault("search.limit", 20)
	viper.SetDefault("search.weights.exact", w.Exact)
	viper.SetDefault("search.weights.name", w.Name)
	viper.SetDefault("search.weights.path", w.Path)
	viper.SetDefault("search.weights.signature", w.Signature)
	viper.SetDefault("search.weights.docs", w.Docs)
	viper.SetDefault("sources.local.dirs", []string{filepath.Join("target", "doc")})
	viper.SetDefault("sources.std.enabled", true)
	viper.SetDefault("sources.std.toolchain", "")
	viper.SetDefault("sources.docsrs.enabled", true)
	viper.SetDefault("sources.docsrs.base_url", "https://docs.rs")
	viper.SetDefault("sources.docsrs.crates_io_url", "https://crates.io")
	viper.SetDefault("sources.docsrs.requests_per_second", 2.0)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetEnvPrefix("FERRISDOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func stringToLevelHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(slog.Level(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(data.(string))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", data, err)
		}
		return level, nil
	}
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}

	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToLevelHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// settings is viper.AllSettings with environment overrides applied to every
// known key; AllSettings alone misses env values for keys only set by default.
func settings() map[string]any {
	out := make(map[string]any)
	for _, key := range viper.AllKeys() {
		m := out
		parts := strings.Split(key, ".")
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = viper.Get(key)
	}
	return out
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"sqlite\", got %q", c.Storage.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	if c.Search.MinTokenLength < 1 {
		return fmt.Errorf("search.min_token_length must be at least 1, got %d", c.Search.MinTokenLength)
	}
	return nil
}
