package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jcdickinson/ferrisdoc/internal/docs"
	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
)

const (
	DefaultDocsRsURL   = "https://docs.rs"
	DefaultCratesIOURL = "https://crates.io"

	userAgent       = "ferrisdoc/0.1.0"
	versionCacheTTL = 10 * time.Minute
	sourceDocsRs    = "docs.rs"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type versionCacheEntry struct {
	version  string // resolved real version; empty for 404s
	notFound bool
	expiry   time.Time
}

// DocsRs downloads rustdoc JSON from docs.rs and searches crates.io.
type DocsRs struct {
	baseURL   string
	cratesURL string
	client    *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger

	group singleflight.Group

	versionCacheMu sync.RWMutex
	versionCache   map[string]versionCacheEntry
}

type DocsRsOption func(*DocsRs)

func WithBaseURL(u string) DocsRsOption {
	return func(d *DocsRs) { d.baseURL = strings.TrimRight(u, "/") }
}

func WithCratesIOURL(u string) DocsRsOption {
	return func(d *DocsRs) { d.cratesURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) DocsRsOption {
	return func(d *DocsRs) { d.client = c }
}

// WithRateLimit throttles requests to rps per second, without bursting. Zero
// or less disables throttling.
func WithRateLimit(rps float64) DocsRsOption {
	return func(d *DocsRs) {
		if rps <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithLogger(log *slog.Logger) DocsRsOption {
	return func(d *DocsRs) { d.log = log }
}

func NewDocsRs(opts ...DocsRsOption) *DocsRs {
	d := &DocsRs{
		baseURL:      DefaultDocsRsURL,
		cratesURL:    DefaultCratesIOURL,
		client:       &http.Client{Timeout: 60 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(2), 1),
		log:          slog.Default(),
		versionCache: make(map[string]versionCacheEntry),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Fetch downloads and decompresses the rustdoc JSON for id. An empty version
// means "latest", which docs.rs resolves via redirect.
func (d *DocsRs) Fetch(ctx context.Context, id graph.Identity) (registry.Export, error) {
	version := id.Version
	if version == "" {
		version = "latest"
	}
	if version == graph.WorkspaceVersion {
		return registry.Export{}, acquisition(sourceDocsRs, NotFound, id, errors.New("workspace crates are not published"))
	}

	name := graph.NormalizeName(id.Name)
	if version == "latest" {
		if entry, ok := d.cachedVersion(name); ok {
			if entry.notFound {
				return registry.Export{}, acquisition(sourceDocsRs, NotFound, id, errors.New("not on docs.rs (cached)"))
			}
			version = entry.version
		}
	}

	// Singleflight: dedup concurrent fetches for the same crate@version
	v, err, _ := d.group.Do(name+"@"+version, func() (any, error) {
		return d.fetch(ctx, id, version)
	})
	if err != nil {
		return registry.Export{}, err
	}
	return v.(registry.Export), nil
}

func (d *DocsRs) fetch(ctx context.Context, id graph.Identity, version string) (registry.Export, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return registry.Export{}, err
	}

	u := fmt.Sprintf("%s/crate/%s/%s/json", d.baseURL, url.PathEscape(id.Name), url.PathEscape(version))
	body, status, err := d.get(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return registry.Export{}, ctx.Err()
		}
		return registry.Export{}, acquisition(sourceDocsRs, NetworkFailure, id, err)
	}
	switch {
	case status == http.StatusNotFound:
		if version == "latest" {
			d.setCachedVersion(graph.NormalizeName(id.Name), "", true)
		}
		return registry.Export{}, acquisition(sourceDocsRs, NotFound, id, fmt.Errorf("docs.rs has no rustdoc JSON for %s/%s", id.Name, version))
	case status != http.StatusOK:
		if len(body) > 1024 {
			body = body[:1024]
		}
		return registry.Export{}, acquisition(sourceDocsRs, NetworkFailure, id, fmt.Errorf("docs.rs returned %d for %s/%s: %s", status, id.Name, version, body))
	}

	data, err := decodeBody(body)
	if err != nil {
		return registry.Export{}, acquisition(sourceDocsRs, RemoteFormatUnsupported, id, err)
	}
	h, err := docs.PeekHeader(data)
	if err != nil {
		return registry.Export{}, acquisition(sourceDocsRs, RemoteFormatUnsupported, id, err)
	}
	if !docs.IsSupported(h.FormatVersion) {
		return registry.Export{}, acquisition(sourceDocsRs, RemoteFormatUnsupported, id, &docs.UnsupportedRevisionError{Revision: h.FormatVersion})
	}
	if version == "latest" && h.CrateVersion != "" {
		d.setCachedVersion(graph.NormalizeName(id.Name), h.CrateVersion, false)
	}

	d.log.Info("fetched rustdoc JSON", "crate", id.Name, "version", version, "revision", h.FormatVersion, "bytes", len(data))
	return registry.Export{Data: data, Revision: h.FormatVersion}, nil
}

func (d *DocsRs) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading %s: %w", u, err)
	}
	return body, resp.StatusCode, nil
}

// decodeBody undoes the zstd compression docs.rs applies to rustdoc JSON.
// Uncompressed bodies pass through.
func decodeBody(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, zstdMagic) {
		return body, nil
	}
	decoder, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing rustdoc JSON: %w", err)
	}
	return data, nil
}

func (d *DocsRs) cachedVersion(name string) (versionCacheEntry, bool) {
	d.versionCacheMu.RLock()
	defer d.versionCacheMu.RUnlock()
	entry, ok := d.versionCache[name]
	if !ok || time.Now().After(entry.expiry) {
		return versionCacheEntry{}, false
	}
	return entry, true
}

func (d *DocsRs) setCachedVersion(name, version string, notFound bool) {
	d.versionCacheMu.Lock()
	defer d.versionCacheMu.Unlock()
	d.versionCache[name] = versionCacheEntry{
		version:  version,
		notFound: notFound,
		expiry:   time.Now().Add(versionCacheTTL),
	}
}

type CrateInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxVersion  string `json:"max_version"`
	Downloads   int    `json:"downloads"`
}

// SearchCrates searches crates.io for crates matching the query.
func (d *DocsRs) SearchCrates(ctx context.Context, query string, limit int) ([]CrateInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/v1/crates?q=%s&per_page=%s",
		d.cratesURL, url.QueryEscape(query), strconv.Itoa(limit))
	body, status, err := d.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("searching crates.io: %w", err)
	}
	if status != http.StatusOK {
		if len(body) > 1024 {
			body = body[:1024]
		}
		return nil, fmt.Errorf("crates.io returned %d: %s", status, body)
	}

	var payload struct {
		Crates []CrateInfo `json:"crates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding crates.io response: %w", err)
	}
	return payload.Crates, nil
}
