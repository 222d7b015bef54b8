package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcdickinson/ferrisdoc/internal/docs"
	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
	"github.com/jcdickinson/ferrisdoc/internal/store"
)

func exportJSON(rev int, version string) []byte {
	return fmt.Appendf(nil, `{"format_version":%d,"crate_version":%q,"root":0,"index":{},"paths":{},"external_crates":{}}`, rev, version)
}

type docsRsServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newDocsRsServer(t *testing.T, routes map[string]func(w http.ResponseWriter)) *docsRsServer {
	t.Helper()
	s := &docsRsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Path)
		s.mu.Unlock()
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		if h, ok := routes[r.URL.Path]; ok {
			h(w)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *docsRsServer) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func compressed(t *testing.T, data []byte) func(w http.ResponseWriter) {
	t.Helper()
	body, err := store.Compress(data)
	require.NoError(t, err)
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/zstd")
		w.Write(body)
	}
}

func TestDocsRs_Fetch(t *testing.T) {
	t.Parallel()
	data := exportJSON(57, "1.0.0")
	srv := newDocsRsServer(t, map[string]func(http.ResponseWriter){
		"/crate/demo/1.0.0/json": compressed(t, data),
	})
	d := NewDocsRs(WithBaseURL(srv.URL), WithRateLimit(0))

	exp, err := d.Fetch(context.Background(), graph.Identity{Name: "demo", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, 57, exp.Revision)
	assert.Equal(t, data, exp.Data)
}

func TestDocsRs_FetchUncompressed(t *testing.T) {
	t.Parallel()
	data := exportJSON(56, "0.2.0")
	srv := newDocsRsServer(t, map[string]func(http.ResponseWriter){
		"/crate/demo/0.2.0/json": func(w http.ResponseWriter) { w.Write(data) },
	})
	d := NewDocsRs(WithBaseURL(srv.URL), WithRateLimit(0))

	exp, err := d.Fetch(context.Background(), graph.Identity{Name: "demo", Version: "0.2.0"})
	require.NoError(t, err)
	assert.Equal(t, 56, exp.Revision)
}

func TestDocsRs_LatestVersionCache(t *testing.T) {
	t.Parallel()
	srv := newDocsRsServer(t, map[string]func(http.ResponseWriter){
		"/crate/demo/latest/json": compressed(t, exportJSON(57, "1.4.0")),
		"/crate/demo/1.4.0/json":  compressed(t, exportJSON(57, "1.4.0")),
	})
	d := NewDocsRs(WithBaseURL(srv.URL), WithRateLimit(0))

	_, err := d.Fetch(context.Background(), graph.Identity{Name: "demo"})
	require.NoError(t, err)
	_, err = d.Fetch(context.Background(), graph.Identity{Name: "demo", Version: "latest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/crate/demo/latest/json", "/crate/demo/1.4.0/json"}, srv.paths())
}

func TestDocsRs_Errors(t *testing.T) {
	t.Parallel()
	srv := newDocsRsServer(t, map[string]func(http.ResponseWriter){
		"/crate/broken/1.0.0/json": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("oops"))
		},
		"/crate/ancient/1.0.0/json": compressed(t, exportJSON(40, "1.0.0")),
		"/crate/garbage/1.0.0/json": func(w http.ResponseWriter) { w.Write([]byte("<html>")) },
	})
	d := NewDocsRs(WithBaseURL(srv.URL), WithRateLimit(0))
	ctx := context.Background()

	tests := []struct {
		id   graph.Identity
		kind Kind
	}{
		{graph.Identity{Name: "missing", Version: "1.0.0"}, NotFound},
		{graph.Identity{Name: "broken", Version: "1.0.0"}, NetworkFailure},
		{graph.Identity{Name: "ancient", Version: "1.0.0"}, RemoteFormatUnsupported},
		{graph.Identity{Name: "garbage", Version: "1.0.0"}, RemoteFormatUnsupported},
		{graph.Identity{Name: "app", Version: graph.WorkspaceVersion}, NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id.Name, func(t *testing.T) {
			_, err := d.Fetch(ctx, tt.id)
			require.Error(t, err)
			var ae *AcquisitionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.kind, ae.Kind, err.Error())
			assert.Equal(t, tt.id, ae.Crate)
		})
	}

	_, err := d.Fetch(ctx, graph.Identity{Name: "ancient", Version: "1.0.0"})
	assert.ErrorIs(t, err, docs.ErrUnsupportedRevision)
}

func TestDocsRs_NotFoundLatestIsCached(t *testing.T) {
	t.Parallel()
	srv := newDocsRsServer(t, nil)
	d := NewDocsRs(WithBaseURL(srv.URL), WithRateLimit(0))

	for range 2 {
		_, err := d.Fetch(context.Background(), graph.Identity{Name: "nope"})
		assert.True(t, IsKind(err, NotFound))
	}
	assert.Len(t, srv.paths(), 1)
}

func TestDocsRs_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	d := NewDocsRs(WithBaseURL(srv.URL), WithRateLimit(0))

	_, err := d.Fetch(context.Background(), graph.Identity{Name: "demo", Version: "1.0.0"})
	assert.True(t, IsKind(err, NetworkFailure), "got %v", err)
}

func TestDocsRs_SearchCrates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/crates", r.URL.Path)
		assert.Equal(t, "serde", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		w.Write([]byte(`{"crates":[
			{"name":"serde","description":"A serialization framework","max_version":"1.0.210","downloads":500},
			{"name":"serde_json","description":"JSON support","max_version":"1.0.128","downloads":400}
		]}`))
	}))
	defer srv.Close()

	d := NewDocsRs(WithCratesIOURL(srv.URL), WithHTTPClient(srv.Client()), WithRateLimit(0))
	got, err := d.SearchCrates(context.Background(), "serde", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, CrateInfo{Name: "serde", Description: "A serialization framework", MaxVersion: "1.0.210", Downloads: 500}, got[0])
}

func TestDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "my_app.json"), exportJSON(57, "0.1.0"), 0644))
	zst, err := store.Compress(exportJSON(56, "0.3.0"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.json.zst"), zst, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search-index.js"), []byte("x"), 0644))

	d := NewDir(filepath.Join(dir, "missing"), dir)
	ctx := context.Background()

	exp, err := d.Fetch(ctx, graph.Identity{Name: "my-app"})
	require.NoError(t, err)
	assert.Equal(t, 57, exp.Revision)
	assert.Equal(t, graph.WorkspaceVersion, exp.Version)

	exp, err = d.Fetch(ctx, graph.Identity{Name: "helper", Version: graph.WorkspaceVersion})
	require.NoError(t, err)
	assert.Equal(t, 56, exp.Revision)

	_, err = d.Fetch(ctx, graph.Identity{Name: "my_app", Version: "0.1.0"})
	assert.True(t, IsKind(err, NotFound))
	_, err = d.Fetch(ctx, graph.Identity{Name: "other"})
	assert.True(t, IsKind(err, NotFound))

	crates, err := d.Crates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []graph.Identity{
		{Name: "helper", Version: graph.WorkspaceVersion},
		{Name: "my_app", Version: graph.WorkspaceVersion},
	}, crates)
}

func TestStd(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	jsonDir := filepath.Join(root, "share", "doc", "rust", "json")
	require.NoError(t, os.MkdirAll(jsonDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(jsonDir, "core.json"), exportJSON(57, "1.85.0"), 0644))

	s := NewStd("nightly")
	s.sysroot = func(context.Context, string) (string, error) { return root, nil }
	ctx := context.Background()

	exp, err := s.Fetch(ctx, graph.Identity{Name: "core"})
	require.NoError(t, err)
	assert.Equal(t, 57, exp.Revision)

	_, err = s.Fetch(ctx, graph.Identity{Name: "alloc"})
	assert.True(t, IsKind(err, ComponentMissing))
	assert.Contains(t, err.Error(), "rustup component add rust-docs-json --toolchain nightly")

	_, err = s.Fetch(ctx, graph.Identity{Name: "serde"})
	assert.True(t, IsKind(err, NotFound))

	s.sysroot = func(context.Context, string) (string, error) { return "", errors.New("rustc not found") }
	_, err = s.Fetch(ctx, graph.Identity{Name: "std"})
	assert.True(t, IsKind(err, ToolchainMissing))
}

type stubProvider struct {
	exp   registry.Export
	err   error
	calls int
}

func (p *stubProvider) Fetch(context.Context, graph.Identity) (registry.Export, error) {
	p.calls++
	return p.exp, p.err
}

func TestCached(t *testing.T) {
	t.Parallel()
	cache := store.NewFileStore(t.TempDir())
	next := &stubProvider{exp: registry.Export{Data: exportJSON(57, "1.2.0"), Revision: 57}}
	c := NewCached(next, cache, nil)
	ctx := context.Background()

	_, err := c.Fetch(ctx, graph.Identity{Name: "demo"})
	require.NoError(t, err)
	assert.True(t, cache.HasExport(graph.Identity{Name: "demo", Version: "1.2.0"}), "latest is cached under its resolved version")

	exp, err := c.Fetch(ctx, graph.Identity{Name: "demo", Version: "1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls, "exact versions are served from the cache")
	assert.Equal(t, 57, exp.Revision)

	next.err = &AcquisitionError{Kind: NetworkFailure, Err: errors.New("offline")}
	exp, err = c.Fetch(ctx, graph.Identity{Name: "demo"})
	require.NoError(t, err, "latest falls back to the newest cached version")
	assert.Equal(t, "1.2.0", exp.Version)

	_, err = c.Fetch(ctx, graph.Identity{Name: "other"})
	assert.True(t, IsKind(err, NetworkFailure))
}

func TestCached_Offline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := store.NewFileStore(t.TempDir())
	for _, v := range []string{"1.2.0", "1.10.0", "0.9.0"} {
		require.NoError(t, cache.StoreExport(ctx, graph.Identity{Name: "demo", Version: v}, exportJSON(57, v)))
	}
	sources := Chain{NewDir(), NewCached(nil, cache, nil)}

	exp, err := sources.Fetch(ctx, graph.Identity{Name: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", exp.Version)
	assert.Equal(t, 57, exp.Revision)

	exp, err = sources.Fetch(ctx, graph.Identity{Name: "demo", Version: "latest"})
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", exp.Version)

	exp, err = sources.Fetch(ctx, graph.Identity{Name: "demo", Version: "0.9.0"})
	require.NoError(t, err)
	assert.Equal(t, "0.9.0", exp.Version)

	_, err = sources.Fetch(ctx, graph.Identity{Name: "demo", Version: "2.0.0"})
	assert.True(t, IsKind(err, NotFound))
	_, err = sources.Fetch(ctx, graph.Identity{Name: "other"})
	assert.True(t, IsKind(err, NotFound))
}

func TestCached_SkipsWorkspace(t *testing.T) {
	t.Parallel()
	cache := store.NewFileStore(t.TempDir())
	next := &stubProvider{exp: registry.Export{Data: exportJSON(57, "0.1.0"), Revision: 57, Version: graph.WorkspaceVersion}}
	c := NewCached(next, cache, nil)

	_, err := c.Fetch(context.Background(), graph.Identity{Name: "app"})
	require.NoError(t, err)
	crates, err := cache.Crates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, crates)
}

func TestChain(t *testing.T) {
	t.Parallel()
	missing := &stubProvider{err: &AcquisitionError{Kind: NotFound}}
	found := &stubProvider{exp: registry.Export{Revision: 56}}
	broken := &stubProvider{err: &AcquisitionError{Kind: ToolchainMissing}}
	ctx := context.Background()

	exp, err := Chain{missing, found, broken}.Fetch(ctx, graph.Identity{Name: "demo"})
	require.NoError(t, err)
	assert.Equal(t, 56, exp.Revision)
	assert.Zero(t, broken.calls)

	_, err = Chain{missing, broken, found}.Fetch(ctx, graph.Identity{Name: "demo"})
	assert.True(t, IsKind(err, ToolchainMissing))

	_, err = Chain{missing}.Fetch(ctx, graph.Identity{Name: "demo"})
	assert.True(t, IsKind(err, NotFound))

	_, err = Chain{}.Fetch(ctx, graph.Identity{Name: "demo"})
	assert.True(t, IsKind(err, NotFound))
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "component missing", ComponentMissing.String())
	err := &AcquisitionError{Kind: ToolchainMissing, Crate: graph.Identity{Name: "std"}, Source: "rustup", Err: errors.New("no rustc")}
	assert.Equal(t, "rustup: acquiring std: toolchain missing: no rustc", err.Error())
}
