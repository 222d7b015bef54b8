package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/links"
	"github.com/jcdickinson/ferrisdoc/internal/search"
)

const fnInner = `{"function":{"sig":{"inputs":[],"output":null,"is_c_variadic":false},"generics":{"params":[],"where_predicates":[]},"header":{"is_const":false,"is_unsafe":false,"is_async":false,"abi":"Rust"},"has_body":true}}`

const exportTemplate = `{
  "root": 0,
  "crate_version": "{{VERSION}}",
  "format_version": 57,
  "includes_private": false,
  "index": {
    "0": {"id":0,"crate_id":0,"name":"{{NAME}}","docs":null,"links":{},"attrs":[],"visibility":"public","deprecation":null,
          "inner":{"module":{"is_crate":true,"items":[1,2],"is_stripped":false}}},
    "1": {"id":1,"crate_id":0,"name":"Gadget","docs":"A gadget for widgets.","links":{},"attrs":[],"visibility":"public","deprecation":null,
          "inner":{"struct":{"kind":"unit","generics":{"params":[],"where_predicates":[]},"impls":[]}}},
    "2": {"id":2,"crate_id":0,"name":"assemble","docs":"{{DOCS}}","links":{},"attrs":[],"visibility":"public","deprecation":null,"inner":` + fnInner + `}
  },
  "paths": {
    "0": {"crate_id":0,"path":["{{NAME}}"],"kind":"module"},
    "1": {"crate_id":0,"path":["{{NAME}}","Gadget"],"kind":"struct"},
    "2": {"crate_id":0,"path":["{{NAME}}","assemble"],"kind":"function"}
  },
  "external_crates": {
    "1": {"name":"{{EXTERN}}","html_root_url":"https://docs.rs/{{EXTERN}}/1.0.0/"}
  }
}`

func export(name, version, extern, docs string) []byte {
	return []byte(strings.NewReplacer(
		"{{NAME}}", name,
		"{{VERSION}}", version,
		"{{EXTERN}}", extern,
		"{{DOCS}}", docs,
	).Replace(exportTemplate))
}

func appExport() []byte {
	return export("app", "0.1.0", "dep", "Builds a [`dep::Gadget`].")
}

func depExport(version string) []byte {
	return export("dep", version, "core", "Builds a gadget.")
}

type fakeProvider struct {
	exports map[string][]byte
	err     error
	gate    chan struct{}
	started chan struct{}
	aborted chan struct{}
	fetches atomic.Int32
}

func newProvider(exports map[string][]byte) *fakeProvider {
	return &fakeProvider{
		exports: exports,
		started: make(chan struct{}, 1),
		aborted: make(chan struct{}, 1),
	}
}

func (p *fakeProvider) Fetch(ctx context.Context, id graph.Identity) (Export, error) {
	p.fetches.Add(1)
	select {
	case p.started <- struct{}{}:
	default:
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			p.aborted <- struct{}{}
			return Export{}, ctx.Err()
		}
	}
	if p.err != nil {
		return Export{}, p.err
	}
	data, ok := p.exports[id.Key()]
	if !ok {
		return Export{}, errors.New("no such crate")
	}
	return Export{Data: data, Revision: 57}, nil
}

type memStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	stores atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Load(_ context.Context, id graph.Identity) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[id.Key()]
	if !ok {
		return nil, ErrAbsent
	}
	return data, nil
}

func (s *memStore) Store(_ context.Context, id graph.Identity, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores.Add(1)
	s.blobs[id.Key()] = data
	return nil
}

func waiters[T any](fs *flights[T], key string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.m[key]; ok {
		return f.waiters
	}
	return 0
}

var (
	app    = graph.Identity{Name: "app", Version: "0.1.0"}
	dep100 = graph.Identity{Name: "dep", Version: "1.0.0"}
)

func load(t *testing.T, r *Registry, p Provider, ids ...graph.Identity) {
	t.Helper()
	for _, id := range ids {
		_, err := r.GetOrLoad(context.Background(), id, p)
		require.NoError(t, err)
	}
}

func TestGetOrLoad_SharedFlight(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport()})
	p.gate = make(chan struct{})
	r := New()

	const callers = 8
	graphs := make([]*graph.Graph, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := r.GetOrLoad(context.Background(), app, p)
			assert.NoError(t, err)
			graphs[i] = g
		}()
	}
	<-p.started
	require.Eventually(t, func() bool { return waiters(&r.loads, app.Key()) == callers }, time.Second, time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int32(1), p.fetches.Load())
	assert.Equal(t, int64(1), r.Stats().Normalizations)
	for _, g := range graphs {
		assert.Same(t, graphs[0], g)
	}
}

func TestGetOrLoad_Latest(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"dep@latest": depExport("1.4.0")})
	r := New()

	g, err := r.GetOrLoad(context.Background(), graph.Identity{Name: "dep"}, p)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", g.Identity().Version)

	again, err := r.GetOrLoad(context.Background(), graph.Identity{Name: "dep"}, p)
	require.NoError(t, err)
	assert.Same(t, g, again)
	assert.Equal(t, int32(1), p.fetches.Load())

	exact, ok := r.Graph(graph.Identity{Name: "dep", Version: "1.4.0"})
	require.True(t, ok)
	assert.Same(t, g, exact)
}

func TestGetOrLoad_AbandonedLeavesNoEntry(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport()})
	p.gate = make(chan struct{})
	r := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.GetOrLoad(ctx, app, p)
		done <- err
	}()
	<-p.started
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, r.loads.inFlight(app.Key()))
	select {
	case <-p.aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned fetch was not canceled")
	}
	_, ok := r.Graph(app)
	assert.False(t, ok)
	assert.Empty(t, r.Loaded())

	p.gate = nil
	_, err := r.GetOrLoad(context.Background(), app, p)
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.fetches.Load())
}

func TestGetOrLoad_OneWaiterAbandons(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport()})
	p.gate = make(chan struct{})
	r := New()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.GetOrLoad(ctx, app, p)
		first <- err
	}()
	<-p.started

	second := make(chan *graph.Graph, 1)
	go func() {
		g, err := r.GetOrLoad(context.Background(), app, p)
		assert.NoError(t, err)
		second <- g
	}()
	require.Eventually(t, func() bool { return waiters(&r.loads, app.Key()) == 2 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)
	close(p.gate)

	g := <-second
	require.NotNil(t, g)
	assert.Equal(t, int32(1), p.fetches.Load())
	loaded, ok := r.Graph(app)
	require.True(t, ok)
	assert.Same(t, g, loaded)
}

func TestGetOrLoad_ProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("toolchain missing")
	p := newProvider(nil)
	p.err = boom
	r := New()

	_, err := r.GetOrLoad(context.Background(), app, p)
	assert.Equal(t, boom, err)
	_, ok := r.Graph(app)
	assert.False(t, ok)
}

func TestGetOrLoad_MalformedExport(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": []byte(`{"format_version":57}`)})
	r := New()

	_, err := r.GetOrLoad(context.Background(), app, p)
	require.Error(t, err)
	assert.Empty(t, r.Loaded())
	assert.Zero(t, r.Stats().Normalizations)
}

func TestGetOrBuildIndex_SingleBuild(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport()})
	r := New()
	load(t, r, p, app)

	const callers = 16
	indexes := make([]*search.Index, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := r.GetOrBuildIndex(context.Background(), app)
			assert.NoError(t, err)
			indexes[i] = idx
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), r.Stats().IndexBuilds)
	for _, idx := range indexes {
		assert.Same(t, indexes[0], idx)
	}
}

// A caller that saw no index and reaches the flights only after the first
// build committed and left starts a second flight. Its body must reuse the
// committed result instead of working again.
func TestLateFlight_ReusesCommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport()})
	r := New()
	load(t, r, p, app)
	g, ok := r.Graph(app)
	require.True(t, ok)

	idx, err := r.GetOrBuildIndex(ctx, app)
	require.NoError(t, err)

	late, err := r.builds.do(ctx, app.Key(), func(ctx context.Context) (*search.Index, error) {
		return r.buildIndex(ctx, g)
	}, nil)
	require.NoError(t, err)
	assert.Same(t, idx, late)
	assert.Equal(t, int64(1), r.Stats().IndexBuilds)

	again, err := r.load(ctx, app, p)
	require.NoError(t, err)
	assert.Same(t, g, again)
	assert.Equal(t, int32(1), p.fetches.Load())
	assert.Equal(t, int64(1), r.Stats().Normalizations)
}

func TestIndex_NotReady(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport()})
	r := New()

	_, err := r.Index(app)
	require.ErrorIs(t, err, ErrNotLoaded)

	load(t, r, p, app)
	_, err = r.Index(app)
	require.ErrorIs(t, err, ErrIndexNotReady)

	built, err := r.GetOrBuildIndex(context.Background(), app)
	require.NoError(t, err)
	idx, err := r.Index(app)
	require.NoError(t, err)
	assert.Same(t, built, idx)

	r.DropIndex(app)
	_, err = r.Index(app)
	require.ErrorIs(t, err, ErrIndexNotReady)
}

func TestGetOrBuildIndex_Store(t *testing.T) {
	t.Parallel()
	exports := map[string][]byte{"app@0.1.0": appExport()}
	store := newMemStore()

	first := New(WithIndexStore(store))
	load(t, first, newProvider(exports), app)
	_, err := first.GetOrBuildIndex(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.stores.Load())

	second := New(WithIndexStore(store))
	load(t, second, newProvider(exports), app)
	idx, err := second.GetOrBuildIndex(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, Stats{Normalizations: 1, IndexLoads: 1}, second.Stats())
	assert.NotEmpty(t, idx.Query("gadget", 0))

	opts := search.DefaultOptions()
	opts.MinTokenLength = 3
	third := New(WithIndexStore(store), WithSearchOptions(opts))
	load(t, third, newProvider(exports), app)
	_, err = third.GetOrBuildIndex(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, Stats{Normalizations: 1, IndexBuilds: 1, StaleRebuilds: 1}, third.Stats())
	assert.Equal(t, int32(2), store.stores.Load())
}

func TestLookup(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{
		"dep@1.2.0":  depExport("1.2.0"),
		"dep@1.10.0": depExport("1.10.0"),
	})
	r := New()
	load(t, r, p, graph.Identity{Name: "dep", Version: "1.10.0"}, graph.Identity{Name: "dep", Version: "1.2.0"})

	assert.Equal(t, []graph.Identity{
		{Name: "dep", Version: "1.2.0", Revision: 57},
		{Name: "dep", Version: "1.10.0", Revision: 57},
	}, r.Loaded())

	tests := []struct {
		name, version, want string
	}{
		{"dep", "", "1.10.0"},
		{"dep", "latest", "1.10.0"},
		{"dep", "1.2.0", "1.2.0"},
		{"dep", "~1.2", "1.2.0"},
		{"dep", "^1", "1.10.0"},
		{"Dep", "", "1.10.0"},
		{"dep", "2", ""},
		{"other", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name+"@"+tt.version, func(t *testing.T) {
			g, ok := r.Lookup(tt.name, tt.version)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, g.Identity().Version)
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport(), "dep@1.0.0": depExport("1.0.0")})
	r := New()
	load(t, r, p, dep100, app)

	hits, err := r.Search(context.Background(), "gadget", nil, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hits), 2)
	assert.Equal(t, "Gadget", hits[0].Name)
	assert.Equal(t, "app", hits[0].Crate.Name)
	assert.Equal(t, "Gadget", hits[1].Name)
	assert.Equal(t, "dep", hits[1].Crate.Name)

	scoped, err := r.Search(context.Background(), "gadget", []graph.Identity{dep100}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, scoped)
	for _, h := range scoped {
		assert.Equal(t, "dep", h.Crate.Name)
	}

	limited, err := r.Search(context.Background(), "gadget", nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := r.Search(context.Background(), "zzzzzz", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, int64(2), r.Stats().IndexBuilds)

	_, err = r.Search(context.Background(), "gadget", []graph.Identity{{Name: "missing", Version: "1.0.0"}}, 0)
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestLinks_DeferredThenResolved(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"app@0.1.0": appExport(), "dep@1.0.0": depExport("1.0.0")})
	r := New()
	load(t, r, p, app)

	g, _ := r.Graph(app)
	res := g.ResolvePath("assemble")
	require.Equal(t, graph.Unique, res.Status)
	item := res.Item()

	got := r.Links().Resolve(g, item)
	require.Len(t, got, 1)
	assert.Equal(t, links.Deferred, got[0].Status)
	assert.Equal(t, "dep", got[0].Crate.Name)

	load(t, r, p, dep100)
	got = r.Links().Resolve(g, item)
	require.Len(t, got, 1)
	assert.Equal(t, links.Resolved, got[0].Status)
	assert.Equal(t, "rsdoc://dep/1.0.0/Gadget", got[0].URI())
}

func TestEvict(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]byte{"dep@latest": depExport("1.0.0")})
	r := New()
	load(t, r, p, graph.Identity{Name: "dep"})

	r.Evict(dep100)
	_, ok := r.Graph(graph.Identity{Name: "dep"})
	assert.False(t, ok)
	assert.Empty(t, r.Loaded())
}
