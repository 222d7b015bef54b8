// Package registry keeps the loaded crate graphs and their search indexes,
// coordinating concurrent loads and index builds per crate.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jcdickinson/ferrisdoc/internal/docs"
	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/links"
	"github.com/jcdickinson/ferrisdoc/internal/search"
)

var (
	// ErrNotLoaded is returned for an identity that has no graph.
	ErrNotLoaded = errors.New("crate not loaded")
	// ErrIndexNotReady is returned by Index while the index is absent or
	// still being built.
	ErrIndexNotReady = errors.New("search index not ready")
	// ErrAbsent is returned by an IndexStore that holds nothing for an
	// identity.
	ErrAbsent = errors.New("not stored")
)

// Export is one raw rustdoc JSON export together with the format revision
// its source declared. A non-empty Version overrides the requested one, as
// local builds do with graph.WorkspaceVersion.
type Export struct {
	Data     []byte
	Revision int
	Version  string
}

// Provider acquires exports. Fetch may fill in an empty id.Version through
// the export itself.
type Provider interface {
	Fetch(ctx context.Context, id graph.Identity) (Export, error)
}

// IndexStore persists serialized search indexes between runs.
type IndexStore interface {
	Load(ctx context.Context, id graph.Identity) ([]byte, error)
	Store(ctx context.Context, id graph.Identity, data []byte) error
}

// Stats are monotonically increasing counters of the slow work the registry
// has done.
type Stats struct {
	Normalizations int64
	IndexBuilds    int64
	IndexLoads     int64
	StaleRebuilds  int64
}

type entry struct {
	g   *graph.Graph
	idx *search.Index
}

type Registry struct {
	log   *slog.Logger
	store IndexStore
	opts  search.Options

	mu      sync.RWMutex
	crates  map[string]*entry
	aliases map[string]string // requested key -> loaded key, for "latest"

	loads  flights[*graph.Graph]
	builds flights[*search.Index]

	normalizations atomic.Int64
	indexBuilds    atomic.Int64
	indexLoads     atomic.Int64
	staleRebuilds  atomic.Int64
}

type Option func(*Registry)

func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithIndexStore persists built indexes and consults the store before
// building.
func WithIndexStore(s IndexStore) Option {
	return func(r *Registry) { r.store = s }
}

func WithSearchOptions(opts search.Options) Option {
	return func(r *Registry) { r.opts = opts }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		log:     slog.Default(),
		opts:    search.DefaultOptions(),
		crates:  make(map[string]*entry),
		aliases: make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Links returns a resolver that finds link targets among the loaded crates.
func (r *Registry) Links() links.Resolver {
	return links.Resolver{Crates: r}
}

func (r *Registry) entryLocked(id graph.Identity) (*entry, bool) {
	key := id.Key()
	if k, ok := r.aliases[key]; ok {
		key = k
	}
	e, ok := r.crates[key]
	return e, ok
}

// Graph returns the loaded graph for id, if any.
func (r *Registry) Graph(id graph.Identity) (*graph.Graph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entryLocked(id)
	if !ok {
		return nil, false
	}
	return e.g, true
}

// GetOrLoad returns the graph for id, fetching and normalizing it through p
// when it is not loaded yet. Concurrent callers for the same identity share
// one load. Provider errors are returned as they are.
func (r *Registry) GetOrLoad(ctx context.Context, id graph.Identity, p Provider) (*graph.Graph, error) {
	if g, ok := r.Graph(id); ok {
		return g, nil
	}
	requested := id.Key()
	return r.loads.do(ctx, requested, func(ctx context.Context) (*graph.Graph, error) {
		return r.load(ctx, id, p)
	}, func(g *graph.Graph) {
		r.mu.Lock()
		defer r.mu.Unlock()
		key := g.Identity().Key()
		if _, ok := r.crates[key]; !ok {
			r.crates[key] = &entry{g: g}
		}
		if requested != key {
			r.aliases[requested] = key
		}
	})
}

// load is the body of a load flight. A caller that missed the loaded graph
// may start a flight just after another one committed, so the graph is
// looked up again before fetching.
func (r *Registry) load(ctx context.Context, id graph.Identity, p Provider) (*graph.Graph, error) {
	if g, ok := r.Graph(id); ok {
		return g, nil
	}
	exp, err := p.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	target := id
	if exp.Version != "" {
		target.Version = exp.Version
	}
	g, err := docs.Normalize(ctx, exp.Data, exp.Revision, target)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", id, err)
	}
	r.normalizations.Add(1)
	r.log.Info("loaded crate", "crate", g.Identity().String(), "revision", exp.Revision, "items", g.Len())
	return g, nil
}

// Index returns the built index for id without blocking.
func (r *Registry) Index(id graph.Identity) (*search.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entryLocked(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotLoaded)
	}
	if e.idx == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrIndexNotReady)
	}
	return e.idx, nil
}

// GetOrBuildIndex returns the index for a loaded crate. A stored index is
// used when its fingerprint matches; otherwise the index is built and, when a
// store is configured, written back. Concurrent callers share one build.
func (r *Registry) GetOrBuildIndex(ctx context.Context, id graph.Identity) (*search.Index, error) {
	r.mu.RLock()
	e, ok := r.entryLocked(id)
	var g *graph.Graph
	var idx *search.Index
	if ok {
		g, idx = e.g, e.idx
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotLoaded)
	}
	if idx != nil {
		return idx, nil
	}

	gid := g.Identity()
	return r.builds.do(ctx, gid.Key(), func(ctx context.Context) (*search.Index, error) {
		return r.buildIndex(ctx, g)
	}, func(idx *search.Index) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.crates[gid.Key()]; ok && e.g == g {
			e.idx = idx
		}
	})
}

// buildIndex is the body of a build flight. Like load, it first checks for
// an index committed since the caller looked.
func (r *Registry) buildIndex(ctx context.Context, g *graph.Graph) (*search.Index, error) {
	gid := g.Identity()
	r.mu.RLock()
	e, ok := r.crates[gid.Key()]
	var idx *search.Index
	if ok && e.g == g {
		idx = e.idx
	}
	r.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	if idx := r.loadIndex(ctx, g); idx != nil {
		return idx, nil
	}
	idx, err := search.Build(ctx, g, r.opts)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", gid, err)
	}
	r.indexBuilds.Add(1)
	r.log.Info("built search index", "crate", gid.String(), "documents", idx.Len(), "tokens", idx.Tokens())
	r.saveIndex(ctx, idx)
	return idx, nil
}

func (r *Registry) loadIndex(ctx context.Context, g *graph.Graph) *search.Index {
	if r.store == nil {
		return nil
	}
	id := g.Identity()
	data, err := r.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrAbsent) {
			r.log.Warn("failed to read stored index", "crate", id.String(), "error", err)
		}
		return nil
	}
	idx, err := search.Deserialize(data, g.Fingerprint(), r.opts)
	if err != nil {
		if errors.Is(err, search.ErrStaleIndex) {
			r.staleRebuilds.Add(1)
			r.log.Info("rebuilding stale index", "crate", id.String(), "reason", err)
		} else {
			r.log.Warn("discarding unreadable index", "crate", id.String(), "error", err)
		}
		return nil
	}
	r.indexLoads.Add(1)
	r.log.Debug("loaded stored index", "crate", id.String())
	return idx
}

func (r *Registry) saveIndex(ctx context.Context, idx *search.Index) {
	if r.store == nil {
		return
	}
	id := idx.Identity()
	data, err := search.Serialize(idx)
	if err == nil {
		err = r.store.Store(ctx, id, data)
	}
	if err != nil {
		r.log.Warn("failed to store index", "crate", id.String(), "error", err)
	}
}

// Lookup finds a loaded crate by name. An empty version or "latest" picks
// the highest loaded version, an exact version must match, and anything else
// is treated as a semver constraint.
func (r *Registry) Lookup(name, version string) (*graph.Graph, bool) {
	id, ok := r.match(name, version)
	if !ok {
		return nil, false
	}
	return r.Graph(id)
}

func (r *Registry) match(name, version string) (graph.Identity, bool) {
	var candidates []graph.Identity
	for _, id := range r.Loaded() {
		if graph.SameCrateName(id.Name, name) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return graph.Identity{}, false
	}
	if version == "" || version == "latest" {
		return candidates[len(candidates)-1], true
	}
	for _, id := range candidates {
		if id.Version == version {
			return id, true
		}
	}
	c, err := semver.NewConstraint(version)
	if err != nil {
		return graph.Identity{}, false
	}
	for _, id := range slices.Backward(candidates) {
		if v, err := semver.NewVersion(id.Version); err == nil && c.Check(v) {
			return id, true
		}
	}
	return graph.Identity{}, false
}

// Loaded lists the loaded crates by name, then ascending version.
func (r *Registry) Loaded() []graph.Identity {
	r.mu.RLock()
	out := make([]graph.Identity, 0, len(r.crates))
	for _, e := range r.crates {
		out = append(out, e.g.Identity())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, CompareIdentities)
	return out
}

// CompareIdentities orders by crate name, then version. Unparsable versions
// (such as the workspace marker) sort after every release.
func CompareIdentities(a, b graph.Identity) int {
	if c := cmp.Compare(graph.NormalizeName(a.Name), graph.NormalizeName(b.Name)); c != 0 {
		return c
	}
	va, errA := semver.NewVersion(a.Version)
	vb, errB := semver.NewVersion(b.Version)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return cmp.Compare(a.Version, b.Version)
}

// Search queries the given crates, or every loaded crate when scope is
// empty, and merges the results. Indexes are built on demand; crates whose
// vocabulary cannot match are skipped.
func (r *Registry) Search(ctx context.Context, query string, scope []graph.Identity, limit int) ([]search.Hit, error) {
	if len(scope) == 0 {
		scope = r.Loaded()
	}
	results := make([][]search.Hit, len(scope))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, id := range scope {
		eg.Go(func() error {
			idx, err := r.GetOrBuildIndex(ctx, id)
			if err != nil {
				return err
			}
			if !idx.MayContain(query) {
				return nil
			}
			results[i] = idx.Query(query, limit)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	hits := search.Merge(results...)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	r.log.Debug("search", "query", query, "crates", len(scope), "hits", len(hits))
	return hits, nil
}

// Evict forgets a crate and its index. Work already in flight for it is not
// interrupted.
func (r *Registry) Evict(id graph.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entryLocked(id)
	if !ok {
		return
	}
	key := e.g.Identity().Key()
	delete(r.crates, key)
	for alias, k := range r.aliases {
		if k == key {
			delete(r.aliases, alias)
		}
	}
}

// DropIndex discards the in-memory index of a crate; the next query rebuilds
// or reloads it.
func (r *Registry) DropIndex(id graph.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entryLocked(id); ok {
		e.idx = nil
	}
}

func (r *Registry) Stats() Stats {
	return Stats{
		Normalizations: r.normalizations.Load(),
		IndexBuilds:    r.indexBuilds.Load(),
		IndexLoads:     r.indexLoads.Load(),
		StaleRebuilds:  r.staleRebuilds.Load(),
	}
}
