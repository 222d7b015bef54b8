// Package navigator answers item, search and listing requests on top of the
// crate registry, loading crates through a provider as they are needed. The
// CLI and the MCP server are both thin layers over it.
package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/links"
	"github.com/jcdickinson/ferrisdoc/internal/markdown"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
	"github.com/jcdickinson/ferrisdoc/internal/search"
)

const maxRedirects = 8

// Catalog lists crates that can be loaded without a network round trip.
type Catalog interface {
	Crates(ctx context.Context) ([]graph.Identity, error)
}

type Navigator struct {
	reg      *registry.Registry
	provider registry.Provider
	catalogs []Catalog
	log      *slog.Logger
	limit    int
}

type Option func(*Navigator)

func WithCatalog(c Catalog) Option {
	return func(n *Navigator) { n.catalogs = append(n.catalogs, c) }
}

func WithLogger(log *slog.Logger) Option {
	return func(n *Navigator) { n.log = log }
}

// WithDefaultLimit sets the result count used when a search passes no limit.
func WithDefaultLimit(limit int) Option {
	return func(n *Navigator) { n.limit = limit }
}

func New(reg *registry.Registry, p registry.Provider, opts ...Option) *Navigator {
	n := &Navigator{
		reg:      reg,
		provider: p,
		log:      slog.Default(),
		limit:    20,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Navigator) Registry() *registry.Registry {
	return n.reg
}

// Load returns a loaded crate matching id (a version may be empty, "latest"
// or a semver constraint) and fetches it when none is loaded.
func (n *Navigator) Load(ctx context.Context, id graph.Identity) (*graph.Graph, error) {
	if g, ok := n.reg.Lookup(id.Name, id.Version); ok {
		return g, nil
	}
	return n.reg.GetOrLoad(ctx, id, n.provider)
}

// Index loads the crate and returns its search index, building it if needed.
func (n *Navigator) Index(ctx context.Context, id graph.Identity) (*search.Index, error) {
	g, err := n.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.reg.GetOrBuildIndex(ctx, g.Identity())
}

// Get resolves a request to an item page. Re-exports of other crates are
// followed, loading those crates on the way.
func (n *Navigator) Get(ctx context.Context, req Request) (*Page, error) {
	g, err := n.Load(ctx, req.Crate)
	if err != nil {
		return nil, err
	}

	path := req.Path
	for hop := 0; ; hop++ {
		if hop > maxRedirects {
			return nil, fmt.Errorf("%s: %w", req, ErrTooManyRedirects)
		}

		res := g.ResolvePath(path)
		var next *graph.Target
		switch res.Status {
		case graph.Unique:
			it := res.Item()
			if it.Kind != graph.KindReexport || it.Target == nil || it.Target.Kind != graph.TargetExternal {
				return n.page(g, it, req.Fragment)
			}
			next = it.Target
		case graph.Ambiguous:
			amb := &AmbiguousError{Crate: g.Identity(), Path: path}
			for _, it := range res.Items {
				amb.Candidates = append(amb.Candidates, g.DiscriminatedPath(it.ID))
			}
			return nil, amb
		default:
			next = res.Redirect
		}
		if next == nil {
			return nil, n.notFound(ctx, g, path)
		}

		n.log.Debug("following re-export", "from", g.Identity().String(), "crate", next.Crate, "path", next.PathString())
		g, err = n.Load(ctx, graph.Identity{Name: next.Crate, Version: next.Version})
		if err != nil {
			return nil, fmt.Errorf("following %s into %s: %w", path, next.Crate, err)
		}
		path = next.PathString()
	}
}

func (n *Navigator) notFound(ctx context.Context, g *graph.Graph, path string) error {
	nf := &NotFoundError{Crate: g.Identity(), Path: path}
	term := lastSegment(path)
	if term == "" {
		return nf
	}
	hits, err := n.reg.Search(ctx, term, []graph.Identity{g.Identity()}, 5)
	if err != nil {
		n.log.Debug("no suggestions", "crate", g.Identity().String(), "error", err)
		return nf
	}
	for _, h := range hits {
		if it, ok := g.Item(h.Item); ok {
			nf.Suggestions = append(nf.Suggestions, displayPath(g, it))
		}
	}
	return nf
}

// lastSegment strips discriminators and rustdoc suffixes from the final
// segment of a path expression.
func lastSegment(path string) string {
	segs := strings.Split(path, "::")
	last := segs[len(segs)-1]
	if _, name, ok := strings.Cut(last, "@"); ok {
		last = name
	}
	return strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(last), "!"), "()")
}

// Links binds the references of the requested item. With follow set, crates
// named by deferred links are loaded first so the links can resolve; a crate
// that fails to load leaves its links deferred.
func (n *Navigator) Links(ctx context.Context, req Request, follow bool) ([]links.Link, error) {
	req.Fragment = ""
	p, err := n.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	if !follow {
		return p.Links, nil
	}

	seen := make(map[string]bool)
	loaded := false
	for _, l := range p.Links {
		if l.Status != links.Deferred || seen[l.Crate.Key()] {
			continue
		}
		seen[l.Crate.Key()] = true
		if _, err := n.Load(ctx, l.Crate); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			n.log.Warn("could not load linked crate", "crate", l.Crate.String(), "error", err)
			continue
		}
		loaded = true
	}
	if !loaded {
		return p.Links, nil
	}
	return n.reg.Links().Resolve(p.g, p.Item), nil
}

// Result is one search hit, ready to display.
type Result struct {
	Crate     string `json:"crate"`
	Version   string `json:"version"`
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	URI       string `json:"uri"`
	Score     int    `json:"score"`
	Summary   string `json:"summary,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Search queries the given crates, loading them first, or every loaded crate
// when crates is empty.
func (n *Navigator) Search(ctx context.Context, query string, crates []graph.Identity, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = n.limit
	}

	var scope []graph.Identity
	if len(crates) > 0 {
		scope = make([]graph.Identity, len(crates))
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(4)
		for i, id := range crates {
			eg.Go(func() error {
				g, err := n.Load(egCtx, id)
				if err != nil {
					return err
				}
				scope[i] = g.Identity()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	hits, err := n.reg.Search(ctx, query, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		g, ok := n.reg.Graph(h.Crate)
		if !ok {
			continue
		}
		it, ok := g.Item(h.Item)
		if !ok {
			continue
		}
		results = append(results, Result{
			Crate:     g.Identity().Name,
			Version:   g.Identity().Version,
			Path:      displayPath(g, it),
			Kind:      kindLabel(it),
			URI:       URI(g.Identity(), address(g, it)),
			Score:     h.Score,
			Summary:   markdown.Summary(it.Docs),
			Signature: it.Signature,
		})
	}
	n.log.Info("search", "query", query, "crates", len(scope), "results", len(results))
	return results, nil
}

// CrateEntry describes a crate known to the navigator.
type CrateEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Loaded  bool   `json:"loaded"`
	Indexed bool   `json:"indexed"`
	Items   int    `json:"items,omitempty"`
}

// List merges the loaded crates with those the catalogs know about.
func (n *Navigator) List(ctx context.Context) ([]CrateEntry, error) {
	byKey := make(map[string]*CrateEntry)
	var ids []graph.Identity

	for _, id := range n.reg.Loaded() {
		g, ok := n.reg.Graph(id)
		if !ok {
			continue
		}
		_, err := n.reg.Index(id)
		byKey[id.Key()] = &CrateEntry{Name: id.Name, Version: id.Version, Loaded: true, Indexed: err == nil, Items: g.Len()}
		ids = append(ids, id)
	}

	for _, c := range n.catalogs {
		crates, err := c.Crates(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing crates: %w", err)
		}
		for _, id := range crates {
			if _, ok := byKey[id.Key()]; ok {
				continue
			}
			byKey[id.Key()] = &CrateEntry{Name: id.Name, Version: id.Version}
			ids = append(ids, id)
		}
	}

	slices.SortFunc(ids, registry.CompareIdentities)
	out := make([]CrateEntry, len(ids))
	for i, id := range ids {
		out[i] = *byKey[id.Key()]
	}
	return out, nil
}
