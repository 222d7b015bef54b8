package provider

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/jcdickinson/ferrisdoc/internal/docs"
	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
)

// ExportCache persists raw exports by resolved identity.
type ExportCache interface {
	LoadExport(ctx context.Context, id graph.Identity) ([]byte, error)
	StoreExport(ctx context.Context, id graph.Identity, data []byte) error
	Crates(ctx context.Context) ([]graph.Identity, error)
}

// Cached serves released versions from an export cache and saves what the
// wrapped provider fetches. Workspace exports are never cached. When
// "latest" cannot be fetched for lack of network, the newest cached version
// is served instead. A nil next provider makes the cache the only source:
// unversioned requests get the newest cached release.
type Cached struct {
	next  registry.Provider
	cache ExportCache
	log   *slog.Logger
}

func NewCached(next registry.Provider, cache ExportCache, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	return &Cached{next: next, cache: cache, log: log}
}

func concreteVersion(v string) bool {
	return v != "" && v != "latest" && v != graph.WorkspaceVersion
}

func (c *Cached) Fetch(ctx context.Context, id graph.Identity) (registry.Export, error) {
	if concreteVersion(id.Version) {
		if exp, ok := c.load(ctx, id); ok {
			return exp, nil
		}
	}

	if c.next == nil {
		return c.offline(ctx, id)
	}

	exp, err := c.next.Fetch(ctx, id)
	if err != nil {
		if !concreteVersion(id.Version) && IsKind(err, NetworkFailure) {
			if cached, ok := c.newest(ctx, id.Name); ok {
				c.log.Warn("docs.rs unreachable, using cached version", "crate", id.Name, "version", cached.Version, "error", err)
				if exp, ok := c.load(ctx, cached); ok {
					return exp, nil
				}
			}
		}
		return registry.Export{}, err
	}

	version := exp.Version
	if version == "" {
		if h, err := docs.PeekHeader(exp.Data); err == nil {
			version = h.CrateVersion
		}
	}
	if version == "" && concreteVersion(id.Version) {
		version = id.Version
	}
	if concreteVersion(version) {
		resolved := graph.Identity{Name: id.Name, Version: version}
		if err := c.cache.StoreExport(ctx, resolved, exp.Data); err != nil {
			c.log.Warn("failed to cache rustdoc JSON", "crate", resolved.String(), "error", err)
		}
	}
	return exp, nil
}

func (c *Cached) offline(ctx context.Context, id graph.Identity) (registry.Export, error) {
	if !concreteVersion(id.Version) {
		if cached, ok := c.newest(ctx, id.Name); ok {
			if exp, ok := c.load(ctx, cached); ok {
				return exp, nil
			}
		}
	}
	return registry.Export{}, acquisition("cache", NotFound, id, errors.New("not cached and offline"))
}

func (c *Cached) load(ctx context.Context, id graph.Identity) (registry.Export, bool) {
	data, err := c.cache.LoadExport(ctx, id)
	if err != nil {
		if !errors.Is(err, registry.ErrAbsent) {
			c.log.Warn("failed to read cached rustdoc JSON", "crate", id.String(), "error", err)
		}
		return registry.Export{}, false
	}
	rev, err := docs.PeekRevision(data)
	if err != nil {
		c.log.Warn("ignoring corrupt cached rustdoc JSON", "crate", id.String(), "error", err)
		return registry.Export{}, false
	}
	c.log.Debug("using cached rustdoc JSON", "crate", id.String())
	return registry.Export{Data: data, Revision: rev, Version: id.Version}, true
}

// newest picks the highest cached release of name.
func (c *Cached) newest(ctx context.Context, name string) (graph.Identity, bool) {
	crates, err := c.cache.Crates(ctx)
	if err != nil {
		return graph.Identity{}, false
	}
	var best graph.Identity
	var bestV *semver.Version
	for _, id := range crates {
		if !graph.SameCrateName(id.Name, name) {
			continue
		}
		v, err := semver.NewVersion(id.Version)
		if err != nil {
			continue
		}
		if bestV == nil || v.GreaterThan(bestV) {
			best, bestV = id, v
		}
	}
	return best, bestV != nil
}
