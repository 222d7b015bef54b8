// Package provider acquires rustdoc JSON exports: from local build output,
// from a rustup toolchain, and from docs.rs, with an on-disk cache in front.
package provider

import (
	"context"
	"errors"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
)

// Chain tries each provider in order. A NotFound result moves on to the
// next; any other error stops the search.
type Chain []registry.Provider

func (c Chain) Fetch(ctx context.Context, id graph.Identity) (registry.Export, error) {
	var last error
	for _, p := range c {
		exp, err := p.Fetch(ctx, id)
		if err == nil {
			return exp, nil
		}
		if !IsKind(err, NotFound) {
			return registry.Export{}, err
		}
		last = err
	}
	if last == nil {
		last = acquisition("chain", NotFound, id, errors.New("no sources configured"))
	}
	return registry.Export{}, last
}
