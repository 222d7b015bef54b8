package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/docs"
	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
	"github.com/jcdickinson/ferrisdoc/internal/store"
)

const sourceLocal = "local"

// Dir serves exports that a local `cargo doc` wrote, typically target/doc.
// They are loaded under graph.WorkspaceVersion.
type Dir struct {
	dirs []string
}

func NewDir(dirs ...string) *Dir {
	return &Dir{dirs: dirs}
}

func (d *Dir) Fetch(ctx context.Context, id graph.Identity) (registry.Export, error) {
	switch id.Version {
	case "", "latest", graph.WorkspaceVersion:
	default:
		return registry.Export{}, acquisition(sourceLocal, NotFound, id, errors.New("local exports only exist for the workspace version"))
	}

	name := graph.NormalizeName(id.Name)
	for _, dir := range d.dirs {
		for _, ext := range []string{".json", ".json.zst"} {
			if err := ctx.Err(); err != nil {
				return registry.Export{}, err
			}
			p := filepath.Join(dir, name+ext)
			data, err := os.ReadFile(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return registry.Export{}, fmt.Errorf("reading %s: %w", p, err)
			}
			if ext == ".json.zst" {
				if data, err = store.Decompress(data); err != nil {
					return registry.Export{}, fmt.Errorf("reading %s: %w", p, err)
				}
			}
			rev, err := docs.PeekRevision(data)
			if err != nil {
				return registry.Export{}, fmt.Errorf("reading %s: %w", p, err)
			}
			return registry.Export{Data: data, Revision: rev, Version: graph.WorkspaceVersion}, nil
		}
	}
	return registry.Export{}, acquisition(sourceLocal, NotFound, id, fmt.Errorf("no %s.json in %s", name, strings.Join(d.dirs, ", ")))
}

// Crates lists the crates with an export in any of the directories.
func (d *Dir) Crates(ctx context.Context) ([]graph.Identity, error) {
	seen := make(map[string]bool)
	var out []graph.Identity
	for _, dir := range d.dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name, ok := strings.CutSuffix(e.Name(), ".json")
			if !ok {
				name, ok = strings.CutSuffix(e.Name(), ".json.zst")
			}
			if !ok || e.IsDir() || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, graph.Identity{Name: name, Version: graph.WorkspaceVersion})
		}
	}
	slices.SortFunc(out, func(a, b graph.Identity) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
