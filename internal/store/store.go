// Package store keeps rustdoc exports and serialized search indexes on disk,
// zstd-compressed, one file per crate version.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
)

const (
	exportDir = "json"
	indexDir  = "index"

	exportExt = ".json.zst"
	indexExt  = ".fdix.zst"
)

// FileStore lays out its directory as
//
//	<dir>/json/<name>_<version>.json.zst
//	<dir>/index/<name>_<version>.fdix.zst
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

func fileName(id graph.Identity, ext string) string {
	return graph.NormalizeName(id.Name) + "_" + id.Version + ext
}

func (s *FileStore) path(sub string, id graph.Identity, ext string) string {
	return filepath.Join(s.dir, sub, fileName(id, ext))
}

// Load reads the stored search index for id.
func (s *FileStore) Load(ctx context.Context, id graph.Identity) ([]byte, error) {
	return s.read(ctx, s.path(indexDir, id, indexExt))
}

// Store writes the search index for id, replacing any previous one.
func (s *FileStore) Store(ctx context.Context, id graph.Identity, data []byte) error {
	return s.write(ctx, s.path(indexDir, id, indexExt), data)
}

// LoadExport reads a cached rustdoc export.
func (s *FileStore) LoadExport(ctx context.Context, id graph.Identity) ([]byte, error) {
	return s.read(ctx, s.path(exportDir, id, exportExt))
}

func (s *FileStore) StoreExport(ctx context.Context, id graph.Identity, data []byte) error {
	return s.write(ctx, s.path(exportDir, id, exportExt), data)
}

func (s *FileStore) HasExport(id graph.Identity) bool {
	_, err := os.Stat(s.path(exportDir, id, exportExt))
	return err == nil
}

// Crates lists the crate versions with a cached export, sorted by name.
func (s *FileStore) Crates(ctx context.Context) ([]graph.Identity, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, exportDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing export cache: %w", err)
	}
	var out []graph.Identity
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base, ok := strings.CutSuffix(e.Name(), exportExt)
		if !ok || e.IsDir() {
			continue
		}
		// Versions never contain '_', crate names may.
		i := strings.LastIndexByte(base, '_')
		if i <= 0 || i == len(base)-1 {
			continue
		}
		out = append(out, graph.Identity{Name: base[:i], Version: base[i+1:]})
	}
	slices.SortFunc(out, func(a, b graph.Identity) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, nil
}

// Remove deletes the export and index stored for id.
func (s *FileStore) Remove(id graph.Identity) error {
	for _, p := range []string{s.path(exportDir, id, exportExt), s.path(indexDir, id, indexExt)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// Clear deletes everything the store wrote.
func (s *FileStore) Clear() error {
	for _, sub := range []string{exportDir, indexDir} {
		if err := os.RemoveAll(filepath.Join(s.dir, sub)); err != nil {
			return fmt.Errorf("clearing %s cache: %w", sub, err)
		}
	}
	return nil
}

func (s *FileStore) read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, registry.ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", filepath.Base(p), err)
	}
	return data, nil
}

// write compresses into a temporary file and renames it into place, so
// readers never see a partial file.
func (s *FileStore) write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	compressed, err := Compress(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

// Compress zstd-compresses data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing data: %w", err)
	}
	return out, nil
}
