package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
)

var _ registry.IndexStore = (*DB)(nil)

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertCrate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	c1, err := db.UpsertCrate(ctx, graph.Identity{Name: "serde-json", Version: "1.0.120", Revision: 56})
	if err != nil {
		t.Fatal(err)
	}
	if c1.Name != "serde_json" {
		t.Errorf("expected normalized name serde_json, got %s", c1.Name)
	}

	c2, err := db.UpsertCrate(ctx, graph.Identity{Name: "serde_json", Version: "1.0.120", Revision: 57})
	if err != nil {
		t.Fatal(err)
	}
	if c1.ID != c2.ID {
		t.Errorf("same crate got two rows: %d and %d", c1.ID, c2.ID)
	}
	if c2.Revision != 57 {
		t.Errorf("expected revision updated to 57, got %d", c2.Revision)
	}

	missing, err := db.GetCrate(ctx, "nope", "0.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing crate, got %+v", missing)
	}
}

func TestIndex_StoreLoad(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := graph.Identity{Name: "tokio", Version: "1.38.0", Revision: 57}

	t.Run("absent", func(t *testing.T) {
		_, err := db.Load(ctx, id)
		if !errors.Is(err, registry.ErrAbsent) {
			t.Fatalf("expected ErrAbsent, got %v", err)
		}
	})

	data := bytes.Repeat([]byte("postings "), 100)
	if err := db.Store(ctx, id, data); err != nil {
		t.Fatal(err)
	}

	t.Run("round_trip", func(t *testing.T) {
		got, err := db.Load(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round-trip failed: got %d bytes, want %d", len(got), len(data))
		}
	})

	t.Run("replace", func(t *testing.T) {
		if err := db.Store(ctx, id, []byte("v2")); err != nil {
			t.Fatal(err)
		}
		got, err := db.Load(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v2" {
			t.Errorf("got %q, want v2", got)
		}
	})

	t.Run("marked_indexed", func(t *testing.T) {
		c, err := db.GetCrate(ctx, "tokio", "1.38.0")
		if err != nil {
			t.Fatal(err)
		}
		if c == nil || c.IndexedAt == nil {
			t.Fatalf("expected indexed crate, got %+v", c)
		}
	})
}

func TestGetLatestCrate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Store(ctx, graph.Identity{Name: "rand", Version: "0.8.5"}, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := db.Store(ctx, graph.Identity{Name: "rand", Version: "0.9.0"}, []byte("b")); err != nil {
		t.Fatal(err)
	}
	// Catalogued but never indexed.
	if _, err := db.UpsertCrate(ctx, graph.Identity{Name: "rand", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetLatestCrate(ctx, "rand")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Version != "0.9.0" {
		t.Errorf("expected 0.9.0, got %+v", c)
	}
}

func TestCratesAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ids := []graph.Identity{
		{Name: "tokio", Version: "1.38.0", Revision: 57},
		{Name: "anyhow", Version: "1.0.86", Revision: 56},
	}
	for _, id := range ids {
		if err := db.Store(ctx, id, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	crates, err := db.Crates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(crates) != 2 || crates[0] != ids[1] || crates[1] != ids[0] {
		t.Fatalf("unexpected catalog %v", crates)
	}

	if err := db.DeleteCrate(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Load(ctx, ids[0]); !errors.Is(err, registry.ErrAbsent) {
		t.Errorf("expected deleted index to be absent, got %v", err)
	}

	if err := db.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	crates, err = db.Crates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(crates) != 0 {
		t.Errorf("expected empty catalog, got %v", crates)
	}
}

func TestNew_ReplacesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	if err := os.WriteFile(path, []byte("DUCK not sqlite"), 0644); err != nil {
		t.Fatal(err)
	}
	db, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Crates(context.Background()); err != nil {
		t.Fatal(err)
	}
}
