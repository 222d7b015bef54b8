// Package db is the SQLite storage backend: a catalog of the crate versions
// that have been indexed, plus their serialized search indexes.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
	"github.com/jcdickinson/ferrisdoc/internal/store"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	// A file that isn't SQLite is left over from something else; start over.
	if info, err := os.Stat(dbPath); err == nil && info.Size() >= 4 {
		f, err := os.Open(dbPath)
		if err == nil {
			header := make([]byte, 4)
			n, _ := f.Read(header)
			f.Close()
			if n >= 4 && string(header) != "SQLi" {
				slog.Warn("removing non-SQLite database file", "path", dbPath)
				os.Remove(dbPath)
			}
		}
	}

	dsn := "file:" + dbPath + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &DB{conn: conn}
	if err := d.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return d, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			indexed_at TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_name ON crates (name)`,

		`CREATE TABLE IF NOT EXISTS indexes (
			crate_id INTEGER PRIMARY KEY REFERENCES crates(id),
			data BLOB NOT NULL,
			size INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Crate operations ---

type Crate struct {
	ID         int
	Name       string
	Version    string
	Revision   int
	IndexedAt  *time.Time
	LastUsedAt time.Time
}

func (c *Crate) Identity() graph.Identity {
	return graph.Identity{Name: c.Name, Version: c.Version, Revision: c.Revision}
}

const crateColumns = `id, name, version, revision, indexed_at, last_used_at`

func scanCrate(row interface{ Scan(...any) error }) (*Crate, error) {
	var c Crate
	if err := row.Scan(&c.ID, &c.Name, &c.Version, &c.Revision, &c.IndexedAt, &c.LastUsedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) UpsertCrate(ctx context.Context, id graph.Identity) (*Crate, error) {
	name := graph.NormalizeName(id.Name)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO crates (name, version, revision) VALUES (?, ?, ?)
		 ON CONFLICT (name, version) DO UPDATE SET revision = EXCLUDED.revision`,
		name, id.Version, id.Revision,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting crate: %w", err)
	}
	c, err := db.GetCrate(ctx, name, id.Version)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("crate %s vanished after upsert", id)
	}
	return c, nil
}

func (db *DB) TouchCrate(ctx context.Context, crateID int) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE crates SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

// GetCrate returns nil when the crate is not in the catalog.
func (db *DB) GetCrate(ctx context.Context, name, version string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRowContext(ctx,
		`SELECT `+crateColumns+` FROM crates WHERE name = ? AND version = ?`,
		graph.NormalizeName(name), version,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting crate: %w", err)
	}
	return c, nil
}

// GetLatestCrate returns the most recently indexed version of a crate.
func (db *DB) GetLatestCrate(ctx context.Context, name string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRowContext(ctx,
		`SELECT `+crateColumns+`
		 FROM crates WHERE name = ? AND indexed_at IS NOT NULL
		 ORDER BY indexed_at DESC, id DESC LIMIT 1`, graph.NormalizeName(name),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest crate: %w", err)
	}
	return c, nil
}

func (db *DB) ListCrates(ctx context.Context) ([]Crate, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+crateColumns+` FROM crates ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing crates: %w", err)
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		c, err := scanCrate(rows)
		if err != nil {
			return nil, err
		}
		crates = append(crates, *c)
	}
	return crates, rows.Err()
}

// Crates lists the catalog as identities.
func (db *DB) Crates(ctx context.Context) ([]graph.Identity, error) {
	crates, err := db.ListCrates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Identity, len(crates))
	for i := range crates {
		out[i] = crates[i].Identity()
	}
	return out, nil
}

func (db *DB) DeleteCrate(ctx context.Context, id graph.Identity) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	name := graph.NormalizeName(id.Name)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM indexes WHERE crate_id IN (SELECT id FROM crates WHERE name = ? AND version = ?)`,
		name, id.Version,
	); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crates WHERE name = ? AND version = ?`, name, id.Version); err != nil {
		return fmt.Errorf("deleting crate: %w", err)
	}
	return tx.Commit()
}

// Clear empties the catalog.
func (db *DB) Clear(ctx context.Context) error {
	for _, q := range []string{`DELETE FROM indexes`, `DELETE FROM crates`} {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clearing database: %w", err)
		}
	}
	return nil
}

// --- Index operations ---

// Load returns the stored search index for id, or registry.ErrAbsent.
func (db *DB) Load(ctx context.Context, id graph.Identity) ([]byte, error) {
	var crateID int
	var blob []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT c.id, i.data FROM indexes i JOIN crates c ON c.id = i.crate_id
		 WHERE c.name = ? AND c.version = ?`,
		graph.NormalizeName(id.Name), id.Version,
	).Scan(&crateID, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if err := db.TouchCrate(ctx, crateID); err != nil {
		slog.Debug("failed to touch crate", "crate", id.String(), "error", err)
	}
	return store.Decompress(blob)
}

// Store records id in the catalog and replaces its search index.
func (db *DB) Store(ctx context.Context, id graph.Identity, data []byte) error {
	blob, err := store.Compress(data)
	if err != nil {
		return err
	}
	c, err := db.UpsertCrate(ctx, id)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO indexes (crate_id, data, size) VALUES (?, ?, ?)
		 ON CONFLICT (crate_id) DO UPDATE SET data = EXCLUDED.data, size = EXCLUDED.size`,
		c.ID, blob, len(data),
	); err != nil {
		return fmt.Errorf("storing index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE crates SET indexed_at = CURRENT_TIMESTAMP WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("marking crate indexed: %w", err)
	}
	return tx.Commit()
}
