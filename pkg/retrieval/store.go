package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// Collection describes a built vector collection.
type Collection struct {
	Name      string    `json:"collection_name"`
	Embedder  string    `json:"embedder"`
	Dims      int       `json:"dims"`
	Documents int       `json:"document_count"`
	Chunks    int       `json:"chunk_count"`
	BuiltAt   time.Time `json:"built_at"`
}

// Hit is one search result. Score is cosine similarity clamped to [0, 1].
type Hit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Store persists chunk embeddings in SQLite. Search is a linear cosine scan.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the store at path. ":memory:" keeps it in memory.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes serialize anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initializeSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize vector store schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			embedder TEXT NOT NULL,
			dims INTEGER NOT NULL,
			documents INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			built_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Collection returns the named collection, or nil if it has not been built.
func (s *Store) Collection(ctx context.Context, name string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, embedder, dims, documents, chunks, built_at FROM collections WHERE name = ?`, name)

	var c Collection
	var builtAt string
	if err := row.Scan(&c.Name, &c.Embedder, &c.Dims, &c.Documents, &c.Chunks, &builtAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	c.BuiltAt, _ = time.Parse(time.RFC3339, builtAt)
	return &c, nil
}

// Replace swaps the collection's contents for chunks in one transaction.
func (s *Store) Replace(ctx context.Context, c Collection, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("have %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, c.Name); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", c.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (collection, id, doc_id, seq, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", ch.ID, err)
		}
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to encode embedding for %s: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.Name, ch.ID, ch.DocID, ch.Seq, ch.Content, string(meta), string(vec)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}

	c.Chunks = len(chunks)
	if c.BuiltAt.IsZero() {
		c.BuiltAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO collections (name, embedder, dims, documents, chunks, built_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.Name, c.Embedder, c.Dims, c.Documents, c.Chunks, c.BuiltAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record collection %s: %w", c.Name, err)
	}

	return tx.Commit()
}

// Drop deletes a collection and its chunks.
func (s *Store) Drop(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	return err
}

// Search returns the k chunks most similar to query, best first.
func (s *Store) Search(ctx context.Context, collection string, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM chunks WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var meta sql.NullString
		var raw string
		if err := rows.Scan(&h.ID, &h.Content, &meta, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("failed to decode embedding for %s: %w", h.ID, err)
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &h.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", h.ID, err)
			}
		}
		h.Score = clamp01(Cosine(query, vec))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
