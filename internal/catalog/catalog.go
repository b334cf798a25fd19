// Package catalog records which sources have been ingested.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"ragchat/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS sources (
	source TEXT PRIMARY KEY,
	size_bytes INTEGER NOT NULL,
	content_length INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	ingested_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

type row struct {
	Source        string `db:"source"`
	SizeBytes     int64  `db:"size_bytes"`
	ContentLength int    `db:"content_length"`
	ChunkCount    int    `db:"chunk_count"`
	IngestedAt    int64  `db:"ingested_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r row) entry() domain.SourceEntry {
	return domain.SourceEntry{
		Source:        r.Source,
		SizeBytes:     r.SizeBytes,
		ContentLength: r.ContentLength,
		ChunkCount:    r.ChunkCount,
		IngestedAt:    time.Unix(0, r.IngestedAt).UTC(),
		UpdatedAt:     time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// Store is the SQLite-backed source catalog.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the database at path (":memory:" works for tests) and
// creates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Record inserts or replaces the entry for e.Source. The first ingestion
// time is preserved across re-ingestions.
func (s *Store) Record(ctx context.Context, e domain.SourceEntry) (domain.SourceEntry, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO sources (source, size_bytes, content_length, chunk_count, ingested_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
    size_bytes = excluded.size_bytes,
    content_length = excluded.content_length,
    chunk_count = excluded.chunk_count,
    updated_at = excluded.updated_at`,
		e.Source, e.SizeBytes, e.ContentLength, e.ChunkCount, now.UnixNano(), now.UnixNano())
	if err != nil {
		return domain.SourceEntry{}, domain.Wrap(domain.KindStoreUnavailable, err, "catalog unavailable")
	}
	return s.Get(ctx, e.Source)
}

// Get returns the entry for source or a NotFound error.
func (s *Store) Get(ctx context.Context, source string) (domain.SourceEntry, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM sources WHERE source = ?`, source)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SourceEntry{}, domain.Errorf(domain.KindNotFound, "source %q not found", source)
	}
	if err != nil {
		return domain.SourceEntry{}, domain.Wrap(domain.KindStoreUnavailable, err, "catalog unavailable")
	}
	return r.entry(), nil
}

// List returns all entries ordered by source name.
func (s *Store) List(ctx context.Context) ([]domain.SourceEntry, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sources ORDER BY source`); err != nil {
		return nil, domain.Wrap(domain.KindStoreUnavailable, err, "catalog unavailable")
	}
	out := make([]domain.SourceEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

// Delete removes the entry and reports whether it existed.
func (s *Store) Delete(ctx context.Context, source string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE source = ?`, source)
	if err != nil {
		return false, domain.Wrap(domain.KindStoreUnavailable, err, "catalog unavailable")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Wrap(domain.KindStoreUnavailable, err, "catalog unavailable")
	}
	return n > 0, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
