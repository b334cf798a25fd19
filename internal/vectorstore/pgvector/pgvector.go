package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"ragchat/internal/vectorstore"
)

const undefinedTable = "42P01"

// Pool is the subset of pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type Config struct {
	DSN   string
	Table string
}

// Storage keeps chunks in a postgres table with a pgvector column. The
// table is created on the first upsert with the dimension of the vectors.
type Storage struct {
	pool       Pool
	tableIdent string
	indexIdent string

	mu    sync.Mutex
	ready bool
}

type metadata struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	return NewWithPool(pool, cfg.Table), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool, table string) *Storage {
	if table == "" {
		table = "ragchat_chunks"
	}
	return &Storage{
		pool:       pool,
		tableIdent: pgx.Identifier{table}.Sanitize(),
		indexIdent: pgx.Identifier{table + "_source_idx"}.Sanitize(),
	}
}

func (p *Storage) ensureSchema(ctx context.Context, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, p.tableIdent, dimension)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	createIndex := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s ((metadata->>'source'))", p.indexIdent, p.tableIdent)
	if _, err := p.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	p.ready = true
	return nil
}

func (p *Storage) Upsert(ctx context.Context, records []vectorstore.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Embedding)
	for _, rec := range records {
		if len(rec.Embedding) != dim || dim == 0 {
			return fmt.Errorf("pgvector: record %q dimension mismatch", rec.ID)
		}
	}
	if err := p.ensureSchema(ctx, dim); err != nil {
		return err
	}
	tx, txErr := p.pool.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("pgvector: begin tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("pgvector: commit: %w", commitErr)
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, p.tableIdent)
	for _, rec := range records {
		meta, marshalErr := json.Marshal(metadata{Source: rec.Source, ChunkIndex: rec.Index})
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, marshalErr)
		}
		if _, execErr := tx.Exec(ctx, stmt, rec.ID, pgv.NewVector(rec.Embedding), rec.Text, meta, time.Now().UTC()); execErr != nil {
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, execErr)
		}
	}
	return nil
}

func (p *Storage) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	var b strings.Builder
	b.WriteString("SELECT id, document, metadata, 1 - (embedding <=> $1) AS score FROM ")
	b.WriteString(p.tableIdent)
	b.WriteString(" WHERE 1=1")
	args := []any{pgv.NewVector(vector)}
	if len(opts.Sources) > 0 {
		args = append(args, opts.Sources)
		fmt.Fprintf(&b, " AND metadata->>'source' = ANY($%d)", len(args))
	}
	if opts.MinScore > 0 {
		args = append(args, opts.MinScore)
		fmt.Fprintf(&b, " AND 1 - (embedding <=> $1) >= $%d", len(args))
	}
	args = append(args, topK)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 ASC LIMIT $%d", len(args))
	rows, err := p.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, p.mapErr("search", err)
	}
	defer rows.Close()
	results := make([]vectorstore.Match, 0, topK)
	for rows.Next() {
		var (
			id       string
			document string
			raw      []byte
			score    float64
		)
		if err := rows.Scan(&id, &document, &raw, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		var meta metadata
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata: %w", err)
			}
		}
		results = append(results, vectorstore.Match{
			ID:     id,
			Score:  score,
			Text:   document,
			Source: meta.Source,
			Index:  meta.ChunkIndex,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, p.mapErr("search rows", err)
	}
	return results, nil
}

// ListBySource uses keyset pagination on id; the cursor is the last id seen.
func (p *Storage) ListBySource(ctx context.Context, sources []string, cursor string, limit int) (vectorstore.Page, error) {
	if limit <= 0 {
		limit = 256
	}
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE metadata->>'source' = ANY($1) AND id > $2 ORDER BY id LIMIT $3",
		p.tableIdent,
	)
	rows, err := p.pool.Query(ctx, query, sources, cursor, limit)
	if err != nil {
		return vectorstore.Page{}, p.mapErr("list by source", err)
	}
	defer rows.Close()
	var page vectorstore.Page
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return vectorstore.Page{}, fmt.Errorf("pgvector: scan id: %w", err)
		}
		page.IDs = append(page.IDs, id)
	}
	if err := rows.Err(); err != nil {
		return vectorstore.Page{}, p.mapErr("list rows", err)
	}
	if len(page.IDs) == limit {
		page.Next = page.IDs[len(page.IDs)-1]
	}
	return page, nil
}

func (p *Storage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", p.tableIdent)
	if _, err := p.pool.Exec(ctx, stmt, ids); err != nil {
		if errors.Is(p.mapErr("delete", err), vectorstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *Storage) Close(context.Context) error {
	p.pool.Close()
	return nil
}

func (p *Storage) mapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("pgvector: %s: table %s: %w", op, p.tableIdent, vectorstore.ErrNotFound)
	}
	return fmt.Errorf("pgvector: %s: %w", op, err)
}
