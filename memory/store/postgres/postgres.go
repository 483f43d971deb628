// Package postgres implements memory.RecordStore on PostgreSQL via pgx.
//
// Embeddings live in a plain real[] column and are brute-force scored in
// the engine; there is no vector index.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jarvisbrain/brain-go-sdk/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_memory (
	id               UUID PRIMARY KEY,
	owner            TEXT NOT NULL,
	memory_key       TEXT NOT NULL,
	content          JSONB NOT NULL,
	embedding        REAL[],
	importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	metadata         JSONB NOT NULL DEFAULT '{}',
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (owner, memory_key)
);
CREATE INDEX IF NOT EXISTS agent_memory_owner_importance_idx
	ON agent_memory (owner, importance DESC);
`

const recordColumns = `id, owner, memory_key, content, embedding, importance,
	metadata, access_count, last_accessed_at, created_at, updated_at`

// Store is the pgx-backed persistent tier.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool to connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool, shared with other subsystems.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the agent_memory table and indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the record for (owner, key). The row keeps its
// original id across updates, counts the re-store as an access, and only
// overwrites the embedding when the new write actually carries one.
func (s *Store) Upsert(ctx context.Context, rec *memory.Record) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agent_memory (id, owner, memory_key, content, embedding, importance, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner, memory_key) DO UPDATE SET
			content      = EXCLUDED.content,
			embedding    = COALESCE(EXCLUDED.embedding, agent_memory.embedding),
			importance   = EXCLUDED.importance,
			metadata     = EXCLUDED.metadata,
			access_count = agent_memory.access_count + 1,
			updated_at   = NOW()
		RETURNING id`,
		rec.ID, rec.Owner, rec.Key, []byte(rec.Content), rec.Embedding,
		rec.Importance, metadataOrEmpty(rec.Metadata),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert %s/%s: %w", rec.Owner, rec.Key, err)
	}
	return id, nil
}

// SearchText matches query as a literal, case-insensitive substring of the
// record key or serialized content. LIKE wildcards in query are escaped
// first so user input can never act as a pattern.
func (s *Store) SearchText(ctx context.Context, owner, query string, minImportance float64, limit int) ([]memory.Record, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM agent_memory
		WHERE owner = $1 AND importance >= $2
			AND (memory_key ILIKE $3 ESCAPE '\' OR content::text ILIKE $3 ESCAPE '\')
		ORDER BY importance DESC, last_accessed_at DESC
		LIMIT $4`,
		owner, minImportance, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search text: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Candidates returns the bounded, importance-ordered set of embedded
// records the engine scores by cosine similarity. Two fixed query
// variants; the owner filter is never assembled from user input.
func (s *Store) Candidates(ctx context.Context, owner string, minImportance float64, limit int) ([]memory.Record, error) {
	var (
		rows pgxRows
		err  error
	)
	if owner == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+recordColumns+`
			FROM agent_memory
			WHERE embedding IS NOT NULL AND importance >= $1
			ORDER BY importance DESC
			LIMIT $2`,
			minImportance, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+recordColumns+`
			FROM agent_memory
			WHERE owner = $1 AND embedding IS NOT NULL AND importance >= $2
			ORDER BY importance DESC
			LIMIT $3`,
			owner, minImportance, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Delete removes the record for (owner, key); deleting the row also drops
// its embedding. Reports memory.ErrNotFound when nothing matched.
func (s *Store) Delete(ctx context.Context, owner, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_memory WHERE owner = $1 AND memory_key = $2`,
		owner, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", owner, key, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Touch counts a successful read of the given rows.
func (s *Store) Touch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_memory
		SET access_count = access_count + 1, last_accessed_at = NOW()
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("touch records: %w", err)
	}
	return nil
}

// Stats aggregates the per-owner counters.
func (s *Store) Stats(ctx context.Context, owner string) (*memory.Stats, error) {
	var st memory.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(embedding),
			COALESCE(AVG(importance), 0),
			COALESCE(SUM(access_count), 0)
		FROM agent_memory
		WHERE owner = $1`,
		owner,
	).Scan(&st.TotalMemories, &st.WithEmbedding, &st.AvgImportance, &st.TotalAccesses)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", owner, err)
	}
	return &st, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// pgxRows is the subset of pgx.Rows scanRecords needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func scanRecords(rows pgxRows) ([]memory.Record, error) {
	var records []memory.Record
	for rows.Next() {
		var (
			rec     memory.Record
			content []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.Owner, &rec.Key, &content, &rec.Embedding,
			&rec.Importance, &rec.Metadata, &rec.AccessCount,
			&rec.LastAccessedAt, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Content = content
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func metadataOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// escapeLike escapes the LIKE/ILIKE wildcard characters so user text
// matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
