package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/jurisrag/internal/models"
)

var ErrEmptyFilter = errors.New("refusing to delete with an empty filter")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type PgVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	// Pool is reused when set; the store then leaves closing it to the owner.
	Pool *pgxpool.Pool
}

// PgVectorStore keeps vectors in a Postgres table with the pgvector
// extension. Scores are cosine similarities.
type PgVectorStore struct {
	config   PgVectorConfig
	pool     *pgxpool.Pool
	ownsPool bool
}

func NewPgVectorStore(ctx context.Context, config PgVectorConfig) (*PgVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "rag_vectors"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if !identPattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	pool, owns := config.Pool, false
	if pool == nil {
		var err error
		pool, err = pgxpool.New(ctx, config.ConnString)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		owns = true
	}

	vs := &PgVectorStore{
		config:   config,
		pool:     pool,
		ownsPool: owns,
	}

	if err := vs.initialize(ctx); err != nil {
		vs.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgVectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			payload TEXT NOT NULL DEFAULT ''
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// hnsw keeps recall on small and growing tables, ivfflat needs data
	// before the lists are built.
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createFileIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_file_id_idx
		ON %s ((metadata->>'file_id'))`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createFileIndex)
	if err != nil {
		return fmt.Errorf("failed to create metadata index: %w", err)
	}

	return nil
}

// Upsert writes all records in one transaction.
func (vs *PgVectorStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			payload = EXCLUDED.payload`,
		vs.config.TableName)

	for _, rec := range records {
		if len(rec.Vector) != vs.config.VectorDim {
			return fmt.Errorf("record %s: expected dimension %d, got %d", rec.ID, vs.config.VectorDim, len(rec.Vector))
		}
		_, err = tx.Exec(ctx, stmt,
			rec.ID,
			pgvector.NewVector(rec.Vector),
			sanitizeMetadata(rec.Metadata),
			sanitizeUTF8(rec.Payload),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", rec.ID, err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (vs *PgVectorStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	where, args, err := buildWhere(filter, 3)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, metadata, payload
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName, where)

	args = append([]any{pgvector.NewVector(vector), topK}, args...)
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var (
			m     models.Match
			score float64
			md    map[string]any
		)
		if err := rows.Scan(&m.ID, &score, &md, &m.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.Score = float32(score)
		m.Metadata = md
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return matches, nil
}

func (vs *PgVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", vs.config.TableName), ids)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (vs *PgVectorStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return ErrEmptyFilter
	}
	where, args, err := buildWhere(filter, 1)
	if err != nil {
		return err
	}
	_, err = vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s %s", vs.config.TableName, where), args...)
	if err != nil {
		return fmt.Errorf("failed to delete vectors by filter: %w", err)
	}
	return nil
}

func (vs *PgVectorStore) Close() {
	if vs.pool != nil && vs.ownsPool {
		vs.pool.Close()
	}
}

// buildWhere renders a filter as a WHERE clause over the JSONB metadata
// column. Placeholders start at $start.
func buildWhere(filter Filter, start int) (string, []any, error) {
	if filter.Empty() {
		return "", nil, nil
	}
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}

	clauses := make([]string, 0, len(filter.Must))
	args := make([]any, 0, len(filter.Must))
	n := start
	for _, c := range filter.Must {
		if len(c.Values) == 1 {
			clauses = append(clauses, fmt.Sprintf("metadata->>'%s' = $%d", c.Field, n))
			args = append(args, c.Values[0])
		} else {
			clauses = append(clauses, fmt.Sprintf("metadata->>'%s' = ANY($%d)", c.Field, n))
			args = append(args, c.Values)
		}
		n++
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sanitizeMetadata(md models.Metadata) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if s, ok := v.(string); ok {
			v = sanitizeUTF8(s)
		}
		out[k] = v
	}
	return out
}

// sanitizeUTF8 drops invalid bytes and NULs, which Postgres text rejects.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		s = string(v)
	}
	return strings.ReplaceAll(s, "\x00", "")
}
