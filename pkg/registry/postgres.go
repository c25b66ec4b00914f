package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
)

type PostgresConfig struct {
	ConnString string
	Table      string
	// Pool is reused when set; closing it stays with the owner.
	Pool *pgxpool.Pool
}

type Postgres struct {
	table    string
	pool     *pgxpool.Pool
	ownsPool bool
	opts     options
}

var _ types.Registry = (*Postgres)(nil)

func NewPostgres(ctx context.Context, config PostgresConfig, opts ...Option) (*Postgres, error) {
	if config.Table == "" {
		config.Table = "rag_files"
	}
	if !tablePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid table name %q", config.Table)
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

	r := &Postgres{table: config.Table, pool: pool, ownsPool: owns, opts: buildOptions(opts)}
	if err := r.initialize(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Postgres) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id UUID PRIMARY KEY,
			filename TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'application/pdf',
			domain TEXT NOT NULL,
			sector TEXT NOT NULL,
			region TEXT NOT NULL DEFAULT 'global',
			jurisdictions TEXT[] NOT NULL DEFAULT ARRAY['general'],
			document_type TEXT NOT NULL DEFAULT 'guide',
			vector_status TEXT NOT NULL DEFAULT 'pending',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, r.table)
	if _, err := r.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %[1]s_lookup_idx
		ON %[1]s (domain, sector, vector_status)`, r.table)
	if _, err := r.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

const pgColumns = `id::text, filename, storage_path, content_type, domain, sector, region,
	jurisdictions, document_type, vector_status, chunk_count, last_accessed, created_at, updated_at`

func pgBind(n int) string { return fmt.Sprintf("$%d", n) }

func (r *Postgres) Register(ctx context.Context, doc models.Document, reindex bool) error {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return err
	}

	onConflict := ""
	if reindex {
		onConflict = fmt.Sprintf(`,
			vector_status = CASE WHEN %[1]s.vector_status = 'indexed' THEN 'expired' ELSE %[1]s.vector_status END,
			chunk_count = 0`, r.table)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, filename, storage_path, content_type, domain, sector, region,
			jurisdictions, document_type, vector_status, chunk_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', 0, $10, $10)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			storage_path = EXCLUDED.storage_path,
			content_type = EXCLUDED.content_type,
			domain = EXCLUDED.domain,
			sector = EXCLUDED.sector,
			region = EXCLUDED.region,
			jurisdictions = EXCLUDED.jurisdictions,
			document_type = EXCLUDED.document_type,
			updated_at = EXCLUDED.updated_at%s`, r.table, onConflict)

	_, err := r.pool.Exec(ctx, stmt,
		doc.ID, doc.Filename, doc.StoragePath, doc.ContentType,
		string(doc.Domain), string(doc.Sector), string(doc.Region),
		jurisdictionStrings(doc.Jurisdictions), string(doc.DocumentType),
		r.opts.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to register document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, id string) (models.Document, error) {
	id, err := models.CanonicalID(id)
	if err != nil {
		return models.Document{}, err
	}
	row := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", pgColumns, r.table), id)
	doc, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return doc, err
}

func (r *Postgres) List(ctx context.Context, filter models.FileFilter) ([]models.Document, error) {
	q := queryBuilder{bind: pgBind}
	q.fileFilter(filter)
	return r.query(ctx, q, "created_at DESC")
}

func (r *Postgres) Delete(ctx context.Context, id string) error {
	id, err := models.CanonicalID(id)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *Postgres) SetVectorStatus(ctx context.Context, id string, status models.VectorStatus, chunkCount int) error {
	id, err := models.CanonicalID(id)
	if err != nil {
		return err
	}
	chunkCount, err = checkStatusUpdate(status, chunkCount)
	if err != nil {
		return err
	}

	now := r.opts.now().UTC()
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET vector_status = $2, chunk_count = $3, last_accessed = $4, updated_at = $4
		WHERE id = $1 AND vector_status = ANY($5)`, r.table),
		id, string(status), chunkCount, now, sourceStatuses(status))
	if err != nil {
		return fmt.Errorf("failed to update vector status of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.VectorStatus, status)
	}
	return nil
}

func (r *Postgres) Touch(ctx context.Context, ids ...string) error {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET last_accessed = $1 WHERE id = ANY($2::uuid[])", r.table),
		r.opts.now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("failed to touch documents: %w", err)
	}
	return nil
}

func (r *Postgres) ListPending(ctx context.Context, domain models.Domain, sector models.Sector, region models.Region) ([]models.Document, error) {
	q := queryBuilder{bind: pgBind}
	q.pending(domain, sector, region)
	return r.query(ctx, q, "created_at ASC")
}

func (r *Postgres) ListStale(ctx context.Context, cutoff time.Time) ([]models.Document, error) {
	q := queryBuilder{bind: pgBind}
	q.eq("vector_status", string(models.StatusIndexed))
	q.raw(fmt.Sprintf("COALESCE(last_accessed, updated_at) < %s", q.next(cutoff.UTC())))
	return r.query(ctx, q, "COALESCE(last_accessed, updated_at) ASC")
}

func (r *Postgres) Close() error {
	if r.pool != nil && r.ownsPool {
		r.pool.Close()
	}
	return nil
}

func (r *Postgres) query(ctx context.Context, q queryBuilder, orderBy string) ([]models.Document, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s", pgColumns, r.table, q.where(), orderBy)
	rows, err := r.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return docs, nil
}

func scanPostgres(row pgx.Row) (models.Document, error) {
	var (
		doc                                     models.Document
		domain, sector, region, docType, status string
		jurisdictions                           []string
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.StoragePath, &doc.ContentType,
		&domain, &sector, &region, &jurisdictions, &docType, &status,
		&doc.ChunkCount, &doc.LastAccessed, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return doc, err
		}
		return doc, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Domain = models.Domain(domain)
	doc.Sector = models.Sector(sector)
	doc.Region = models.Region(region)
	doc.DocumentType = models.DocumentType(docType)
	doc.VectorStatus = models.VectorStatus(status)
	doc.Jurisdictions = make([]models.Jurisdiction, len(jurisdictions))
	for i, j := range jurisdictions {
		doc.Jurisdictions[i] = models.Jurisdiction(j)
	}
	return doc, nil
}

func jurisdictionStrings(js []models.Jurisdiction) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = string(j)
	}
	return out
}
