package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
)

// SQLite is the embedded registry used for local runs. Jurisdictions are
// stored comma-joined and timestamps as unix nanoseconds.
type SQLite struct {
	db    *sql.DB
	table string
	opts  options
}

var _ types.Registry = (*SQLite)(nil)

// NewSQLite opens (or creates) the registry database at path. ":memory:"
// keeps it in memory.
func NewSQLite(path, table string, opts ...Option) (*SQLite, error) {
	if table == "" {
		table = "rag_files"
	}
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	r := &SQLite{db: db, table: table, opts: buildOptions(opts)}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLite) initialize() error {
	_, err := r.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'application/pdf',
			domain TEXT NOT NULL,
			sector TEXT NOT NULL,
			region TEXT NOT NULL DEFAULT 'global',
			jurisdictions TEXT NOT NULL DEFAULT 'general',
			document_type TEXT NOT NULL DEFAULT 'guide',
			vector_status TEXT NOT NULL DEFAULT 'pending',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			last_accessed INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_lookup_idx ON %[1]s (domain, sector, vector_status);
	`, r.table))
	if err != nil {
		return fmt.Errorf("creating %s table: %w", r.table, err)
	}
	return nil
}

const sqliteColumns = `id, filename, storage_path, content_type, domain, sector, region,
	jurisdictions, document_type, vector_status, chunk_count, last_accessed, created_at, updated_at`

func sqliteBind(int) string { return "?" }

func (r *SQLite) Register(ctx context.Context, doc models.Document, reindex bool) error {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return err
	}

	onConflict := ""
	if reindex {
		onConflict = `,
			vector_status = CASE WHEN vector_status = 'indexed' THEN 'expired' ELSE vector_status END,
			chunk_count = 0`
	}

	now := r.opts.now().UnixNano()
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, filename, storage_path, content_type, domain, sector, region,
			jurisdictions, document_type, vector_status, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			storage_path = excluded.storage_path,
			content_type = excluded.content_type,
			domain = excluded.domain,
			sector = excluded.sector,
			region = excluded.region,
			jurisdictions = excluded.jurisdictions,
			document_type = excluded.document_type,
			updated_at = excluded.updated_at%s`, r.table, onConflict),
		doc.ID, doc.Filename, doc.StoragePath, doc.ContentType,
		string(doc.Domain), string(doc.Sector), string(doc.Region),
		models.JoinJurisdictions(doc.Jurisdictions), string(doc.DocumentType),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("registering document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *SQLite) Get(ctx context.Context, id string) (models.Document, error) {
	id, err := models.CanonicalID(id)
	if err != nil {
		return models.Document{}, err
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", sqliteColumns, r.table), id)
	doc, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return doc, err
}

func (r *SQLite) List(ctx context.Context, filter models.FileFilter) ([]models.Document, error) {
	q := queryBuilder{bind: sqliteBind}
	q.fileFilter(filter)
	return r.query(ctx, q, "created_at DESC, id")
}

func (r *SQLite) Delete(ctx context.Context, id string) error {
	id, err := models.CanonicalID(id)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.table), id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *SQLite) SetVectorStatus(ctx context.Context, id string, status models.VectorStatus, chunkCount int) error {
	id, err := models.CanonicalID(id)
	if err != nil {
		return err
	}
	chunkCount, err = checkStatusUpdate(status, chunkCount)
	if err != nil {
		return err
	}

	now := r.opts.now().UnixNano()
	q := queryBuilder{bind: sqliteBind}
	q.eq("id", id)
	q.in("vector_status", sourceStatuses(status)...)
	args := append([]any{string(status), chunkCount, now, now}, q.args...)

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET vector_status = ?, chunk_count = ?, last_accessed = ?, updated_at = ? %s",
		r.table, q.where()), args...)
	if err != nil {
		return fmt.Errorf("updating vector status of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.VectorStatus, status)
	}
	return nil
}

func (r *SQLite) Touch(ctx context.Context, ids ...string) error {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	q := queryBuilder{bind: sqliteBind}
	q.in("id", ids...)
	args := append([]any{r.opts.now().UnixNano()}, q.args...)

	_, err := r.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET last_accessed = ? %s", r.table, q.where()), args...)
	if err != nil {
		return fmt.Errorf("touching documents: %w", err)
	}
	return nil
}

func (r *SQLite) ListPending(ctx context.Context, domain models.Domain, sector models.Sector, region models.Region) ([]models.Document, error) {
	q := queryBuilder{bind: sqliteBind}
	q.pending(domain, sector, region)
	return r.query(ctx, q, "created_at ASC, id")
}

func (r *SQLite) ListStale(ctx context.Context, cutoff time.Time) ([]models.Document, error) {
	q := queryBuilder{bind: sqliteBind}
	q.eq("vector_status", string(models.StatusIndexed))
	q.raw(fmt.Sprintf("COALESCE(last_accessed, updated_at) < %s", q.next(cutoff.UnixNano())))
	return r.query(ctx, q, "COALESCE(last_accessed, updated_at) ASC, id")
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

func (r *SQLite) query(ctx context.Context, q queryBuilder, orderBy string) ([]models.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s", sqliteColumns, r.table, q.where(), orderBy),
		q.args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (models.Document, error) {
	var (
		doc                                     models.Document
		domain, sector, region, docType, status string
		jurisdictions                           string
		lastAccessed                            sql.NullInt64
		createdAt, updatedAt                    int64
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.StoragePath, &doc.ContentType,
		&domain, &sector, &region, &jurisdictions, &docType, &status,
		&doc.ChunkCount, &lastAccessed, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, err
		}
		return doc, fmt.Errorf("scanning document: %w", err)
	}

	doc.Domain = models.Domain(domain)
	doc.Sector = models.Sector(sector)
	doc.Region = models.Region(region)
	doc.Jurisdictions = models.SplitJurisdictions(jurisdictions)
	doc.DocumentType = models.DocumentType(docType)
	doc.VectorStatus = models.VectorStatus(status)
	doc.CreatedAt = time.Unix(0, createdAt).UTC()
	doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if lastAccessed.Valid {
		t := time.Unix(0, lastAccessed.Int64).UTC()
		doc.LastAccessed = &t
	}
	return doc, nil
}
