// Package registry stores document records and their vector status.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xhad/jurisrag/internal/models"
)

var ErrInvalidTransition = errors.New("invalid vector status transition")

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sourceStatuses lists the states a document may move to target from.
func sourceStatuses(target models.VectorStatus) []string {
	var out []string
	for _, s := range []models.VectorStatus{models.StatusPending, models.StatusIndexed, models.StatusExpired} {
		if s.CanTransition(target) {
			out = append(out, string(s))
		}
	}
	return out
}

func checkStatusUpdate(status models.VectorStatus, chunkCount int) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unknown vector status %q", models.ErrInvalidInput, status)
	}
	if status != models.StatusIndexed {
		return 0, nil
	}
	if chunkCount <= 0 {
		return 0, fmt.Errorf("%w: indexed documents need a positive chunk count", models.ErrInvalidInput)
	}
	return chunkCount, nil
}

func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if canonical, err := models.CanonicalID(id); err == nil {
			out = append(out, canonical)
		}
	}
	return out
}

// queryBuilder accumulates WHERE clauses with dialect-specific placeholders.
type queryBuilder struct {
	clauses []string
	args    []any
	bind    func(n int) string
}

func (q *queryBuilder) next(v any) string {
	q.args = append(q.args, v)
	return q.bind(len(q.args))
}

func (q *queryBuilder) eq(col string, v any) {
	q.clauses = append(q.clauses, fmt.Sprintf("%s = %s", col, q.next(v)))
}

func (q *queryBuilder) in(col string, values ...string) {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = q.next(v)
	}
	q.clauses = append(q.clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
}

func (q *queryBuilder) raw(clause string) {
	q.clauses = append(q.clauses, clause)
}

func (q *queryBuilder) where() string {
	if len(q.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(q.clauses, " AND ")
}

func (q *queryBuilder) fileFilter(f models.FileFilter) {
	if f.Domain != "" {
		q.eq("domain", string(f.Domain))
	}
	if f.Sector != "" {
		q.eq("sector", string(f.Sector))
	}
	if f.Region != "" {
		q.eq("region", string(f.Region))
	}
	if f.DocumentType != "" {
		q.eq("document_type", string(f.DocumentType))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q.in("vector_status", statuses...)
	}
}

// pending selects lazy-load candidates. A specific region also admits
// global documents.
func (q *queryBuilder) pending(domain models.Domain, sector models.Sector, region models.Region) {
	q.in("vector_status", string(models.StatusPending), string(models.StatusExpired))
	q.eq("domain", string(domain))
	q.eq("sector", string(sector))
	if region != "" && region != models.RegionGlobal {
		q.in("region", string(region), string(models.RegionGlobal))
	}
}
