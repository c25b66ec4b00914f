package store

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/xhad/jurisrag/internal/models"
)

// Condition matches records whose scalar metadata field equals one of
// Values. One value is an equality test, several are a disjunction.
type Condition struct {
	Field  string
	Values []string
}

func Eq(field, value string) Condition {
	return Condition{Field: field, Values: []string{value}}
}

func AnyOf(field string, values ...string) Condition {
	return Condition{Field: field, Values: values}
}

// Filter is a conjunction of conditions. The zero Filter matches
// everything.
type Filter struct {
	Must []Condition
}

func NewFilter(conds ...Condition) Filter {
	return Filter{Must: conds}
}

func (f Filter) And(conds ...Condition) Filter {
	must := make([]Condition, 0, len(f.Must)+len(conds))
	must = append(must, f.Must...)
	must = append(must, conds...)
	return Filter{Must: must}
}

func (f Filter) Empty() bool { return len(f.Must) == 0 }

var fieldPattern = regexp.MustCompile(`^[a-z_]+$`)

// Validate rejects field names that are not plain identifiers and
// conditions without values.
func (f Filter) Validate() error {
	for _, c := range f.Must {
		if !fieldPattern.MatchString(c.Field) {
			return fmt.Errorf("invalid filter field %q", c.Field)
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("filter field %q has no values", c.Field)
		}
	}
	return nil
}

// Matches evaluates the filter against a metadata bag.
func (f Filter) Matches(md models.Metadata) bool {
	for _, c := range f.Must {
		if !slices.Contains(c.Values, md.String(c.Field)) {
			return false
		}
	}
	return true
}

// String renders the filter in the SQL-like form used by hosted vector
// indexes, e.g. domain = 'legal' AND (region = 'eu' OR region = 'global').
func (f Filter) String() string {
	parts := make([]string, 0, len(f.Must))
	for _, c := range f.Must {
		terms := make([]string, len(c.Values))
		for i, v := range c.Values {
			terms[i] = fmt.Sprintf("%s = '%s'", c.Field, strings.ReplaceAll(v, "'", "''"))
		}
		if len(terms) == 1 {
			parts = append(parts, terms[0])
		} else {
			parts = append(parts, "("+strings.Join(terms, " OR ")+")")
		}
	}
	return strings.Join(parts, " AND ")
}
