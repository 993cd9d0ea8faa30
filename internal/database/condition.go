package database

import (
	"fmt"
	"strings"

	"github.com/gridforge/griddb/internal/errs"
)

// Condition is a structured filter/order/limit request, built with a
// fluent API and rendered into a single SQL fragment by Build.
//
// Clause order is fixed: equality/IN entries in insertion order, then the
// timestamp bounds, then greater, then smaller, then ORDER BY, then
// LIMIT/OFFSET. Insertion order is preserved so output is deterministic.
//
// Usage:
//
//	frag, err := NewCondition().
//	    Where("Status", "Active").
//	    WhereIn("Site", []any{"CERN", "PIC"}).
//	    OrderBy("LastCheckTime:DESC").
//	    Limit(50).
//	    Build()
type Condition struct {
	eq       []eqClause
	tsColumn string
	newer    any
	older    any
	greater  []boundClause
	smaller  []boundClause
	orderBy  []string
	limit    int
	hasLimit bool
	offset   int
}

type eqClause struct {
	fields []string // len > 1 means composite row-value equality
	value  any
	isList bool
}

type boundClause struct {
	field string
	value any
}

// NewCondition returns an empty condition. Building it yields an empty
// fragment.
func NewCondition() *Condition {
	return &Condition{}
}

// Where adds an equality clause `field` = value.
func (c *Condition) Where(field string, value any) *Condition {
	c.eq = append(c.eq, eqClause{fields: []string{field}, value: value})
	return c
}

// WhereIn adds a membership clause `field` IN (values...).
func (c *Condition) WhereIn(field string, values []any) *Condition {
	c.eq = append(c.eq, eqClause{fields: []string{field}, value: values, isList: true})
	return c
}

// WhereTuple adds a composite-key membership clause
// (`f1`, `f2`) IN ((v11, v12), ...). Each tuple must match len(fields).
func (c *Condition) WhereTuple(fields []string, tuples [][]any) *Condition {
	values := make([]any, len(tuples))
	for i, t := range tuples {
		values[i] = t
	}
	c.eq = append(c.eq, eqClause{fields: fields, value: values, isList: true})
	return c
}

// Newer bounds the timestamp column from below: `col` >= bound.
func (c *Condition) Newer(col string, bound any) *Condition {
	c.tsColumn = col
	c.newer = bound
	return c
}

// Older bounds the timestamp column from above: `col` < bound.
func (c *Condition) Older(col string, bound any) *Condition {
	c.tsColumn = col
	c.older = bound
	return c
}

// Greater adds a lower-bound clause `field` >= value.
func (c *Condition) Greater(field string, value any) *Condition {
	c.greater = append(c.greater, boundClause{field, value})
	return c
}

// Smaller adds an upper-bound clause `field` < value.
func (c *Condition) Smaller(field string, value any) *Condition {
	c.smaller = append(c.smaller, boundClause{field, value})
	return c
}

// OrderBy appends ordering entries of the form "field", "field:ASC" or
// "field:DESC". Entries are emitted in the order given.
func (c *Condition) OrderBy(attrs ...string) *Condition {
	c.orderBy = append(c.orderBy, attrs...)
	return c
}

// Limit caps the number of rows.
func (c *Condition) Limit(n int) *Condition {
	c.limit = n
	c.hasLimit = true
	return c
}

// Offset skips rows; only emitted when a limit is set.
func (c *Condition) Offset(n int) *Condition {
	c.offset = n
	return c
}

// Build renders the condition fragment. An empty condition yields "".
// Validation failures (empty field name, unsupported order direction,
// unescapable value) return typed errors, never panics.
func (c *Condition) Build() (string, error) {
	if c == nil {
		return "", nil
	}

	var parts []string
	conj := "WHERE"

	appendClause := func(clause string) {
		parts = append(parts, conj+" "+clause)
		conj = "AND"
	}

	for _, e := range c.eq {
		name, err := eqFieldName(e.fields)
		if err != nil {
			return "", err
		}
		if e.isList {
			escaped, err := EscapeValue(e.value)
			if err != nil {
				return "", err
			}
			// EscapeValue renders slices as "(...)" already.
			appendClause(fmt.Sprintf("%s IN %s", name, escaped))
			continue
		}
		escaped, err := EscapeValue(e.value)
		if err != nil {
			return "", err
		}
		appendClause(fmt.Sprintf("%s = %s", name, escaped))
	}

	if c.tsColumn != "" {
		ts := QuoteIdent(c.tsColumn)
		if c.newer != nil {
			escaped, err := EscapeValue(c.newer)
			if err != nil {
				return "", err
			}
			appendClause(fmt.Sprintf("%s >= %s", ts, escaped))
		}
		if c.older != nil {
			escaped, err := EscapeValue(c.older)
			if err != nil {
				return "", err
			}
			appendClause(fmt.Sprintf("%s < %s", ts, escaped))
		}
	}

	for _, b := range c.greater {
		if b.field == "" {
			return "", errs.New(errs.KindConfiguration, "empty field in greater bound")
		}
		escaped, err := EscapeValue(b.value)
		if err != nil {
			return "", err
		}
		appendClause(fmt.Sprintf("%s >= %s", QuoteIdent(b.field), escaped))
	}

	for _, b := range c.smaller {
		if b.field == "" {
			return "", errs.New(errs.KindConfiguration, "empty field in smaller bound")
		}
		escaped, err := EscapeValue(b.value)
		if err != nil {
			return "", err
		}
		appendClause(fmt.Sprintf("%s < %s", QuoteIdent(b.field), escaped))
	}

	orderPart, err := buildOrderBy(c.orderBy)
	if err != nil {
		return "", err
	}
	if orderPart != "" {
		parts = append(parts, orderPart)
	}

	if c.hasLimit {
		if c.offset > 0 {
			parts = append(parts, fmt.Sprintf("LIMIT %d OFFSET %d", c.limit, c.offset))
		} else {
			parts = append(parts, fmt.Sprintf("LIMIT %d", c.limit))
		}
	}

	if len(parts) == 0 {
		return "", nil
	}
	return " " + strings.Join(parts, " "), nil
}

func eqFieldName(fields []string) (string, error) {
	for _, f := range fields {
		if f == "" {
			return "", errs.New(errs.KindConfiguration, "empty field name in condition")
		}
	}
	switch len(fields) {
	case 0:
		return "", errs.New(errs.KindConfiguration, "condition clause without field name")
	case 1:
		return QuoteIdent(fields[0]), nil
	default:
		list, err := QuoteIdentList(fields)
		if err != nil {
			return "", err
		}
		return "(" + list + ")", nil
	}
}

func buildOrderBy(attrs []string) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	entries := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if attr == "" {
			return "", errs.New(errs.KindConfiguration, "empty order attribute")
		}
		field, dir, found := strings.Cut(attr, ":")
		if field == "" {
			return "", errs.Newf(errs.KindConfiguration, "invalid order attribute %q", attr)
		}
		if !found {
			entries = append(entries, QuoteIdent(field))
			continue
		}
		dir = strings.ToUpper(dir)
		if dir != "ASC" && dir != "DESC" {
			return "", errs.Newf(errs.KindConfiguration, "invalid order direction in %q", attr)
		}
		entries = append(entries, QuoteIdent(field)+" "+dir)
	}
	return "ORDER BY " + strings.Join(entries, ", "), nil
}
