package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gridforge/griddb/internal/errs"
	"github.com/gridforge/griddb/internal/logger"
)

// UpdateResult is the outcome of a data-changing statement.
type UpdateResult struct {
	Affected     int64
	LastInsertID int64 // 0 when the statement created no auto-increment id
}

// StatementResult pairs one statement of a transaction batch with its
// affected-row count.
type StatementResult struct {
	SQL      string
	Affected int64
}

// Counter is one row of a grouped count: the distinct combination of
// grouped field values and how many rows share it.
type Counter struct {
	Values map[string]any
	Count  int64
}

// Client executes queries against one schema, drawing connections from
// the endpoint's shared pool. It is safe for concurrent use as long as
// each concurrent caller carries its own consumer identity (WithConsumer).
type Client struct {
	pool   *Pool
	schema string
	log    *logger.Logger
}

// NewClient returns a Client for cfg.Database, sharing the endpoint pool
// held by reg.
func NewClient(reg *Registry, cfg *Config, log *logger.Logger) (*Client, error) {
	if cfg.Database == "" {
		return nil, errs.New(errs.KindConfiguration, "config must set database")
	}
	pool, err := reg.PoolFor(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		pool:   pool,
		schema: cfg.Database,
		log:    log.Component("client").WithField("schema", cfg.Database),
	}, nil
}

// NewClientWithPool binds a Client directly to a pool. Used by tests and
// by callers managing pool lifecycle themselves.
func NewClientWithPool(pool *Pool, schema string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{pool: pool, schema: schema, log: log.Component("client")}
}

// Pool exposes the underlying pool, for cleanup sweeps and transactions.
func (c *Client) Pool() *Pool {
	return c.pool
}

// Query executes sqlText and fetches all rows; a statement returning no
// rows yields an empty slice. The connection stays assigned to the
// calling consumer for reuse.
func (c *Client) Query(ctx context.Context, sqlText string) ([][]any, error) {
	c.log.SQL("query", sqlText)
	conn, err := c.pool.Get(ctx, c.schema)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, sqlText)
	if err != nil {
		c.log.ErrorWith("query failed", err)
		return nil, err
	}
	return rows, nil
}

// Update executes a data-changing statement. Statements auto-commit;
// use TransactionExecute or the pool's transaction calls for atomic
// multi-statement work.
func (c *Client) Update(ctx context.Context, sqlText string) (UpdateResult, error) {
	c.log.SQL("update", sqlText)
	conn, err := c.pool.Get(ctx, c.schema)
	if err != nil {
		return UpdateResult{}, err
	}
	affected, lastID, err := conn.Exec(ctx, sqlText)
	if err != nil {
		c.log.ErrorWith("update failed", err)
		return UpdateResult{}, err
	}
	return UpdateResult{Affected: affected, LastInsertID: lastID}, nil
}

// TransactionExecute runs the statements on one connection inside a
// single transaction, committing at the end. On any failure it rolls
// back and returns the error: all-or-nothing per batch.
func (c *Client) TransactionExecute(ctx context.Context, stmts []string) ([]StatementResult, error) {
	if len(stmts) == 0 {
		return nil, errs.New(errs.KindConfiguration, "empty statement list")
	}
	conn, err := c.pool.Get(ctx, c.schema)
	if err != nil {
		return nil, err
	}
	if _, _, err := conn.Exec(ctx, "START TRANSACTION"); err != nil {
		return nil, errs.Wrap(errs.KindConnection, "could not begin transaction", err)
	}

	results := make([]StatementResult, 0, len(stmts))
	for _, stmt := range stmts {
		c.log.SQL("transaction", stmt)
		affected, _, err := conn.Exec(ctx, stmt)
		if err != nil {
			if _, _, rbErr := conn.Exec(ctx, "ROLLBACK"); rbErr != nil {
				c.log.ErrorWith("rollback failed", rbErr)
			}
			return nil, err
		}
		results = append(results, StatementResult{SQL: stmt, Affected: affected})
	}

	if _, _, err := conn.Exec(ctx, "COMMIT"); err != nil {
		if _, _, rbErr := conn.Exec(ctx, "ROLLBACK"); rbErr != nil {
			c.log.ErrorWith("rollback failed", rbErr)
		}
		return nil, errs.Wrap(errs.KindConnection, "could not commit transaction", err)
	}
	return results, nil
}

// GetFields selects outFields (all fields when empty) from table under
// the given condition.
func (c *Client) GetFields(ctx context.Context, table string, outFields []string, cond *Condition) ([][]any, error) {
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return nil, err
	}
	columns := "*"
	if len(outFields) > 0 {
		columns, err = QuoteIdentList(outFields)
		if err != nil {
			return nil, err
		}
	}
	fragment, err := cond.Build()
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, fmt.Sprintf("SELECT %s FROM %s%s", columns, quotedTable, fragment))
}

// InsertFields inserts one row assigning values to fields. A field/value
// arity mismatch is a configuration error.
func (c *Client) InsertFields(ctx context.Context, table string, fields []string, values []any) (UpdateResult, error) {
	if len(fields) != len(values) {
		return UpdateResult{}, errs.Newf(errs.KindConfiguration,
			"mismatch between fields (%d) and values (%d)", len(fields), len(values))
	}
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return UpdateResult{}, err
	}
	quotedFields, err := QuoteIdentList(fields)
	if err != nil {
		return UpdateResult{}, err
	}
	escaped, err := EscapeValues(values)
	if err != nil {
		return UpdateResult{}, err
	}
	return c.Update(ctx, fmt.Sprintf("INSERT INTO %s ( %s ) VALUES ( %s )",
		quotedTable, quotedFields, strings.Join(escaped, ", ")))
}

// InsertDict inserts one row from a field→value map. Fields are emitted
// in sorted order so the generated SQL is deterministic.
func (c *Client) InsertDict(ctx context.Context, table string, dict map[string]any) (UpdateResult, error) {
	if len(dict) == 0 {
		return UpdateResult{}, errs.New(errs.KindConfiguration, "empty insert dict")
	}
	fields := sortedKeys(dict)
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = dict[f]
	}
	return c.InsertFields(ctx, table, fields, values)
}

// UpdateFields sets fields to values on every row matching the condition
// and returns the number of rows changed.
func (c *Client) UpdateFields(ctx context.Context, table string, fields []string, values []any, cond *Condition) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	if len(fields) != len(values) {
		return 0, errs.Newf(errs.KindConfiguration,
			"mismatch between fields (%d) and values (%d)", len(fields), len(values))
	}
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return 0, err
	}
	escaped, err := EscapeValues(values)
	if err != nil {
		return 0, err
	}
	assignments := make([]string, len(fields))
	for i, f := range fields {
		assignments[i] = fmt.Sprintf("%s = %s", QuoteIdent(f), escaped[i])
	}
	fragment, err := cond.Build()
	if err != nil {
		return 0, err
	}
	res, err := c.Update(ctx, fmt.Sprintf("UPDATE %s SET %s%s",
		quotedTable, strings.Join(assignments, ", "), fragment))
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// UpdateDict is UpdateFields with a field→value map, emitted in sorted
// field order.
func (c *Client) UpdateDict(ctx context.Context, table string, dict map[string]any, cond *Condition) (int64, error) {
	fields := sortedKeys(dict)
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = dict[f]
	}
	return c.UpdateFields(ctx, table, fields, values, cond)
}

// DeleteEntries removes every row matching the condition and returns the
// number of rows removed.
func (c *Client) DeleteEntries(ctx context.Context, table string, cond *Condition) (int64, error) {
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return 0, err
	}
	fragment, err := cond.Build()
	if err != nil {
		return 0, err
	}
	res, err := c.Update(ctx, fmt.Sprintf("DELETE FROM %s%s", quotedTable, fragment))
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// CountEntries counts the rows matching the condition.
func (c *Client) CountEntries(ctx context.Context, table string, cond *Condition) (int64, error) {
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return 0, err
	}
	fragment, err := cond.Build()
	if err != nil {
		return 0, err
	}
	rows, err := c.Query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quotedTable, fragment))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, errs.New(errs.KindQuery, "count query returned no rows")
	}
	return asInt64(rows[0][0])
}

// GetCounters counts rows per distinct combination of the given fields,
// grouped and ordered by that field list.
func (c *Client) GetCounters(ctx context.Context, table string, fields []string, cond *Condition) ([]Counter, error) {
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return nil, err
	}
	quotedFields, err := QuoteIdentList(fields)
	if err != nil {
		return nil, err
	}
	fragment, err := cond.Build()
	if err != nil {
		return nil, err
	}
	rows, err := c.Query(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM %s%s GROUP BY %s ORDER BY %s",
		quotedFields, quotedTable, fragment, quotedFields, quotedFields))
	if err != nil {
		return nil, err
	}

	counters := make([]Counter, 0, len(rows))
	for _, row := range rows {
		if len(row) != len(fields)+1 {
			return nil, errs.Newf(errs.KindQuery, "unexpected counter row width %d", len(row))
		}
		values := make(map[string]any, len(fields))
		for i, f := range fields {
			values[f] = row[i]
		}
		count, err := asInt64(row[len(fields)])
		if err != nil {
			return nil, err
		}
		counters = append(counters, Counter{Values: values, Count: count})
	}
	return counters, nil
}

// GetDistinctAttributeValues returns the distinct values of one field
// under the condition, ordered by that field.
func (c *Client) GetDistinctAttributeValues(ctx context.Context, table, field string, cond *Condition) ([]any, error) {
	quotedTable, err := QuoteIdentList([]string{table})
	if err != nil {
		return nil, err
	}
	quotedField, err := QuoteIdentList([]string{field})
	if err != nil {
		return nil, err
	}
	fragment, err := cond.Build()
	if err != nil {
		return nil, err
	}
	rows, err := c.Query(ctx, fmt.Sprintf("SELECT DISTINCT( %s ) FROM %s%s ORDER BY %s",
		quotedField, quotedTable, fragment, quotedField))
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			values = append(values, row[0])
		}
	}
	return values, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// asInt64 coerces a result cell to int64. The text protocol yields
// numeric aggregates as strings.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, errs.Wrap(errs.KindQuery, "non-numeric count value", err)
		}
		return parsed, nil
	default:
		return 0, errs.Newf(errs.KindQuery, "non-numeric count value of type %T", v)
	}
}
