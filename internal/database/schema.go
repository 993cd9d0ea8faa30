package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gridforge/griddb/internal/errs"
	"github.com/gridforge/griddb/internal/logger"
)

// TableSpec is a declarative table definition. Only Fields is mandatory.
type TableSpec struct {
	// Fields maps column name to its type declaration,
	// e.g. "VARCHAR(255) NOT NULL DEFAULT 'Unknown'".
	Fields map[string]string

	// PrimaryKey lists the key columns; one entry for a simple key,
	// several for a composite one.
	PrimaryKey []string

	// Indexes and UniqueIndexes map index name to the indexed columns.
	Indexes       map[string][]string
	UniqueIndexes map[string][]string

	// ForeignKeys maps a local column to its target, "Table.Column" or
	// just "Table" when the target column shares the local name. Every
	// target table must be part of the same CreateTables call.
	ForeignKeys map[string]string

	Engine  string // default InnoDB
	Charset string // default latin1
}

// ViewSpec describes a view for CreateViews.
type ViewSpec struct {
	// Fields maps output alias to column expression,
	// e.g. "SumJobs" -> "SUM(`Jobs`)".
	Fields map[string]string

	// SelectFrom is the FROM clause body, including any joins.
	SelectFrom string

	// Clauses are AND-joined WHERE predicates.
	Clauses []string

	GroupBy []string
	OrderBy []string
}

const (
	defaultEngine  = "InnoDB"
	defaultCharset = "latin1"
)

// SchemaManager validates table and view specifications, resolves
// foreign-key dependency order, and emits the DDL through a Client.
type SchemaManager struct {
	client *Client
	log    *logger.Logger
}

// NewSchemaManager creates a manager over the given client.
func NewSchemaManager(client *Client, log *logger.Logger) *SchemaManager {
	if log == nil {
		log = logger.Nop()
	}
	return &SchemaManager{client: client, log: log.Component("schema")}
}

// CreateTables creates every table in specs in an order where each table
// is created only after all tables it foreign-keys into.
//
// If a table exists and force is false the call fails; with force the
// table is dropped and recreated empty. Foreign keys are emitted with
// ON DELETE RESTRICT.
func (m *SchemaManager) CreateTables(ctx context.Context, specs map[string]TableSpec, force bool) error {
	if len(specs) == 0 {
		return nil
	}
	for name, spec := range specs {
		if len(spec.Fields) == 0 {
			return errs.Newf(errs.KindConfiguration, "missing Fields in table %s", name)
		}
	}

	batches, err := resolveCreationOrder(specs)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		for _, name := range batch {
			if err := validateForeignKeys(name, specs); err != nil {
				return err
			}
		}
		for _, name := range batch {
			if err := m.checkTable(ctx, name, force); err != nil {
				return err
			}
			ddl := buildTableDDL(name, specs[name])
			if _, err := m.client.Update(ctx, ddl); err != nil {
				return err
			}
			m.log.Infof("table %s created", name)
		}
	}
	return nil
}

// resolveCreationOrder runs Kahn's algorithm over the foreign-key graph:
// each round extracts every table whose targets were already extracted.
// Tables left when a round extracts nothing are part of a cycle (or
// reference a table missing from specs).
func resolveCreationOrder(specs map[string]TableSpec) ([][]string, error) {
	remaining := make(map[string]bool, len(specs))
	for name := range specs {
		remaining[name] = true
	}
	created := make(map[string]bool, len(specs))

	var batches [][]string
	for len(remaining) > 0 {
		var batch []string
		for name := range remaining {
			ready := true
			for _, target := range specs[name].ForeignKeys {
				targetTable, _ := splitForeignKeyTarget(target, "")
				if !created[targetTable] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, name)
			}
		}
		if len(batch) == 0 {
			leftovers := make([]string, 0, len(remaining))
			for name := range remaining {
				leftovers = append(leftovers, name)
			}
			sort.Strings(leftovers)
			return nil, errs.Newf(errs.KindConfiguration,
				"circular or unresolvable foreign keys in %s", strings.Join(leftovers, ", "))
		}
		sort.Strings(batch)
		for _, name := range batch {
			delete(remaining, name)
			created[name] = true
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// validateForeignKeys checks that each declared foreign key references
// existing columns on both ends.
func validateForeignKeys(name string, specs map[string]TableSpec) error {
	spec := specs[name]
	for _, field := range sortedKeysOf(spec.ForeignKeys) {
		target := spec.ForeignKeys[field]
		targetTable, targetField := splitForeignKeyTarget(target, field)
		if _, ok := spec.Fields[field]; !ok {
			return errs.Newf(errs.KindConfiguration,
				"foreign key %s -> %s not defined in table %s", field, targetField, name)
		}
		targetSpec, ok := specs[targetTable]
		if !ok {
			return errs.Newf(errs.KindConfiguration,
				"foreign key %s references unknown table %s", field, targetTable)
		}
		if _, ok := targetSpec.Fields[targetField]; !ok {
			return errs.Newf(errs.KindConfiguration,
				"foreign key %s -> %s not defined in referenced table %s", field, targetField, targetTable)
		}
	}
	return nil
}

// splitForeignKeyTarget parses "Table.Column" or "Table"; localField is
// the fallback column name for the bare-table form.
func splitForeignKeyTarget(target, localField string) (table, field string) {
	table, field, found := strings.Cut(target, ".")
	if !found {
		return target, localField
	}
	return table, field
}

// checkTable verifies existence in the live schema. An existing table is
// an error without force, and dropped with it.
func (m *SchemaManager) checkTable(ctx context.Context, name string, force bool) error {
	rows, err := m.client.Query(ctx, "SHOW TABLES")
	if err != nil {
		return err
	}
	exists := false
	for _, row := range rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == name {
			exists = true
			break
		}
	}
	if !exists {
		return nil
	}
	if !force {
		return errs.Newf(errs.KindConfiguration, "table %s already exists", name)
	}
	_, err = m.client.Update(ctx, "DROP TABLE "+QuoteIdent(name))
	return err
}

// buildTableDDL emits the CREATE TABLE statement for one spec. Fields,
// indexes and foreign keys are iterated in sorted order so the DDL is
// deterministic.
func buildTableDDL(name string, spec TableSpec) string {
	var clauses []string

	for _, field := range sortedKeysOf(spec.Fields) {
		clauses = append(clauses, fmt.Sprintf("%s %s", QuoteIdent(field), spec.Fields[field]))
	}

	if len(spec.PrimaryKey) > 0 {
		quoted := make([]string, len(spec.PrimaryKey))
		for i, f := range spec.PrimaryKey {
			quoted[i] = QuoteIdent(f)
		}
		clauses = append(clauses, fmt.Sprintf("PRIMARY KEY ( %s )", strings.Join(quoted, ", ")))
	}

	for _, index := range sortedIndexKeys(spec.Indexes) {
		clauses = append(clauses, indexClause("INDEX", index, spec.Indexes[index]))
	}
	for _, index := range sortedIndexKeys(spec.UniqueIndexes) {
		clauses = append(clauses, indexClause("UNIQUE INDEX", index, spec.UniqueIndexes[index]))
	}

	for _, field := range sortedKeysOf(spec.ForeignKeys) {
		targetTable, targetField := splitForeignKeyTarget(spec.ForeignKeys[field], field)
		clauses = append(clauses, fmt.Sprintf(
			"FOREIGN KEY ( %s ) REFERENCES %s ( %s ) ON DELETE RESTRICT",
			QuoteIdent(field), QuoteIdent(targetTable), QuoteIdent(targetField)))
	}

	engine := spec.Engine
	if engine == "" {
		engine = defaultEngine
	}
	charset := spec.Charset
	if charset == "" {
		charset = defaultCharset
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n) ENGINE=%s DEFAULT CHARSET=%s",
		QuoteIdent(name), strings.Join(clauses, ",\n"), engine, charset)
}

func indexClause(kind, name string, fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = QuoteIdent(f)
	}
	return fmt.Sprintf("%s %s ( %s )", kind, QuoteIdent(name), strings.Join(quoted, ", "))
}

// CreateViews creates or replaces every view in specs. Matching the
// original contract, it is a no-op unless force is set: CREATE OR
// REPLACE always overwrites, so force is the explicit opt-in.
func (m *SchemaManager) CreateViews(ctx context.Context, specs map[string]ViewSpec, force bool) error {
	if !force {
		return nil
	}
	for _, name := range sortedViewKeys(specs) {
		stmt, err := buildViewDDL(name, specs[name])
		if err != nil {
			return err
		}
		if _, err := m.client.Query(ctx, stmt); err != nil {
			m.log.ErrorWith("cannot create view "+name, err)
			return err
		}
		m.log.Infof("view %s created", name)
	}
	return nil
}

func buildViewDDL(name string, spec ViewSpec) (string, error) {
	if len(spec.Fields) == 0 || spec.SelectFrom == "" {
		return "", errs.Newf(errs.KindConfiguration, "view %s needs Fields and SelectFrom", name)
	}

	columns := make([]string, 0, len(spec.Fields))
	for _, alias := range sortedKeysOf(spec.Fields) {
		columns = append(columns, fmt.Sprintf("%s AS %s", spec.Fields[alias], QuoteIdent(alias)))
	}

	parts := []string{
		fmt.Sprintf("CREATE OR REPLACE VIEW %s AS", QuoteIdent(name)),
		fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), spec.SelectFrom),
	}
	if len(spec.Clauses) > 0 {
		parts = append(parts, "WHERE "+strings.Join(spec.Clauses, " AND "))
	}
	if len(spec.GroupBy) > 0 {
		parts = append(parts, "GROUP BY "+strings.Join(spec.GroupBy, ", "))
	}
	if len(spec.OrderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(spec.OrderBy, ", "))
	}
	return strings.Join(parts, " "), nil
}

func sortedKeysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIndexKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedViewKeys(m map[string]ViewSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
