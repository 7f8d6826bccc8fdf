package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/typemap"
)

// TableResult reports the outcome of provisioning one table.
type TableResult struct {
	Table   string `json:"table"`
	Success bool   `json:"success"`
	DDL     string `json:"ddl"`
	Error   string `json:"error,omitempty"`
	// Recreated is set when an existing table with other columns was
	// dropped first.
	Recreated bool `json:"recreated,omitempty"`
}

// CreateNamespace creates the schema if it does not exist yet.
func (c *PostgresConnector) CreateNamespace(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("namespace name is required")
	}
	if _, err := c.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("create namespace %q: %w", name, err)
	}
	return nil
}

// DropNamespace drops the schema and everything in it.
func (c *PostgresConnector) DropNamespace(ctx context.Context, name string) error {
	if _, err := c.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{name}.Sanitize()+" CASCADE"); err != nil {
		return fmt.Errorf("drop namespace %q: %w", name, err)
	}
	return nil
}

// CreateTableDDL renders the CREATE TABLE statement for a source table:
// normalized names, mapped types, NOT NULL, converted defaults and a
// composite primary key. Foreign keys are left out so that tables can be
// loaded in any order.
func CreateTableDDL(ns string, t model.TableSchema) string {
	var b strings.Builder

	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(qualified(ns, typemap.NormalizeIdentifier(t.Name)))
	b.WriteString(" (\n")

	for i, col := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(pgx.Identifier{typemap.NormalizeIdentifier(col.Name)}.Sanitize())
		b.WriteString(" ")
		b.WriteString(typemap.MapType(col.DataType, col.ColumnType))

		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if def := typemap.ConvertDefault(col); def != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(def)
		}
	}

	if len(t.PrimaryKey) > 0 {
		b.WriteString(",\n  PRIMARY KEY (")
		quoted := make([]string, len(t.PrimaryKey))
		for i, pk := range t.PrimaryKey {
			quoted[i] = pgx.Identifier{typemap.NormalizeIdentifier(pk)}.Sanitize()
		}
		b.WriteString(strings.Join(quoted, ", "))
		b.WriteString(")")
	}

	b.WriteString("\n)")
	return b.String()
}

// CreateTable provisions one table. An existing table is kept when its
// columns match the source and dropped and created again when they do not,
// so a column added or removed at the source never leaves a table the rows
// cannot be loaded into. It never returns an error: a failure is reported in
// the result so the caller can carry on with the other tables.
func (c *PostgresConnector) CreateTable(ctx context.Context, ns string, t model.TableSchema) TableResult {
	res := TableResult{Table: typemap.NormalizeIdentifier(t.Name)}
	if len(t.Columns) == 0 {
		res.Error = fmt.Sprintf("table %q has no columns", t.Name)
		return res
	}
	res.DDL = CreateTableDDL(ns, t)

	existing, err := c.columnNames(ctx, ns, res.Table)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(existing) > 0 && ColumnsChanged(existing, t) {
		if err := c.DropTable(ctx, ns, res.Table); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Recreated = true
	}
	if _, err := c.db.ExecContext(ctx, res.DDL); err != nil {
		res.Error = err.Error()
		return res
	}
	c.kinds.Delete(qualified(ns, res.Table))
	res.Success = true
	return res
}

// ColumnsChanged reports whether the columns of an existing target table,
// in ordinal order, differ from the normalized columns of the source table.
// Only names are compared; a type change at the source keeps the table.
func ColumnsChanged(existing []string, t model.TableSchema) bool {
	if len(existing) != len(t.Columns) {
		return true
	}
	for i, col := range t.Columns {
		if existing[i] != typemap.NormalizeIdentifier(col.Name) {
			return true
		}
	}
	return false
}

func (c *PostgresConnector) columnNames(ctx context.Context, ns, table string) ([]string, error) {
	const query = `SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query, ns, table); err != nil {
		return nil, fmt.Errorf("columns of %q: %w", table, err)
	}
	return names, nil
}

// DropTable drops a table and its dependents.
func (c *PostgresConnector) DropTable(ctx context.Context, ns, table string) error {
	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+qualified(ns, table)+" CASCADE"); err != nil {
		return fmt.Errorf("drop table %q: %w", table, err)
	}
	c.kinds.Delete(qualified(ns, table))
	return nil
}

// TruncateTable removes every row of a table.
func (c *PostgresConnector) TruncateTable(ctx context.Context, ns, table string) error {
	if _, err := c.db.ExecContext(ctx, "TRUNCATE TABLE "+qualified(ns, table)); err != nil {
		return fmt.Errorf("truncate %q: %w", table, err)
	}
	return nil
}

// CountRows returns the number of rows in a table, or -1 when the table
// does not exist.
func (c *PostgresConnector) CountRows(ctx context.Context, ns, table string) (int64, error) {
	var exists bool
	if err := c.db.GetContext(ctx, &exists, "SELECT to_regclass($1) IS NOT NULL", qualified(ns, table)); err != nil {
		return 0, fmt.Errorf("lookup %q: %w", table, err)
	}
	if !exists {
		return -1, nil
	}
	var n int64
	if err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+qualified(ns, table)); err != nil {
		return 0, fmt.Errorf("count %q: %w", table, err)
	}
	return n, nil
}

type columnTypeRow struct {
	Name     string `db:"column_name"`
	DataType string `db:"data_type"`
}

// ColumnKinds returns the value kind of every column of a table.
func (c *PostgresConnector) ColumnKinds(ctx context.Context, ns, table string) (map[string]model.Kind, error) {
	const query = `SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	var rows []columnTypeRow
	if err := c.db.SelectContext(ctx, &rows, query, ns, table); err != nil {
		return nil, fmt.Errorf("column types of %q: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table %q not found in namespace %q", table, ns)
	}
	kinds := make(map[string]model.Kind, len(rows))
	for _, r := range rows {
		kinds[r.Name] = typemap.KindOf(r.DataType)
	}
	return kinds, nil
}

// SequenceName returns the sequence backing an auto-increment column.
func SequenceName(table, column string) string {
	name := table + "_" + column + "_seq"
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// FixSequenceStatements returns the statements that attach a sequence to an
// auto-increment column, positioned after the current maximum value.
func FixSequenceStatements(ns, table, column string) []string {
	seq := qualified(ns, SequenceName(table, column))
	tbl := qualified(ns, table)
	col := pgx.Identifier{column}.Sanitize()
	seqLiteral := "'" + strings.ReplaceAll(seq, "'", "''") + "'"

	return []string{
		"CREATE SEQUENCE IF NOT EXISTS " + seq,
		fmt.Sprintf("SELECT setval(%s::regclass, COALESCE((SELECT MAX(%s) FROM %s), 0)::bigint + 1, false)", seqLiteral, col, tbl),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT nextval(%s::regclass)", tbl, col, seqLiteral),
		fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s", seq, tbl, col),
	}
}

// FixSequence creates or repositions the sequence of an auto-increment
// column so rows inserted outside the sync still get increasing ids.
func (c *PostgresConnector) FixSequence(ctx context.Context, ns, table, column string) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fix sequence: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range FixSequenceStatements(ns, table, column) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("fix sequence %s.%s: %w", table, column, err)
		}
	}
	return tx.Commit()
}
