package mysql

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/faucetdb/reservoir/internal/model"
)

// columnRow holds the result of querying information_schema.columns for MySQL.
type columnRow struct {
	TableName  string  `db:"TABLE_NAME"`
	ColumnName string  `db:"COLUMN_NAME"`
	DataType   string  `db:"DATA_TYPE"`
	ColumnType string  `db:"COLUMN_TYPE"`
	IsNullable string  `db:"IS_NULLABLE"`
	ColumnKey  string  `db:"COLUMN_KEY"`
	Default    *string `db:"COLUMN_DEFAULT"`
	MaxLength  *int64  `db:"CHARACTER_MAXIMUM_LENGTH"`
	Precision  *int64  `db:"NUMERIC_PRECISION"`
	Scale      *int64  `db:"NUMERIC_SCALE"`
	Position   int     `db:"ORDINAL_POSITION"`
	Extra      string  `db:"EXTRA"`
	Comment    string  `db:"COLUMN_COMMENT"`
}

// fkRow holds one column of a foreign key constraint.
type fkRow struct {
	ConstraintName   string `db:"CONSTRAINT_NAME"`
	TableName        string `db:"TABLE_NAME"`
	ColumnName       string `db:"COLUMN_NAME"`
	ReferencedTable  string `db:"REFERENCED_TABLE_NAME"`
	ReferencedColumn string `db:"REFERENCED_COLUMN_NAME"`
	Ordinal          int    `db:"ORDINAL_POSITION"`
	DeleteRule       string `db:"DELETE_RULE"`
	UpdateRule       string `db:"UPDATE_RULE"`
}

// Introspect returns the normalized schema of the configured database: the
// table list once, then per table its columns, keys and exact row count, and
// every foreign key fetched in a single catalog query.
func (c *MySQLConnector) Introspect(ctx context.Context) (*model.Schema, error) {
	names, err := c.GetTableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	fks, err := c.ForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	fkMap := make(map[string][]model.ForeignKey)
	for _, fk := range fks {
		fkMap[fk.SourceTable] = append(fkMap[fk.SourceTable], fk)
	}

	schema := &model.Schema{
		Database:    c.schemaName,
		Tables:      make([]model.TableSchema, 0, len(names)),
		ForeignKeys: fks,
	}
	for _, name := range names {
		ts, err := c.IntrospectTable(ctx, name)
		if err != nil {
			return nil, err
		}
		if fk := fkMap[name]; fk != nil {
			ts.ForeignKeys = fk
		}
		schema.Tables = append(schema.Tables, *ts)
	}
	return schema, nil
}

// IntrospectTable returns columns, primary key, auto-increment column and
// row count for one base table. A table without columns is an error.
func (c *MySQLConnector) IntrospectTable(ctx context.Context, tableName string) (*model.TableSchema, error) {
	columns, err := c.fetchColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("introspect columns for %q: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q has no columns in schema %q", tableName, c.schemaName)
	}

	pkCols, err := c.fetchPrimaryKey(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("introspect primary key for %q: %w", tableName, err)
	}
	pkSet := make(map[string]bool, len(pkCols))
	for _, pk := range pkCols {
		pkSet[pk] = true
	}

	count, err := c.CountRows(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("count rows of %q: %w", tableName, err)
	}

	modelColumns := make([]model.Column, 0, len(columns))
	for _, col := range columns {
		modelColumns = append(modelColumns, model.Column{
			Name:            col.ColumnName,
			Position:        col.Position,
			DataType:        col.DataType,
			ColumnType:      col.ColumnType,
			Nullable:        col.IsNullable == "YES",
			Default:         col.Default,
			MaxLength:       col.MaxLength,
			Precision:       col.Precision,
			Scale:           col.Scale,
			IsPrimaryKey:    pkSet[col.ColumnName],
			IsAutoIncrement: strings.Contains(strings.ToLower(col.Extra), "auto_increment"),
			Extra:           col.Extra,
			Comment:         col.Comment,
		})
	}

	return &model.TableSchema{
		Name:        tableName,
		Columns:     modelColumns,
		PrimaryKey:  pkCols,
		ForeignKeys: []model.ForeignKey{},
		RowCount:    count,
	}, nil
}

// GetTableNames returns the base tables of the configured schema. Views are
// not synced.
func (c *MySQLConnector) GetTableNames(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query, c.schemaName); err != nil {
		return nil, fmt.Errorf("get table names: %w", err)
	}
	return names, nil
}

// ForeignKeys returns every foreign key constraint in the schema, composite
// keys kept as one constraint with ordered column pairs.
func (c *MySQLConnector) ForeignKeys(ctx context.Context) ([]model.ForeignKey, error) {
	const query = `SELECT
			kcu.CONSTRAINT_NAME,
			kcu.TABLE_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME,
			kcu.ORDINAL_POSITION,
			rc.DELETE_RULE,
			rc.UPDATE_RULE
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
			AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
			AND kcu.TABLE_NAME = rc.TABLE_NAME
		WHERE kcu.TABLE_SCHEMA = ?
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.TABLE_NAME, kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`

	var rows []fkRow
	if err := c.db.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return groupForeignKeys(rows), nil
}

// groupForeignKeys folds per-column catalog rows into constraints ordered
// by table and name, with column pairs in ordinal order.
func groupForeignKeys(rows []fkRow) []model.ForeignKey {
	sorted := append([]fkRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TableName != b.TableName {
			return a.TableName < b.TableName
		}
		if a.ConstraintName != b.ConstraintName {
			return a.ConstraintName < b.ConstraintName
		}
		return a.Ordinal < b.Ordinal
	})

	out := []model.ForeignKey{}
	for _, r := range sorted {
		n := len(out)
		if n == 0 || out[n-1].SourceTable != r.TableName || out[n-1].Name != r.ConstraintName {
			out = append(out, model.ForeignKey{
				Name:        r.ConstraintName,
				SourceTable: r.TableName,
				TargetTable: r.ReferencedTable,
				OnDelete:    r.DeleteRule,
				OnUpdate:    r.UpdateRule,
			})
			n++
		}
		out[n-1].Columns = append(out[n-1].Columns, model.ColumnPair{Source: r.ColumnName, Target: r.ReferencedColumn})
	}
	return out
}

func (c *MySQLConnector) fetchColumns(ctx context.Context, tableName string) ([]columnRow, error) {
	const query = `SELECT
			c.TABLE_NAME,
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.COLUMN_TYPE,
			c.IS_NULLABLE,
			c.COLUMN_KEY,
			c.COLUMN_DEFAULT,
			c.CHARACTER_MAXIMUM_LENGTH,
			c.NUMERIC_PRECISION,
			c.NUMERIC_SCALE,
			c.ORDINAL_POSITION,
			c.EXTRA,
			c.COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ?
		ORDER BY c.ORDINAL_POSITION`

	var rows []columnRow
	if err := c.db.SelectContext(ctx, &rows, query, c.schemaName, tableName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	const query = `SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`

	cols := []string{}
	if err := c.db.SelectContext(ctx, &cols, query, c.schemaName, tableName); err != nil {
		return nil, err
	}
	return cols, nil
}
