package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/typemap"
)

const (
	// DefaultBatchSize is the number of rows per INSERT statement.
	DefaultBatchSize = 2000
	// MaxPlaceholders is PostgreSQL's limit on bind parameters per statement.
	MaxPlaceholders = 65535
)

// BatchSize returns the rows per statement for a table of the given width,
// never letting a statement exceed MaxPlaceholders parameters.
func BatchSize(requested, columns int) int {
	if requested <= 0 {
		requested = DefaultBatchSize
	}
	if columns <= 0 {
		return requested
	}
	limit := MaxPlaceholders / columns
	if limit < 1 {
		limit = 1
	}
	if requested > limit {
		return limit
	}
	return requested
}

// InsertStatement renders a multi-row INSERT for rows, coercing each value
// to the kind of its target column. Columns missing from kinds are passed
// through unchanged.
func InsertStatement(ns, table string, columns []string, kinds map[string]model.Kind, rows [][]model.Value) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualified(ns, table))
	b.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{col}.Sanitize())
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for r, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), len(columns))
		}
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			n++

			if kind, ok := kinds[columns[i]]; ok {
				cv, err := v.Coerce(kind)
				if err != nil {
					return "", nil, fmt.Errorf("column %q: %w", columns[i], err)
				}
				v = cv
			}
			args = append(args, v.Any())
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

// BulkInsert loads a chunk of source rows into ns.table in one transaction,
// split into statements of at most batchSize rows. Source column names are
// normalized to match the provisioned table. It returns the rows written.
func (c *PostgresConnector) BulkInsert(ctx context.Context, ns, table string, rs *model.ResultSet, batchSize int) (int64, error) {
	if rs.Len() == 0 {
		return 0, nil
	}

	kinds, err := c.cachedKinds(ctx, ns, table)
	if err != nil {
		return 0, err
	}
	columns := make([]string, len(rs.Columns))
	for i, col := range rs.Columns {
		columns[i] = typemap.NormalizeIdentifier(col.Name)
	}
	size := BatchSize(batchSize, len(columns))

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk insert %q: %w", table, err)
	}
	defer tx.Rollback()

	var written int64
	for start := 0; start < len(rs.Rows); start += size {
		end := min(start+size, len(rs.Rows))
		stmt, args, err := InsertStatement(ns, table, columns, kinds, rs.Rows[start:end])
		if err != nil {
			return 0, fmt.Errorf("bulk insert %q: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("bulk insert %q rows %d-%d: %w", table, start, end, err)
		}
		written += int64(end - start)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk insert %q: commit: %w", table, err)
	}
	return written, nil
}

func (c *PostgresConnector) cachedKinds(ctx context.Context, ns, table string) (map[string]model.Kind, error) {
	key := qualified(ns, table)
	if v, ok := c.kinds.Load(key); ok {
		return v.(map[string]model.Kind), nil
	}
	kinds, err := c.ColumnKinds(ctx, ns, table)
	if err != nil {
		return nil, err
	}
	c.kinds.Store(key, kinds)
	return kinds, nil
}
