package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/reservoir/internal/model"
)

// DecodeFunc turns one raw driver value into a tagged value, given the
// column's database type name.
type DecodeFunc func(dbType string, raw any) model.Value

// DefaultDecode relies on the Go type the driver returned.
func DefaultDecode(_ string, raw any) model.Value {
	return model.ValueOf(raw)
}

// ScanRows drains rows into a result set. It does not close rows.
func ScanRows(rows *sql.Rows, decode DecodeFunc) (*model.ResultSet, error) {
	if decode == nil {
		decode = DefaultDecode
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	cols := make([]model.ColumnDesc, len(types))
	for i, ct := range types {
		cols[i] = model.ColumnDesc{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	rs := model.NewResultSet(cols)

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]model.Value, len(cols))
		for i, v := range raw {
			row[i] = decode(cols[i].DatabaseType, v)
		}
		rs.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

// Query runs a statement on q and collects every row.
func Query(ctx context.Context, q sqlx.QueryerContext, decode DecodeFunc, query string, args ...any) (*model.ResultSet, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows, decode)
}
