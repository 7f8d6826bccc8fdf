package mysql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
)

// chunkQuery returns the paging statement for a table. There is no ORDER BY:
// the same statement shape is issued for every chunk of a run, so offsets
// stay consistent with the storage engine's natural order.
func (c *MySQLConnector) chunkQuery(table string) string {
	return "SELECT * FROM " + c.QuoteIdentifier(table) + " LIMIT ? OFFSET ?"
}

// ReadChunk reads up to limit rows of table starting at offset.
func (c *MySQLConnector) ReadChunk(ctx context.Context, table string, offset, limit int64) (*model.ResultSet, error) {
	rs, err := connector.Query(ctx, c.db, decodeValue, c.chunkQuery(table), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read %q at offset %d: %w", table, offset, err)
	}
	return rs, nil
}

// CountRows returns the exact number of rows in table.
func (c *MySQLConnector) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+c.QuoteIdentifier(table)); err != nil {
		return 0, err
	}
	return n, nil
}

// Query runs an arbitrary statement in MySQL's native dialect.
func (c *MySQLConnector) Query(ctx context.Context, query string, args ...any) (*model.ResultSet, error) {
	return connector.Query(ctx, c.db, decodeValue, query, args...)
}

// decodeValue maps a go-sql-driver value onto a tagged value using the
// column's database type. The text protocol hands back []byte for every
// type, so the type name decides.
func decodeValue(dbType string, raw any) model.Value {
	b, ok := raw.([]byte)
	if !ok {
		return model.ValueOf(raw)
	}
	s := string(b)

	switch strings.TrimPrefix(dbType, "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return model.Int(n)
		}
		return model.Decimal(s)
	case "DECIMAL":
		return model.Decimal(s)
	case "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return model.Float(f)
		}
		return model.String(s)
	case "DATE", "DATETIME", "TIMESTAMP":
		if v, err := model.String(s).Coerce(model.KindTime); err == nil {
			return v
		}
		return model.String(s)
	case "JSON":
		return model.JSON(s)
	case "BLOB", "BINARY", "VARBINARY", "BIT", "GEOMETRY":
		return model.Bytes(append([]byte(nil), b...))
	}
	return model.String(s)
}
