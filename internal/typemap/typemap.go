// Package typemap translates MySQL column types, defaults and identifiers
// into their PostgreSQL equivalents. Every function here is total: an
// unrecognized input degrades to text instead of failing the transfer.
package typemap

import (
	"regexp"
	"strings"

	"github.com/faucetdb/reservoir/internal/model"
)

// FallbackType is used for any source type without a better equivalent.
const FallbackType = "text"

var paramsRe = regexp.MustCompile(`\(\s*([^)]*?)\s*\)`)

// params returns the comma separated arguments of the first parenthesised
// group in a column type, e.g. "decimal(10,2) unsigned" → ["10", "2"].
func params(columnType string) []string {
	m := paramsRe.FindStringSubmatch(columnType)
	if m == nil || m[1] == "" {
		return nil
	}
	parts := strings.Split(m[1], ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MapType maps a MySQL DATA_TYPE and its full COLUMN_TYPE (with length,
// precision and the unsigned flag) onto a PostgreSQL column type. It never
// returns an empty string.
func MapType(dataType, columnType string) string {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	ct := strings.ToLower(strings.TrimSpace(columnType))
	if dt == "" {
		// Only the full type is known; take its leading word.
		dt = ct
		if i := strings.IndexAny(dt, "( "); i >= 0 {
			dt = dt[:i]
		}
	}
	unsigned := strings.Contains(ct, "unsigned")
	p := params(ct)

	switch dt {
	case "bool", "boolean":
		return "boolean"
	case "tinyint":
		if len(p) == 1 && p[0] == "1" {
			return "boolean"
		}
		return "smallint"
	case "bit":
		if p == nil || (len(p) == 1 && p[0] == "1") {
			return "boolean"
		}
		return "bytea"
	case "smallint":
		if unsigned {
			return "integer"
		}
		return "smallint"
	case "mediumint":
		return "integer"
	case "int", "integer":
		if unsigned {
			return "bigint"
		}
		return "integer"
	case "bigint":
		if unsigned {
			return "numeric(20,0)"
		}
		return "bigint"
	case "serial":
		return "numeric(20,0)"
	case "decimal", "numeric", "dec", "fixed":
		switch {
		case len(p) == 2 && isDigits(p[0]) && isDigits(p[1]):
			return "numeric(" + p[0] + "," + p[1] + ")"
		case len(p) == 1 && isDigits(p[0]):
			return "numeric(" + p[0] + ",0)"
		}
		return "numeric"
	case "float":
		return "real"
	case "double", "double precision", "real":
		return "double precision"
	case "varchar", "nvarchar":
		if len(p) == 1 && isDigits(p[0]) {
			return "varchar(" + p[0] + ")"
		}
		return "varchar"
	case "char", "nchar":
		if len(p) == 1 && isDigits(p[0]) {
			return "char(" + p[0] + ")"
		}
		return "char(1)"
	case "date":
		return "date"
	case "datetime":
		return "timestamp"
	case "timestamp":
		return "timestamptz"
	case "time":
		return "time"
	case "year":
		return "smallint"
	case "text", "tinytext", "mediumtext", "longtext":
		return "text"
	case "json":
		return "jsonb"
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return "bytea"
	case "enum", "set":
		return "text"
	}
	return FallbackType
}

// KindOf returns the value kind held by a PostgreSQL column of the given
// type. It accepts both DDL spellings ("timestamptz") and the names
// information_schema reports ("timestamp with time zone").
func KindOf(pgType string) model.Kind {
	t := strings.ToLower(strings.TrimSpace(pgType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "boolean", "bool":
		return model.KindBool
	case "smallint", "integer", "int", "int2", "int4", "int8", "bigint", "serial", "bigserial":
		return model.KindInt
	case "numeric", "decimal":
		return model.KindDecimal
	case "real", "float4", "float8", "double precision":
		return model.KindFloat
	case "date", "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone":
		return model.KindTime
	case "json", "jsonb":
		return model.KindJSON
	case "bytea":
		return model.KindBytes
	}
	return model.KindString
}

// Kind returns the value kind a MySQL column lands as after mapping.
func Kind(dataType, columnType string) model.Kind {
	return KindOf(MapType(dataType, columnType))
}

var (
	numberRe  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	nowFuncRe = regexp.MustCompile(`^(current_timestamp|now|localtimestamp|localtime)(\(\d*\))?$`)
)

// ConvertDefault turns a MySQL COLUMN_DEFAULT into a PostgreSQL default
// expression, or "" when the column should carry no default. Auto-increment
// columns never get one; their sequence is attached after the load.
func ConvertDefault(col model.Column) string {
	if col.IsAutoIncrement || col.Default == nil {
		return ""
	}
	raw := strings.TrimSpace(*col.Default)
	if strings.EqualFold(raw, "null") {
		return ""
	}
	target := MapType(col.DataType, col.ColumnType)

	expr := strings.ToLower(raw)
	for len(expr) > 1 && expr[0] == '(' && expr[len(expr)-1] == ')' {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	if nowFuncRe.MatchString(expr) {
		switch KindOf(target) {
		case model.KindTime:
			if target == "date" {
				return "CURRENT_DATE"
			}
			return "CURRENT_TIMESTAMP"
		}
		if target == "time" {
			return "CURRENT_TIME"
		}
		return ""
	}
	if expr == "curdate()" || expr == "current_date" {
		if target == "date" || KindOf(target) == model.KindTime {
			return "CURRENT_DATE"
		}
		return ""
	}

	// Literal values. MariaDB reports string defaults already quoted.
	lit := raw
	if len(lit) >= 2 && lit[0] == '\'' && lit[len(lit)-1] == '\'' {
		lit = strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
	}

	switch KindOf(target) {
	case model.KindBool:
		switch strings.ToLower(lit) {
		case "0", "b'0'", "false":
			return "false"
		case "1", "b'1'", "true":
			return "true"
		}
		return ""
	case model.KindInt, model.KindDecimal, model.KindFloat:
		if numberRe.MatchString(lit) {
			return lit
		}
		return ""
	case model.KindBytes, model.KindJSON:
		return ""
	case model.KindTime:
		if strings.HasPrefix(lit, "0000-00-00") {
			return ""
		}
	}
	if strings.HasPrefix(raw, "(") {
		// An expression default we do not understand.
		return ""
	}
	return "'" + strings.ReplaceAll(lit, "'", "''") + "'"
}

// NormalizeIdentifier lower-cases s and replaces every character outside
// [a-z0-9_] with an underscore. Applying it twice changes nothing.
func NormalizeIdentifier(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
