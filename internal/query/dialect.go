package query

import (
	"fmt"
	"strings"
)

// PlaceholderFunc returns the SQL placeholder for a given 1-based parameter index.
type PlaceholderFunc func(index int) string

// DollarPlaceholder returns $1, $2, etc. (PostgreSQL).
func DollarPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// QuestionPlaceholder returns ? for all params (MySQL, SQLite).
func QuestionPlaceholder(_ int) string {
	return "?"
}

// AtPPlaceholder returns @p1, @p2, etc. (SQL Server).
func AtPPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// PlaceholderFor returns the placeholder style of a driver.
func PlaceholderFor(driver string) PlaceholderFunc {
	switch driver {
	case "postgres", "pgx":
		return DollarPlaceholder
	case "mssql", "sqlserver":
		return AtPPlaceholder
	default:
		return QuestionPlaceholder
	}
}

// TranslateIdentifiers rewrites backtick-quoted identifiers as
// double-quoted ones. String literals, comments, and identifiers already in
// double quotes pass through untouched.
func TranslateIdentifiers(sql string) string {
	tokens := tokenize(sql)
	changed := false
	for i, t := range tokens {
		if t.typ != tokBacktick {
			continue
		}
		name := unquote(t.value, '`')
		tokens[i].value = `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
		changed = true
	}
	if !changed {
		return sql
	}
	return join(tokens)
}

// RenumberPlaceholders rewrites positional ? placeholders outside literals
// and comments using ph, numbering from 1. It returns the rewritten SQL and
// the number of placeholders found.
func RenumberPlaceholders(sql string, ph PlaceholderFunc) (string, int) {
	if ph == nil {
		ph = DollarPlaceholder
	}
	tokens := tokenize(sql)
	n := 0
	for i, t := range tokens {
		if t.typ != tokPlaceholder {
			continue
		}
		n++
		tokens[i].value = ph(n)
	}
	if n == 0 {
		return sql, 0
	}
	return join(tokens), n
}

// ForPostgres prepares backtick-style SQL with ? placeholders for
// execution on PostgreSQL. It fails when the placeholder count does not
// match the number of parameters supplied. Without parameters a ? is left
// alone, so jsonb operators such as ?, ?| and ?& reach the server intact.
func ForPostgres(sql string, params int) (string, error) {
	translated := TranslateIdentifiers(sql)
	if params == 0 {
		return translated, nil
	}
	out, n := RenumberPlaceholders(translated, DollarPlaceholder)
	if n > 0 && n != params {
		return "", fmt.Errorf("query has %d placeholders but %d parameters were supplied", n, params)
	}
	return out, nil
}
