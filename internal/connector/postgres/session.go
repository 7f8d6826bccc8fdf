package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
)

// Session describes connection-scoped settings for one routed query.
type Session struct {
	Role       string   // SET LOCAL ROLE, skipped when empty
	SearchPath []string // SET LOCAL search_path
}

// Statements returns the SET LOCAL statements establishing s.
func (s Session) Statements() []string {
	var stmts []string
	if s.Role != "" {
		stmts = append(stmts, "SET LOCAL ROLE "+pgx.Identifier{s.Role}.Sanitize())
	}
	if len(s.SearchPath) > 0 {
		parts := make([]string, len(s.SearchPath))
		for i, p := range s.SearchPath {
			parts[i] = pgx.Identifier{p}.Sanitize()
		}
		stmts = append(stmts, "SET LOCAL search_path TO "+strings.Join(parts, ", "))
	}
	return stmts
}

// QueryInSession runs query inside one transaction after applying s. The
// settings and the query share the transaction's connection, and SET LOCAL
// ends with it, so nothing leaks back into the pool.
func (c *PostgresConnector) QueryInSession(ctx context.Context, s Session, query string, args ...any) (*model.ResultSet, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range s.Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("session setup: %w", err)
		}
	}

	rs, err := connector.Query(ctx, tx, decodeValue, query, args...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}
	return rs, nil
}
