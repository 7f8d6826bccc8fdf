package config

import (
	"fmt"
	"strings"
)

// dialect holds the column spellings that differ between the two metadata
// backends. Everything else in the schema is portable SQL.
type dialect struct {
	serial    string
	timestamp string
	bigint    string
}

var dialects = map[string]dialect{
	"sqlite": {
		serial:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "DATETIME",
		bigint:    "INTEGER",
	},
	"pgx": {
		serial:    "BIGSERIAL PRIMARY KEY",
		timestamp: "TIMESTAMPTZ",
		bigint:    "BIGINT",
	},
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id {{serial}},
		name TEXT UNIQUE NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		driver TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		database_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		params TEXT NOT NULL DEFAULT '',
		dsn TEXT NOT NULL DEFAULT '',
		ssh_tunnel_json TEXT NOT NULL DEFAULT '',
		storage_location TEXT NOT NULL DEFAULT 'external',
		sync_schedule TEXT NOT NULL DEFAULT '',
		max_open_conns INTEGER NOT NULL DEFAULT 5,
		max_idle_conns INTEGER NOT NULL DEFAULT 2,
		conn_max_lifetime_ms {{bigint}} NOT NULL DEFAULT 300000,
		conn_max_idle_time_ms {{bigint}} NOT NULL DEFAULT 60000,
		created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		role_name TEXT NOT NULL,
		created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_records (
		id {{serial}},
		connection_id {{bigint}} UNIQUE NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
		namespace TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		progress_json TEXT NOT NULL DEFAULT '{}',
		last_error TEXT NOT NULL DEFAULT '',
		last_sync_at {{timestamp}},
		next_run_at {{timestamp}},
		created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_queue_items (
		id {{serial}},
		sync_id {{bigint}} NOT NULL REFERENCES sync_records(id) ON DELETE CASCADE,
		table_name TEXT NOT NULL,
		source_table TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		last_row_offset {{bigint}} NOT NULL DEFAULT 0,
		total_rows {{bigint}} NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		auto_increment_column TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sync_queue_items_status ON sync_queue_items(status, priority)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_items_sync_id ON sync_queue_items(sync_id)`,

	`CREATE TABLE IF NOT EXISTS cache_entries (
		chart_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		storage_location TEXT NOT NULL,
		result_json TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		duration_ms {{bigint}} NOT NULL DEFAULT 0,
		dependencies TEXT NOT NULL DEFAULT '',
		captured_at {{timestamp}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at {{timestamp}},
		PRIMARY KEY (chart_id, tenant_id, fingerprint)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_cache_entries_tenant ON cache_entries(tenant_id)`,
}

func (s *Store) migrate() error {
	d, ok := dialects[s.driver]
	if !ok {
		return fmt.Errorf("unsupported metadata driver %q", s.driver)
	}
	r := strings.NewReplacer(
		"{{serial}}", d.serial,
		"{{timestamp}}", d.timestamp,
		"{{bigint}}", d.bigint,
	)

	for _, m := range migrations {
		stmt := r.Replace(m)
		if _, err := s.db.Exec(stmt); err != nil {
			// ADD COLUMN is not idempotent on SQLite; a rerun reports the
			// column as a duplicate.
			if strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
