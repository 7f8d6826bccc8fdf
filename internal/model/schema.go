package model

// Schema is the normalized introspection result for a source database. It
// is transient: built by the introspector, consumed by the provisioner and
// the transfer engine, never persisted.
type Schema struct {
	Database    string        `json:"database"`
	Tables      []TableSchema `json:"tables"`
	ForeignKeys []ForeignKey  `json:"foreign_keys"`
}

// Table returns the table with the given source name, or nil.
func (s *Schema) Table(name string) *TableSchema {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// TableSchema describes the structure of a single source table.
type TableSchema struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int64        `json:"row_count"`
}

// AutoIncrementColumn returns the name of the auto-increment column, if any.
func (t *TableSchema) AutoIncrementColumn() string {
	for _, c := range t.Columns {
		if c.IsAutoIncrement {
			return c.Name
		}
	}
	return ""
}

// Column describes a single column within a table.
type Column struct {
	Name            string  `json:"name"`
	Position        int     `json:"position"`
	DataType        string  `json:"data_type"` // e.g. "varchar"
	ColumnType      string  `json:"db_type"`   // e.g. "varchar(255)", "tinyint(1) unsigned"
	Nullable        bool    `json:"nullable"`
	Default         *string `json:"default,omitempty"`
	MaxLength       *int64  `json:"max_length,omitempty"`
	Precision       *int64  `json:"precision,omitempty"`
	Scale           *int64  `json:"scale,omitempty"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
	IsAutoIncrement bool    `json:"is_auto_increment"`
	Extra           string  `json:"extra,omitempty"`
	Comment         string  `json:"comment,omitempty"`
}

// ForeignKey describes a (possibly composite) foreign key constraint.
type ForeignKey struct {
	Name        string       `json:"name"`
	SourceTable string       `json:"source_table"`
	TargetTable string       `json:"target_table"`
	Columns     []ColumnPair `json:"columns"`
	OnDelete    string       `json:"on_delete"`
	OnUpdate    string       `json:"on_update"`
}

// ColumnPair is one source→target column mapping inside a foreign key,
// kept in constraint ordinal order.
type ColumnPair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
