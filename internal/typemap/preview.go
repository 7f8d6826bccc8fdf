package typemap

import "github.com/faucetdb/reservoir/internal/model"

// ColumnMapping is one source column and the column it becomes in the
// synced namespace.
type ColumnMapping struct {
	Source       string `json:"source"`
	SourceType   string `json:"source_type"`
	Target       string `json:"target"`
	TargetType   string `json:"target_type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	PrimaryKey   bool   `json:"primary_key,omitempty"`
	GeneratedKey bool   `json:"generated_key,omitempty"`
}

// TableMapping pairs a source table with its synced layout.
type TableMapping struct {
	Table   model.TableSchema `json:"table"`
	Target  string            `json:"target"`
	Columns []ColumnMapping   `json:"columns"`
}

// MapTable previews the table a sync would provision for t.
func MapTable(t model.TableSchema) TableMapping {
	tm := TableMapping{
		Table:   t,
		Target:  NormalizeIdentifier(t.Name),
		Columns: make([]ColumnMapping, 0, len(t.Columns)),
	}
	for _, c := range t.Columns {
		tm.Columns = append(tm.Columns, ColumnMapping{
			Source:       c.Name,
			SourceType:   c.ColumnType,
			Target:       NormalizeIdentifier(c.Name),
			TargetType:   MapType(c.DataType, c.ColumnType),
			Nullable:     c.Nullable,
			Default:      ConvertDefault(c),
			PrimaryKey:   c.IsPrimaryKey,
			GeneratedKey: c.IsAutoIncrement,
		})
	}
	return tm
}
