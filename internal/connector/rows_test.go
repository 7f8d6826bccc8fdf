package connector

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/reservoir/internal/model"
)

func TestQueryCollectsTypedRows(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE orders (id INTEGER, total REAL, note TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO orders VALUES (1, 9.5, NULL), (2, 3.25, 'gift')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rs, err := Query(ctx, db, nil, `SELECT id, total, note FROM orders WHERE id >= ? ORDER BY id`, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := rs.ColumnNames(); len(got) != 3 || got[0] != "id" || got[2] != "note" {
		t.Fatalf("columns = %v", got)
	}
	if rs.Len() != 2 {
		t.Fatalf("rows = %d, want 2", rs.Len())
	}
	if v := rs.Rows[0][0]; v.Kind != model.KindInt || v.IntVal() != 1 {
		t.Errorf("id = %s %q", v.Kind, v.Text())
	}
	if !rs.Rows[0][2].IsNull() {
		t.Error("expected null note")
	}
	if rs.Columns[2].Kind != model.KindString {
		t.Errorf("note kind = %s, want string", rs.Columns[2].Kind)
	}
}

func TestScanRowsUsesDecoder(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	upper := func(_ string, raw any) model.Value {
		return model.String("x")
	}
	rs, err := Query(context.Background(), db, upper, `SELECT 1 AS a`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if rs.Rows[0][0].Text() != "x" {
		t.Errorf("decoder not applied: %q", rs.Rows[0][0].Text())
	}
}
