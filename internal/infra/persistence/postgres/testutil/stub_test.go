package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresFiltersAndDeletesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO slots (key, payload) VALUES ($1,$2) ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload"
	for _, args := range [][]driver.NamedValue{
		{{Value: "a"}, {Value: []byte("1")}},
		{{Value: "b"}, {Value: []byte("2")}},
		{{Value: "a"}, {Value: []byte("3")}},
	} {
		if _, err := conn.ExecContext(ctx, upsert, args); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if got := len(conn.Rows("slots")); got != 2 {
		t.Fatalf("expected 2 rows after upsert, got %d", got)
	}

	rows, err := conn.QueryContext(ctx, "SELECT payload FROM slots WHERE key = $1", []driver.NamedValue{{Value: "a"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(dest[0].([]byte)) != "3" {
		t.Fatalf("unexpected payload %v", dest[0])
	}
	if err := rows.Next(dest); err == nil {
		t.Fatalf("expected a single filtered row")
	}

	res, err := conn.ExecContext(ctx, "DELETE FROM slots WHERE key = $1", []driver.NamedValue{{Value: "missing"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 0 {
		t.Fatalf("expected 0 rows affected, got %d", n)
	}
}

func TestStubDBParseErrors(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if _, err := conn.QueryContext(ctx, "UPDATE slots", nil); err == nil {
		t.Fatalf("expected select parse error")
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM slots", nil); err == nil {
		t.Fatalf("expected delete parse error")
	}
	conn.FailPing = true
	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
}
