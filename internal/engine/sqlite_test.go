package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newTestSQLite(t *testing.T) Engine {
	t.Helper()
	eng, err := Open(Config{
		Backend:    BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestSQLiteCRUD(t *testing.T) {
	ctx := context.Background()
	eng := newTestSQLite(t)

	if err := eng.CreateTableIfNotExists(ctx, "things"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	rec := Record{"id": "a", "name": "alpha", "count": float64(3), "is_deleted": false}
	if err := eng.Insert(ctx, "things", rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := eng.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["name"] != "alpha" {
		t.Errorf("got name %v, want alpha", got["name"])
	}

	rec["name"] = "beta"
	if err := eng.Update(ctx, "things", "a", rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = eng.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got["name"] != "beta" {
		t.Errorf("got name %v after update, want beta", got["name"])
	}

	if err := eng.Delete(ctx, "things", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := eng.Get(ctx, "things", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: error = %v, want ErrNotFound", err)
	}

	// Delete is idempotent
	if err := eng.Delete(ctx, "things", "a"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	ctx := context.Background()
	eng := newTestSQLite(t)

	if err := eng.CreateTableIfNotExists(ctx, "things"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := eng.Get(ctx, "things", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: error = %v, want ErrNotFound", err)
	}
	if err := eng.Update(ctx, "things", "nope", Record{"id": "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteQueryFilters(t *testing.T) {
	ctx := context.Background()
	eng := newTestSQLite(t)

	if err := eng.CreateTableIfNotExists(ctx, "docs"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := eng.CreateIndexIfNotExists(ctx, "docs", "kind", "rank"); err != nil {
		t.Fatalf("create index: %v", err)
	}

	seed := []Record{
		{"id": "1", "kind": "note", "rank": float64(3), "is_deleted": false},
		{"id": "2", "kind": "note", "rank": float64(1), "is_deleted": false},
		{"id": "3", "kind": "page", "rank": float64(2), "is_deleted": false},
		{"id": "4", "kind": "note", "rank": float64(2), "is_deleted": true},
	}
	for _, rec := range seed {
		if err := eng.Insert(ctx, "docs", rec); err != nil {
			t.Fatalf("insert %v: %v", rec["id"], err)
		}
	}

	tests := []struct {
		name    string
		filters []Filter
		opts    QueryOptions
		wantIDs []string
	}{
		{
			name:    "eq filter",
			filters: []Filter{Eq("kind", "page")},
			wantIDs: []string{"3"},
		},
		{
			name:    "eq on bool",
			filters: []Filter{Eq("kind", "note"), Eq("is_deleted", false)},
			opts:    QueryOptions{OrderBy: "rank"},
			wantIDs: []string{"2", "1"},
		},
		{
			name:    "ne filter",
			filters: []Filter{Ne("kind", "note")},
			wantIDs: []string{"3"},
		},
		{
			name:    "order desc with limit",
			filters: []Filter{Eq("is_deleted", false)},
			opts:    QueryOptions{OrderBy: "rank", Descending: true, Limit: 2},
			wantIDs: []string{"1", "3"},
		},
		{
			name:    "no match",
			filters: []Filter{Eq("kind", "missing")},
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := eng.Query(ctx, "docs", tt.filters, tt.opts)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			ids := make([]string, len(recs))
			for i, rec := range recs {
				ids[i] = rec["id"].(string)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("got ids %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Fatalf("got ids %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}
}

func TestSQLiteRejectsBadIdentifiers(t *testing.T) {
	ctx := context.Background()
	eng := newTestSQLite(t)

	if err := eng.CreateTableIfNotExists(ctx, "bad-name"); err == nil {
		t.Error("expected error for table name with dash")
	}
	if err := eng.CreateTableIfNotExists(ctx, "1table"); err == nil {
		t.Error("expected error for table name starting with digit")
	}
	if err := eng.CreateTableIfNotExists(ctx, `x"; DROP TABLE y;`); err == nil {
		t.Error("expected error for injection attempt")
	}

	if err := eng.CreateTableIfNotExists(ctx, "ok"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := eng.Query(ctx, "ok", []Filter{Eq("bad field", 1)}, QueryOptions{}); err == nil {
		t.Error("expected error for filter field with space")
	}
	if _, err := eng.Query(ctx, "ok", nil, QueryOptions{OrderBy: "a.b"}); err == nil {
		t.Error("expected error for order field with dot")
	}
}

func TestSQLiteConcurrentTableCreation(t *testing.T) {
	ctx := context.Background()
	eng := newTestSQLite(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.CreateTableIfNotExists(ctx, "concurrent"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent create: %v", err)
	}

	if err := eng.Insert(ctx, "concurrent", Record{"id": "x"}); err != nil {
		t.Fatalf("insert after concurrent create: %v", err)
	}
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	eng := newTestSQLite(t)

	if err := eng.CreateTableIfNotExists(ctx, "writes"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := Record{"id": string(rune('a' + n)), "n": float64(n)}
			if err := eng.Insert(ctx, "writes", rec); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}

	recs, err := eng.Query(ctx, "writes", nil, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 20 {
		t.Errorf("got %d records, want 20", len(recs))
	}
}
