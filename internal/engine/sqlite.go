package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteEngine is the default backend. SQLite does not tolerate concurrent
// writers, so every mutating statement (and table creation) takes the
// per-table lock before touching the database.
type sqliteEngine struct {
	db      *sql.DB
	locks   *tableLocks
	tables  *tableCache
	indexes *tableCache
}

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newSQLiteEngine(cfg Config) (Engine, error) {
	path := cfg.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("sqlite: path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &sqliteEngine{
		db:      db,
		locks:   newTableLocks(),
		tables:  newTableCache(),
		indexes: newTableCache(),
	}, nil
}

func validTable(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func (e *sqliteEngine) CreateTableIfNotExists(ctx context.Context, table string) error {
	if err := validTable(table); err != nil {
		return err
	}
	if e.tables.has(table) {
		return nil
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	if e.tables.has(table) {
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, data TEXT NOT NULL)`, table)
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	e.tables.put(table)
	return nil
}

func (e *sqliteEngine) CreateIndexIfNotExists(ctx context.Context, table string, fields ...string) error {
	if err := validTable(table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	key := table + ":" + strings.Join(fields, ",")
	if e.indexes.has(key) {
		return nil
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	cols := make([]string, len(fields))
	for i, f := range fields {
		if !tableNameRE.MatchString(f) {
			return fmt.Errorf("invalid index field %q", f)
		}
		cols[i] = fmt.Sprintf("json_extract(data, '$.%s')", f)
	}
	name := fmt.Sprintf("idx_%s_%s", table, strings.Join(fields, "_"))
	ddl := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (%s)`, name, table, strings.Join(cols, ", "))
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create index on %s: %w", table, err)
	}
	e.indexes.put(key)
	return nil
}

func (e *sqliteEngine) Insert(ctx context.Context, table string, rec Record) error {
	if err := validTable(table); err != nil {
		return err
	}
	id, err := recordID(rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	q := fmt.Sprintf(`INSERT INTO %q (id, data) VALUES (?, ?)`, table)
	if _, err := e.db.ExecContext(ctx, q, id, string(data)); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (e *sqliteEngine) Update(ctx context.Context, table, id string, rec Record) error {
	if err := validTable(table); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	q := fmt.Sprintf(`UPDATE %q SET data = ? WHERE id = ?`, table)
	res, err := e.db.ExecContext(ctx, q, string(data), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s id %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (e *sqliteEngine) Get(ctx context.Context, table, id string) (Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	q := fmt.Sprintf(`SELECT data FROM %q WHERE id = ?`, table)
	var data string
	err := e.db.QueryRowContext(ctx, q, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s id %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (e *sqliteEngine) Query(ctx context.Context, table string, filters []Filter, opts QueryOptions) ([]Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := make([]any, 0, len(filters))
	fmt.Fprintf(&sb, `SELECT data FROM %q`, table)
	for i, f := range filters {
		if !tableNameRE.MatchString(f.Field) {
			return nil, fmt.Errorf("invalid filter field %q", f.Field)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "json_extract(data, '$.%s') %s ?", f.Field, f.Op)
		args = append(args, bindValue(f.Value))
	}
	if opts.OrderBy != "" {
		if !tableNameRE.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("invalid order field %q", opts.OrderBy)
		}
		fmt.Fprintf(&sb, " ORDER BY json_extract(data, '$.%s')", opts.OrderBy)
		if opts.Descending {
			sb.WriteString(" DESC")
		}
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	rows, err := e.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (e *sqliteEngine) Delete(ctx context.Context, table, id string) error {
	if err := validTable(table); err != nil {
		return err
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	q := fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, table)
	if _, err := e.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

func (e *sqliteEngine) Close() error {
	return e.db.Close()
}

// bindValue maps Go values to what json_extract yields: JSON booleans come
// back as 0/1 integers.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
