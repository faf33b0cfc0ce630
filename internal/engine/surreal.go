package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections; the WebSocket upgrade fails under
	// HTTP/2 ALPN negotiation.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// surrealEngine runs the same record model against a SurrealDB server over
// an auto-reconnecting WebSocket. SurrealDB records own the "id" field, so
// the engine stores the logical record id under "record_uuid" and restores
// it when reading.
type surrealEngine struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	tables *tableCache
}

func newSurrealEngine(cfg Config) (Engine, error) {
	ctx := context.Background()
	sdkLogger := logger.New(slog.Default().Handler())
	codec := surrealcbor.New()

	// gorillaws wants the base URL without the /rpc suffix; it appends it.
	baseURL := strings.TrimSuffix(cfg.SurrealURL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("surreal: connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("surreal: from connection: %w", err)
	}

	if _, err := db.SignIn(ctx, surrealdb.Auth{
		Username: cfg.SurrealUser,
		Password: cfg.SurrealPass,
	}); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("surreal: signin: %w", err)
	}

	if err := db.Use(ctx, cfg.SurrealNamespace, cfg.SurrealDatabase); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("surreal: use: %w", err)
	}

	return &surrealEngine{conn: conn, db: db, tables: newTableCache()}, nil
}

func (e *surrealEngine) query(ctx context.Context, sql string, vars map[string]any) ([]Record, error) {
	res, err := surrealdb.Query[[]Record](ctx, e.db, sql, vars)
	if err != nil {
		return nil, err
	}
	if res == nil || len(*res) == 0 {
		return []Record{}, nil
	}
	return (*res)[0].Result, nil
}

func (e *surrealEngine) CreateTableIfNotExists(ctx context.Context, table string) error {
	if err := validTable(table); err != nil {
		return err
	}
	// SurrealDB tables are schemaless and spring into existence on first
	// write; only the cache is updated here.
	e.tables.put(table)
	return nil
}

func (e *surrealEngine) CreateIndexIfNotExists(ctx context.Context, table string, fields ...string) error {
	if err := validTable(table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	name := fmt.Sprintf("idx_%s_%s", table, strings.Join(fields, "_"))
	sql := fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s ON TABLE %s FIELDS %s",
		name, table, strings.Join(fields, ", "))
	_, err := e.query(ctx, sql, nil)
	if err != nil {
		return fmt.Errorf("surreal: define index on %s: %w", table, err)
	}
	return nil
}

// toContent copies a record, moving the logical id out of SurrealDB's way.
func toContent(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		if k == "id" {
			out["record_uuid"] = v
			continue
		}
		out[k] = v
	}
	return out
}

// fromContent restores the logical id field.
func fromContent(rec Record) Record {
	if v, ok := rec["record_uuid"]; ok {
		rec["id"] = v
		delete(rec, "record_uuid")
	}
	return rec
}

func (e *surrealEngine) Insert(ctx context.Context, table string, rec Record) error {
	if err := validTable(table); err != nil {
		return err
	}
	id, err := recordID(rec)
	if err != nil {
		return err
	}
	_, err = e.query(ctx, "CREATE type::thing($tb, $id) CONTENT $data", map[string]any{
		"tb":   table,
		"id":   id,
		"data": toContent(rec),
	})
	if err != nil {
		return fmt.Errorf("surreal: insert into %s: %w", table, err)
	}
	return nil
}

func (e *surrealEngine) Update(ctx context.Context, table, id string, rec Record) error {
	if err := validTable(table); err != nil {
		return err
	}
	out, err := e.query(ctx, "UPDATE type::thing($tb, $id) CONTENT $data", map[string]any{
		"tb":   table,
		"id":   id,
		"data": toContent(rec),
	})
	if err != nil {
		return fmt.Errorf("surreal: update %s: %w", table, err)
	}
	if len(out) == 0 {
		return fmt.Errorf("update %s id %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (e *surrealEngine) Get(ctx context.Context, table, id string) (Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	out, err := e.query(ctx, "SELECT * OMIT id FROM type::thing($tb, $id)", map[string]any{
		"tb": table,
		"id": id,
	})
	if err != nil {
		return nil, fmt.Errorf("surreal: get %s: %w", table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("get %s id %s: %w", table, id, ErrNotFound)
	}
	return fromContent(out[0]), nil
}

func (e *surrealEngine) Query(ctx context.Context, table string, filters []Filter, opts QueryOptions) ([]Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	var sb strings.Builder
	vars := map[string]any{"tb": table}
	sb.WriteString("SELECT * OMIT id FROM type::table($tb)")
	for i, f := range filters {
		field := f.Field
		if field == "id" {
			field = "record_uuid"
		}
		if !tableNameRE.MatchString(field) {
			return nil, fmt.Errorf("invalid filter field %q", f.Field)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		param := fmt.Sprintf("p%d", i)
		fmt.Fprintf(&sb, "%s %s $%s", field, f.Op, param)
		vars[param] = f.Value
	}
	if opts.OrderBy != "" {
		if !tableNameRE.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("invalid order field %q", opts.OrderBy)
		}
		fmt.Fprintf(&sb, " ORDER BY %s", opts.OrderBy)
		if opts.Descending {
			sb.WriteString(" DESC")
		}
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}

	out, err := e.query(ctx, sb.String(), vars)
	if err != nil {
		return nil, fmt.Errorf("surreal: query %s: %w", table, err)
	}
	for i := range out {
		out[i] = fromContent(out[i])
	}
	return out, nil
}

func (e *surrealEngine) Delete(ctx context.Context, table, id string) error {
	if err := validTable(table); err != nil {
		return err
	}
	_, err := e.query(ctx, "DELETE type::thing($tb, $id)", map[string]any{
		"tb": table,
		"id": id,
	})
	if err != nil {
		return fmt.Errorf("surreal: delete from %s: %w", table, err)
	}
	return nil
}

func (e *surrealEngine) Close() error {
	return e.conn.Close(context.Background())
}
