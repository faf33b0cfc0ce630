package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// badgerEngine stores records under "<table>/<id>" keys with JSON values.
// Queries are prefix scans with in-memory filter evaluation; Badger has no
// secondary indexes, so CreateIndexIfNotExists is a no-op. The per-table
// lock is kept anyway so concurrent writers to one logical table never race
// on transaction conflicts.
type badgerEngine struct {
	db     *badger.DB
	locks  *tableLocks
	tables *tableCache
}

// badgerSlogAdapter routes badger's internal logging through slog.
type badgerSlogAdapter struct{}

func (badgerSlogAdapter) Errorf(msg string, args ...any)   { slog.Error(fmt.Sprintf(msg, args...)) }
func (badgerSlogAdapter) Warningf(msg string, args ...any) { slog.Warn(fmt.Sprintf(msg, args...)) }
func (badgerSlogAdapter) Infof(msg string, args ...any)    { slog.Debug(fmt.Sprintf(msg, args...)) }
func (badgerSlogAdapter) Debugf(msg string, args ...any)   { slog.Debug(fmt.Sprintf(msg, args...)) }

func newBadgerEngine(cfg Config) (Engine, error) {
	var opts badger.Options
	if cfg.BadgerInMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.BadgerDir == "" {
			return nil, fmt.Errorf("badger: dir required")
		}
		opts = badger.DefaultOptions(cfg.BadgerDir)
	}
	opts.Logger = badgerSlogAdapter{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &badgerEngine{
		db:     db,
		locks:  newTableLocks(),
		tables: newTableCache(),
	}, nil
}

func badgerKey(table, id string) []byte {
	return []byte(table + "/" + id)
}

func (e *badgerEngine) CreateTableIfNotExists(ctx context.Context, table string) error {
	if err := validTable(table); err != nil {
		return err
	}
	if e.tables.has(table) {
		return nil
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	// Tables are purely logical key prefixes; record the name so restarted
	// processes can enumerate them.
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("_tables/"+table), []byte{1})
	})
	if err != nil {
		return fmt.Errorf("badger: register table %s: %w", table, err)
	}
	e.tables.put(table)
	return nil
}

func (e *badgerEngine) CreateIndexIfNotExists(ctx context.Context, table string, fields ...string) error {
	return validTable(table)
}

func (e *badgerEngine) Insert(ctx context.Context, table string, rec Record) error {
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

	err = e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(table, id), data)
	})
	if err != nil {
		return fmt.Errorf("badger: insert into %s: %w", table, err)
	}
	return nil
}

func (e *badgerEngine) Update(ctx context.Context, table, id string, rec Record) error {
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

	err = e.db.Update(func(txn *badger.Txn) error {
		key := badgerKey(table, id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("update %s id %s: %w", table, id, ErrNotFound)
			}
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("badger: update %s: %w", table, err)
	}
	return nil
}

func (e *badgerEngine) Get(ctx context.Context, table, id string) (Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	var data []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(table, id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %s id %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get %s: %w", table, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (e *badgerEngine) Query(ctx context.Context, table string, filters []Filter, opts QueryOptions) ([]Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}

	out := []Record{}
	prefix := []byte(table + "/")
	err := e.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			if matches(rec, filters) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: query %s: %w", table, err)
	}

	if opts.OrderBy != "" {
		field := opts.OrderBy
		sort.SliceStable(out, func(i, j int) bool {
			a := fmt.Sprintf("%v", out[i][field])
			b := fmt.Sprintf("%v", out[j][field])
			if opts.Descending {
				return a > b
			}
			return a < b
		})
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (e *badgerEngine) Delete(ctx context.Context, table, id string) error {
	if err := validTable(table); err != nil {
		return err
	}

	lock := e.locks.forTable(table)
	lock.Lock()
	defer lock.Unlock()

	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(table, id))
	})
	if err != nil {
		return fmt.Errorf("badger: delete from %s: %w", table, err)
	}
	return nil
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}
