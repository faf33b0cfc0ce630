package engine

import "sync"

// tableLocks hands out one mutex per logical table so that table creation
// and mutating statements on the same table never run concurrently. The
// outer mutex only guards the map itself.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *tableLocks) forTable(name string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[name]
	if !ok {
		l = &sync.Mutex{}
		t.locks[name] = l
	}
	return l
}

// tableCache remembers which tables have been created so the common path
// skips DDL. Guarded separately from the per-table locks.
type tableCache struct {
	mu      sync.Mutex
	created map[string]bool
}

func newTableCache() *tableCache {
	return &tableCache{created: make(map[string]bool)}
}

func (c *tableCache) has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created[name]
}

func (c *tableCache) put(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created[name] = true
}
