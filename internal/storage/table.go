package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// table is one in-memory list of rows backed by a JSON file. Writes mutate
// rows under the exclusive lock and persist through a temp file and atomic
// rename so a crash never leaves a partial file. File mode is restricted to
// the server process owner.
type table[T any] struct {
	name string
	path string
	mu   sync.RWMutex
	rows []T
}

// loadTable initializes a table from dir/<name>.json, tolerating a missing
// file (fresh data directory).
func loadTable[T any](dir, name string) (*table[T], error) {
	t := &table[T]{
		name: name,
		path: filepath.Join(dir, name+".json"),
	}
	raw, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read table %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, &t.rows); err != nil {
		return nil, fmt.Errorf("failed to decode table %s: %w", name, err)
	}
	return t, nil
}

// persistLocked writes the current rows to disk. Callers must hold t.mu.
func (t *table[T]) persistLocked() error {
	raw, err := json.Marshal(t.rows)
	if err != nil {
		return fmt.Errorf("failed to encode table %s: %w", t.name, err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write table %s: %w", t.name, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace table %s: %w", t.name, err)
	}
	return nil
}

// snapshot returns a copy of the row slice. The rows themselves are shared;
// they are immutable once written (events) or replaced wholesale on update.
func (t *table[T]) snapshot() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, len(t.rows))
	copy(out, t.rows)
	return out
}

// count returns the number of rows.
func (t *table[T]) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// mutate runs fn under the exclusive lock and persists when fn reports a
// change. fn may append to or replace t.rows.
func (t *table[T]) mutate(fn func() (changed bool, err error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed, err := fn()
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return t.persistLocked()
}
