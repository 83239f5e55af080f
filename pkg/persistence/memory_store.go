package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/docsync/docsync/pkg/value"
)

// MemoryStore is an in-process Store useful for tests and for running
// without a configured persistence backend.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(ctx context.Context, name string) (value.Value, uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return value.Value{}, 0, false, nil
	}
	return rec.State.Clone(), rec.Version, true, nil
}

// Save accepts any version strictly greater than the currently stored
// one. Document revisions advance once per changed tick while saves are
// debounced, so the gap between two saved versions is routinely larger
// than 1; requiring an exact version-1 predecessor would permanently
// wedge persistence after the first save (every later save would
// conflict against a revision that has since moved on, and no sweep
// would ever produce the exact missing intermediate version).
func (m *MemoryStore) Save(ctx context.Context, name string, state value.Value, version uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[name]; ok && version != 0 && version <= existing.Version {
		return &ErrVersionConflict{Name: name, Expected: existing.Version + 1, Found: version}
	}
	m.records[name] = Record{State: state.Clone(), Version: version, LastSavedAt: time.Now()}
	return nil
}
