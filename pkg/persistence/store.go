// Package persistence implements the Store contract spec.md §6 requires
// of any concrete driver — load(name), save(name, state, version) — plus
// the debounced Persistence Coordinator that calls it with
// optimistic-version retry on conflict.
package persistence

import (
	"context"
	"time"

	"github.com/docsync/docsync/pkg/value"
)

// Store is the persistence contract every concrete driver honors. Load
// reports ok=false (no error) when no record exists yet for name. Save
// is optimistic: version must be strictly greater than the store's
// current version for name (version 0 is always accepted), or
// ErrVersionConflict is returned.
type Store interface {
	Load(ctx context.Context, name string) (state value.Value, version uint64, ok bool, err error)
	Save(ctx context.Context, name string, state value.Value, version uint64) error
}

// ErrVersionConflict is returned by Save when a non-zero version is not
// greater than the store's current record version for name.
type ErrVersionConflict struct {
	Name            string
	Expected, Found uint64
}

func (e *ErrVersionConflict) Error() string {
	return "persistence: version conflict for " + e.Name
}

// Record is the persisted document layout: one record per document
// name, state excluding all private (`_`-prefixed) keys.
type Record struct {
	State      value.Value
	Version    uint64
	LastSavedAt time.Time
}
