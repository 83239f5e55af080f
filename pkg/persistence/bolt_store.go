package persistence

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/docsync/docsync/pkg/value"
)

var documentsBucket = []byte("documents")

// BoltStore persists documents in a single bbolt file, one key per
// document name in the documents bucket, value-serialized as JSON.
// Grounded on the bucket-per-entity, JSON-serialized-value layout the
// pack's BoltDB storage package describes, adapted here to a single
// bucket since documents are the only persisted entity in this system.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path and
// ensures the documents bucket exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

type boltRecord struct {
	State       json.RawMessage `json:"state"`
	Version     uint64          `json:"version"`
	LastSavedAt int64           `json:"lastSavedAt"`
}

func (b *BoltStore) Load(ctx context.Context, name string) (value.Value, uint64, bool, error) {
	var state value.Value
	var version uint64
	found := false

	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(documentsBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if err := state.UnmarshalJSON(rec.State); err != nil {
			return err
		}
		version = rec.Version
		found = true
		return nil
	})
	if err != nil {
		return value.Value{}, 0, false, err
	}
	return state, version, found, nil
}

// Save accepts any version strictly greater than the currently stored
// one (see MemoryStore.Save for why an exact version-1 predecessor is
// the wrong check here).
func (b *BoltStore) Save(ctx context.Context, name string, state value.Value, version uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(documentsBucket)

		if existing := bucket.Get([]byte(name)); existing != nil && version != 0 {
			var rec boltRecord
			if err := json.Unmarshal(existing, &rec); err != nil {
				return err
			}
			if version <= rec.Version {
				return &ErrVersionConflict{Name: name, Expected: rec.Version + 1, Found: version}
			}
		}

		stateJSON, err := state.MarshalJSON()
		if err != nil {
			return err
		}
		rec := boltRecord{State: stateJSON, Version: version, LastSavedAt: time.Now().UnixMilli()}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(name), data)
	})
}
