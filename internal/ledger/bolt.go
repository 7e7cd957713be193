package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const ledgerBucket = "ncf_ledger"

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the ledger file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ledgerBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Contains reports whether the NCF key exists
func (b *BoltStore) Contains(ctx context.Context, ncf string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(ledgerBucket)).Get([]byte(ncf)) != nil
		return nil
	})
	return found, err
}

// Insert writes the entry inside one read-write transaction, so a second
// process racing on the same file sees the key and gets false
func (b *BoltStore) Insert(ctx context.Context, e Entry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshaling entry: %w", err)
	}
	inserted := false
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ledgerBucket))
		if bucket.Get([]byte(e.NCF)) != nil {
			return nil
		}
		inserted = true
		return bucket.Put([]byte(e.NCF), data)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Get retrieves an entry by NCF
func (b *BoltStore) Get(ctx context.Context, ncf string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var e Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ledgerBucket)).Get([]byte(ncf))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// List returns entries newest first
func (b *BoltStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ledgerBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	return truncate(entries, limit), nil
}

// Close closes the database file
func (b *BoltStore) Close() error {
	return b.db.Close()
}
