// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerRegistry is an embedded Registry for single-instance deployments
// without a Redis. Flags live in a Badger database under the data directory.
type BadgerRegistry struct {
	db *badger.DB
}

// NewBadger opens the flag database at path.
func NewBadger(path string) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerRegistry{db: db}, nil
}

// TrySet sets the key with the given TTL only if it is absent. Badger
// expires keys on read, so a stale flag never blocks acquisition.
func (r *BadgerRegistry) TrySet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	acquired := false
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		acquired = true
		entry := badger.NewEntry([]byte(key), []byte("1")).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Exists reports whether the key is currently set.
func (r *BadgerRegistry) Exists(_ context.Context, key string) (bool, error) {
	exists := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Refresh unconditionally sets the key with a fresh TTL.
func (r *BadgerRegistry) Refresh(_ context.Context, key string, ttl time.Duration) error {
	return r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte("1")).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Clear removes the key.
func (r *BadgerRegistry) Clear(_ context.Context, key string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close closes the flag database.
func (r *BadgerRegistry) Close() error {
	return r.db.Close()
}
