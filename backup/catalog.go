// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Entry describes one completed backup.
type Entry struct {
	Name      string    `json:"name"` // backup file name within the backup dir
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"` // compressed size in bytes
	Checksum  string    `json:"checksum"`
}

// Catalog records backup metadata in BadgerDB so listing backups does not
// re-stat the backup directory.
//
// Key format: backup:{unix-nano}:{name}
type Catalog struct {
	db *badger.DB
}

// OpenCatalog opens (or creates) the catalog at dir.
func OpenCatalog(dir string) (*Catalog, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup catalog: %w", err)
	}

	return &Catalog{db: db}, nil
}

func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("backup:%020d:%s", e.CreatedAt.UnixNano(), e.Name))
}

// Put records a completed backup.
func (c *Catalog) Put(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal backup entry: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e), data)
	})
}

// Delete removes a backup entry.
func (c *Catalog) Delete(e Entry) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(e))
	})
}

// List returns all entries, oldest first.
func (c *Catalog) List() ([]Entry, error) {
	var entries []Entry

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("backup:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Key order already sorts by creation time; keep it explicit anyway
	// for entries written with identical timestamps.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
