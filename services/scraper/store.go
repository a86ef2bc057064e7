// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrRecordNotFound is returned when no page record exists for a URL hash.
var ErrRecordNotFound = errors.New("page record not found")

// recordKeyPrefix namespaces page records inside the shared key space.
const recordKeyPrefix = "page:"

// MetadataStore keeps one PageRecord per archived page in Badger, keyed by
// URL hash. Records expire with the archived object so the two never drift
// far apart.
type MetadataStore struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenMetadataStore opens (or creates) the store at path. ttl <= 0 keeps
// records forever.
func OpenMetadataStore(path string, ttl time.Duration) (*MetadataStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open the metadata store: %w", err)
	}
	return &MetadataStore{db: db, ttl: ttl}, nil
}

func (s *MetadataStore) Close() error { return s.db.Close() }

// Save upserts one record under its URL hash.
func (s *MetadataStore) Save(record PageRecord) error {
	if record.URLHash == "" {
		return fmt.Errorf("a page record needs a URL hash")
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode the page record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(recordKeyPrefix+record.URLHash), value)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get loads the record for one URL hash.
func (s *MetadataStore) Get(urlHash string) (*PageRecord, error) {
	var record PageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordKeyPrefix + urlHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
