package main

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"sheetsync/sheets"
)

var cacheBucket = []byte("sheets")

// snapshotCache persists the last known sheet snapshots locally so the
// agent has data to serve before the first network reload completes.
type snapshotCache struct {
	db *bolt.DB
}

func openSnapshotCache(path string) (*snapshotCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init: %w", err)
	}
	return &snapshotCache{db: db}, nil
}

func (c *snapshotCache) Close() error { return c.db.Close() }

func (c *snapshotCache) Load() (map[string]sheets.Snapshot, error) {
	out := make(map[string]sheets.Snapshot)
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).ForEach(func(k, v []byte) error {
			var snap sheets.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				// A corrupt entry is not worth failing startup over.
				return nil
			}
			out[string(k)] = snap
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *snapshotCache) Save(all map[string]sheets.Snapshot) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		for name, snap := range all {
			raw, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(name), raw); err != nil {
				return err
			}
		}
		return nil
	})
}
