// Package store persists discovered device descriptors in a bbolt database
// so known devices survive daemon restarts.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/castpoint/castpoint/internal/controlpoint"
)

const deviceBucket = "devices"

// Store is a bbolt-backed descriptor store.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a device record keyed by identity.
func (s *Store) Save(dev controlpoint.Device) error {
	payload, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("marshal device %s: %w", dev.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(deviceBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(dev.ID), payload)
	})
}

// Delete removes a device record; absent keys are a no-op.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(deviceBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

// Load returns every persisted device record. Records that no longer
// unmarshal are skipped, not fatal.
func (s *Store) Load() ([]controlpoint.Device, error) {
	var devices []controlpoint.Device
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(deviceBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_ []byte, value []byte) error {
			var dev controlpoint.Device
			if err := json.Unmarshal(value, &dev); err != nil {
				return nil
			}
			devices = append(devices, dev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
