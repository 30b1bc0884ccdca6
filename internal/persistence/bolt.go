package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var stateBucket = []byte("device_state")

// BoltStore keeps one key per device in a bbolt database, each value being
// the device's JSON attribute map. Saves run in a single read-write
// transaction, so a crash never leaves a half-written snapshot.
type BoltStore struct {
	db     *bolt.DB
	logger Logger

	mu sync.Mutex
}

// NewBoltStore opens (creating if needed) the database at path.
func NewBoltStore(path string, logger Logger) (*BoltStore, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}

	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) LoadAll(_ context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		snap = s.readTx(tx)
		return nil
	})
	if err != nil {
		s.logger.Warn("reading bolt state", "error", err)
		return Snapshot{}
	}
	return snap
}

func (s *BoltStore) SaveAll(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeTx(tx, snap)
	})
}

func (s *BoltStore) Mutate(_ context.Context, fn func(Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		snap := s.readTx(tx)
		if err := fn(snap); err != nil {
			return err
		}
		return writeTx(tx, snap)
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *BoltStore) readTx(tx *bolt.Tx) Snapshot {
	snap := Snapshot{}
	buck := tx.Bucket(stateBucket)
	if buck == nil {
		return snap
	}
	cur := buck.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		var attrs map[string]any
		if err := json.Unmarshal(v, &attrs); err != nil || attrs == nil {
			s.logger.Warn("ignoring malformed state entry", "dev", string(k))
			continue
		}
		snap[string(k)] = attrs
	}
	return snap
}

// writeTx replaces the bucket contents with snap.
func writeTx(tx *bolt.Tx, snap Snapshot) error {
	if tx.Bucket(stateBucket) != nil {
		if err := tx.DeleteBucket(stateBucket); err != nil {
			return err
		}
	}
	buck, err := tx.CreateBucket(stateBucket)
	if err != nil {
		return err
	}
	for name, attrs := range snap {
		data, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("encoding state for %s: %w", name, err)
		}
		if err := buck.Put([]byte(name), data); err != nil {
			return err
		}
	}
	return nil
}
