package datastore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore keeps each kind in its own bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(_ context.Context, kind string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(kind))
		if err != nil {
			return err
		}
		return bkt.Put(key, value)
	})
}

func (s *BoltStore) Get(_ context.Context, kind string, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(kind))
		if bkt == nil {
			return fmt.Errorf("%w: %s", ErrKindNotFound, kind)
		}
		if v := bkt.Get(key); v != nil {
			// Copy the value since it's only valid during the transaction
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

func (s *BoltStore) Count(_ context.Context, kind string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(kind))
		if bkt == nil {
			return nil
		}
		n = bkt.Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) SplitPoints(ctx context.Context, kind string, maxPoints int) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(kind))
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evenSplitPoints(keys, maxPoints), nil
}

func (s *BoltStore) Scan(ctx context.Context, kind string, start, end []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(kind))
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()

		var k, v []byte
		if start == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			if end != nil && bytes.Compare(k, end) >= 0 {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
