// Package datastore is an ordered key/value record store grouped by kind.
// Jobs read entities from it through an entity input and example jobs write
// to it.
package datastore

import (
	"context"
	"errors"
)

var ErrKindNotFound = errors.New("kind not found")

// Store keeps records of each kind ordered by key.
type Store interface {
	Put(ctx context.Context, kind string, key, value []byte) error
	Get(ctx context.Context, kind string, key []byte) ([]byte, error)
	Count(ctx context.Context, kind string) (int, error)

	// SplitPoints returns at most maxPoints keys that divide the kind into
	// contiguous non-empty ranges. Fewer points are returned when the kind
	// holds too few records.
	SplitPoints(ctx context.Context, kind string, maxPoints int) ([][]byte, error)

	// Scan calls fn for every record with start <= key < end in key order.
	// A nil start or end leaves that side unbounded.
	Scan(ctx context.Context, kind string, start, end []byte, fn func(key, value []byte) error) error

	Close() error
}

// evenSplitPoints picks split points from sorted keys so that every range
// holds at least one key and range sizes differ by at most one.
func evenSplitPoints(keys [][]byte, maxPoints int) [][]byte {
	if maxPoints < 1 || len(keys) < 2 {
		return nil
	}
	ranges := min(maxPoints+1, len(keys))
	points := make([][]byte, 0, ranges-1)
	for i := 1; i < ranges; i++ {
		k := keys[i*len(keys)/ranges]
		points = append(points, append([]byte(nil), k...))
	}
	return points
}
