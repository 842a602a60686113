package input

import (
	"context"
	"fmt"
	"io"

	"github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/datastore"
)

// EntityInput reads every record of one datastore kind, split into key ranges
// along split points chosen by the store.
type EntityInput struct {
	store  datastore.Store
	kind   string
	shards int
}

func NewEntityInput(store datastore.Store, kind string, shards int) *EntityInput {
	return &EntityInput{store: store, kind: kind, shards: shards}
}

// Split asks the store for up to shards-1 split points. A kind with fewer
// records than requested shards yields one shard per record, and an empty
// kind yields a single empty shard.
func (in *EntityInput) Split(ctx context.Context) ([]ShardInput, error) {
	if in.shards < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidShardCount, in.shards)
	}
	count, err := in.store.Count(ctx, in.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to count kind %s: %w", in.kind, err)
	}
	points, err := in.store.SplitPoints(ctx, in.kind, min(in.shards, max(count, 1))-1)
	if err != nil {
		return nil, fmt.Errorf("failed to split kind %s: %w", in.kind, err)
	}

	shards := make([]ShardInput, 0, len(points)+1)
	var start []byte
	for i := 0; i <= len(points); i++ {
		var end []byte
		if i < len(points) {
			end = points[i]
		}
		shards = append(shards, &entityShard{
			index: i,
			store: in.store,
			kind:  in.kind,
			start: start,
			end:   end,
		})
		start = end
	}
	return shards, nil
}

type entityShard struct {
	index int
	store datastore.Store
	kind  string
	start []byte
	end   []byte
}

func (s *entityShard) Index() int {
	return s.index
}

// Reader loads the shard's key range and skips the first offset records.
// Ranges are bounded by the split points so a shard is expected to fit in
// memory.
func (s *entityShard) Reader(ctx context.Context, offset int64) (Reader, error) {
	var records []core.Record
	var seen int64
	err := s.store.Scan(ctx, s.kind, s.start, s.end, func(key, value []byte) error {
		seen++
		if seen <= offset {
			return nil
		}
		records = append(records, core.Record{
			Key:   string(key),
			Value: append([]byte(nil), value...),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s, err)
	}
	return &sliceReader{records: records}, nil
}

func (s *entityShard) String() string {
	return fmt.Sprintf("%s[%q, %q)", s.kind, s.start, s.end)
}

// sliceReader yields preloaded records.
type sliceReader struct {
	records []core.Record
	pos     int
}

func (r *sliceReader) Next() (core.Record, error) {
	if r.pos >= len(r.records) {
		return core.Record{}, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *sliceReader) Close() error {
	return nil
}
