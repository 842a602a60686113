package input

import (
	"context"
	"fmt"
	"io"

	"github.com/nemanja-m/shardmr/pkg/core"
)

// Range is the half-open integer interval [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len is exact for every range, including ones wider than math.MaxInt64.
func (r Range) Len() uint64 {
	return uint64(r.End) - uint64(r.Start)
}

// RangePartition splits [lo, hi) into exactly n contiguous ranges whose sizes
// differ by at most one, larger ranges first. When n exceeds the number of
// values the trailing ranges are empty.
func RangePartition(lo, hi int64, n int) ([]Range, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidShardCount, n)
	}
	if hi < lo {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, lo, hi)
	}

	// Offsets from lo fit in uint64 and wrap back into [lo, hi].
	size := uint64(hi) - uint64(lo)
	base := size / uint64(n)
	extra := size % uint64(n)

	ranges := make([]Range, n)
	start := lo
	for i := range n {
		length := base
		if uint64(i) < extra {
			length++
		}
		end := int64(uint64(start) + length)
		ranges[i] = Range{Start: start, End: end}
		start = end
	}
	return ranges, nil
}

// RangeInput yields every integer of [start, end) as a record whose key and
// value are the integer itself.
type RangeInput struct {
	start  int64
	end    int64
	shards int
}

func NewRangeInput(start, end int64, shards int) *RangeInput {
	return &RangeInput{start: start, end: end, shards: shards}
}

func (in *RangeInput) Split(_ context.Context) ([]ShardInput, error) {
	ranges, err := RangePartition(in.start, in.end, in.shards)
	if err != nil {
		return nil, err
	}
	shards := make([]ShardInput, len(ranges))
	for i, r := range ranges {
		shards[i] = &rangeShard{index: i, r: r}
	}
	return shards, nil
}

type rangeShard struct {
	index int
	r     Range
}

func (s *rangeShard) Index() int {
	return s.index
}

func (s *rangeShard) Reader(_ context.Context, offset int64) (Reader, error) {
	next := min(s.r.Start+max(offset, 0), s.r.End)
	return &rangeReader{next: next, end: s.r.End}, nil
}

func (s *rangeShard) String() string {
	return fmt.Sprintf("range[%d, %d)", s.r.Start, s.r.End)
}

type rangeReader struct {
	next int64
	end  int64
}

func (r *rangeReader) Next() (core.Record, error) {
	if r.next >= r.end {
		return core.Record{}, io.EOF
	}
	v := r.next
	r.next++
	return core.Record{Key: v, Value: v}, nil
}

func (r *rangeReader) Close() error {
	return nil
}
