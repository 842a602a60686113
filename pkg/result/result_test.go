package result

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/output"
	"github.com/nemanja-m/shardmr/pkg/shard"
)

func done(p int64) shard.State   { return shard.State{Status: shard.StatusDone, Progress: p} }
func active(p int64) shard.State { return shard.State{Status: shard.StatusActive, Progress: p} }

func closedShard(i int, records int64) WorkerResult {
	return ForClosedShard(i, output.Handle(fmt.Sprintf("h%d", i)), done(records),
		counters.Counters{"records": records, fmt.Sprintf("shard-%d", i): 1})
}

func TestMerge_AllOrdersConverge(t *testing.T) {
	r := []WorkerResult{closedShard(0, 4), closedShard(1, 3), closedShard(2, 3)}

	orders := [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}}
	var aggs []WorkerResult
	for _, order := range orders {
		agg := Empty()
		for _, i := range order {
			agg = Merge(agg, r[i])
		}
		aggs = append(aggs, agg)
	}

	for _, agg := range aggs {
		require.True(t, Equivalent(aggs[0], agg))
		require.Len(t, agg.ClosedWriters, 3)
		require.True(t, agg.IsComplete(3))
		require.Equal(t, int64(10), agg.Counters.Get("records"))
	}

	handles, err := aggs[0].Dense(3)
	require.NoError(t, err)
	require.Equal(t, []output.Handle{"h0", "h1", "h2"}, handles)
}

func TestMerge_StaleRetryKeepsHigherProgress(t *testing.T) {
	fresh := ForShard(0, active(5), nil)
	stale := ForShard(0, active(3), nil)

	require.Equal(t, active(5), Merge(fresh, stale).ShardStates[0])
	require.Equal(t, active(5), Merge(stale, fresh).ShardStates[0])
}

func TestMerge_DoneBeatsActive(t *testing.T) {
	a := ForShard(1, active(100), nil)
	b := ForShard(1, done(7), nil)

	require.Equal(t, done(7), Merge(a, b).ShardStates[1])
	require.Equal(t, done(7), Merge(b, a).ShardStates[1])
}

func TestMerge_Associative(t *testing.T) {
	a := Merge(ForShard(0, active(2), counters.Counters{"x": 1}), ForShard(1, active(1), nil))
	b := ForShard(0, done(4), counters.Counters{"x": 2, "y": 1})
	c := Merge(ForShard(1, active(9), counters.Counters{"y": 3}), ForShard(2, shard.State{}, nil))

	left := Merge(a, Merge(b, c))
	right := Merge(Merge(a, b), c)

	require.True(t, Equivalent(left, right))
	require.True(t, Equivalent(Merge(a, b), Merge(b, a)))
	require.True(t, Equivalent(Merge(a, Empty()), a))
}

func TestMerge_DuplicateCloseLastWriteWins(t *testing.T) {
	first := ForClosedShard(0, "old", done(1), nil)
	second := ForClosedShard(0, "new", done(1), nil)

	require.Equal(t, output.Handle("new"), Merge(first, second).ClosedWriters[0])
	require.Equal(t, []int{0}, ConflictingCloses(first, second))
	require.Empty(t, ConflictingCloses(first, first))
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	a := ForShard(0, active(1), counters.Counters{"x": 1})
	b := ForShard(1, active(1), counters.Counters{"x": 1})

	m := Merge(a, b)
	m.ShardStates[5] = done(0)
	m.Counters.Increment("x", 10)

	require.Len(t, a.ShardStates, 1)
	require.Equal(t, int64(1), a.Counters.Get("x"))
}

func TestIsComplete_MissingShardKeepsPhaseOpen(t *testing.T) {
	agg := MergeAll(closedShard(0, 1), closedShard(2, 1))
	agg.Counters.Increment("records", 1000)

	require.False(t, agg.IsComplete(3))
	require.Equal(t, 2, agg.DoneCount())

	_, err := agg.Dense(3)
	require.ErrorIs(t, err, ErrIncompleteResult)

	agg = Merge(agg, ForShard(1, active(4), nil))
	require.False(t, agg.IsComplete(3))

	agg = Merge(agg, closedShard(1, 4))
	require.True(t, agg.IsComplete(3))
}

func TestIsComplete_EmptyTrailingShards(t *testing.T) {
	agg := MergeAll(
		ForClosedShard(0, "h0", done(1), nil),
		ForClosedShard(1, "h1", done(0), nil),
	)
	require.True(t, agg.IsComplete(2))
}
