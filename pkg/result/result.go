// Package result implements the WorkerResult merge algebra used to fold
// per-step shard reports into a job-level aggregate.
//
// A single report is sparse: it names only the shards it touched. Folding the
// reports of a whole phase yields a dense result with one entry per shard.
package result

import (
	"errors"
	"fmt"
	"maps"

	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/output"
	"github.com/nemanja-m/shardmr/pkg/shard"
)

var ErrIncompleteResult = errors.New("result does not cover every shard")

// WorkerResult is treated as an immutable value: Merge and the helpers below
// always return fresh maps.
type WorkerResult struct {
	ClosedWriters map[int]output.Handle `json:"closed_writers"`
	ShardStates   map[int]shard.State   `json:"shard_states"`
	Counters      counters.Counters     `json:"counters"`
}

// Empty returns the identity element of Merge.
func Empty() WorkerResult {
	return WorkerResult{
		ClosedWriters: map[int]output.Handle{},
		ShardStates:   map[int]shard.State{},
		Counters:      counters.New(),
	}
}

// ForShard reports the state of one shard that has not closed its writer.
func ForShard(index int, state shard.State, c counters.Counters) WorkerResult {
	return WorkerResult{
		ClosedWriters: map[int]output.Handle{},
		ShardStates:   map[int]shard.State{index: state},
		Counters:      c.Clone(),
	}
}

// ForClosedShard reports a shard together with its closed writer.
func ForClosedShard(index int, handle output.Handle, state shard.State, c counters.Counters) WorkerResult {
	return WorkerResult{
		ClosedWriters: map[int]output.Handle{index: handle},
		ShardStates:   map[int]shard.State{index: state},
		Counters:      c.Clone(),
	}
}

// Merge combines two results. Counters add. For a shard present in both,
// the more advanced state is kept. For a writer closed in both, the one from
// b wins.
//
// Merge is commutative and associative on counters and shard states, so the
// aggregate does not depend on the order in which shards report.
func Merge(a, b WorkerResult) WorkerResult {
	out := WorkerResult{
		ClosedWriters: make(map[int]output.Handle, len(a.ClosedWriters)+len(b.ClosedWriters)),
		ShardStates:   make(map[int]shard.State, len(a.ShardStates)+len(b.ShardStates)),
		Counters:      counters.Merge(a.Counters, b.Counters),
	}

	maps.Copy(out.ClosedWriters, a.ClosedWriters)
	maps.Copy(out.ClosedWriters, b.ClosedWriters)

	maps.Copy(out.ShardStates, a.ShardStates)
	for idx, s := range b.ShardStates {
		if cur, ok := out.ShardStates[idx]; ok {
			out.ShardStates[idx] = shard.Latest(cur, s)
		} else {
			out.ShardStates[idx] = s
		}
	}

	return out
}

// MergeAll folds results left to right starting from Empty.
func MergeAll(results ...WorkerResult) WorkerResult {
	agg := Empty()
	for _, r := range results {
		agg = Merge(agg, r)
	}
	return agg
}

// ConflictingCloses returns the shard indices closed in both a and b with
// different handles.
func ConflictingCloses(a, b WorkerResult) []int {
	var out []int
	for idx, h := range b.ClosedWriters {
		if prev, ok := a.ClosedWriters[idx]; ok && prev != h {
			out = append(out, idx)
		}
	}
	return out
}

// IsComplete reports whether every shard in [0, shardCount) is done.
func (r WorkerResult) IsComplete(shardCount int) bool {
	for i := range shardCount {
		if s, ok := r.ShardStates[i]; !ok || s.Status != shard.StatusDone {
			return false
		}
	}
	return true
}

// DoneCount returns how many shards are done.
func (r WorkerResult) DoneCount() int {
	n := 0
	for _, s := range r.ShardStates {
		if s.Status == shard.StatusDone {
			n++
		}
	}
	return n
}

// Dense returns the closed writer handles in shard order once the phase is
// complete.
func (r WorkerResult) Dense(shardCount int) ([]output.Handle, error) {
	if !r.IsComplete(shardCount) {
		return nil, fmt.Errorf("%w: %d of %d shards done", ErrIncompleteResult, r.DoneCount(), shardCount)
	}
	handles, err := output.DenseHandles(r.ClosedWriters, shardCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompleteResult, err)
	}
	return handles, nil
}

// Equivalent reports whether two results hold the same counters, shard
// states, and closed writers.
func Equivalent(a, b WorkerResult) bool {
	return counters.Equal(a.Counters, b.Counters) &&
		maps.Equal(a.ShardStates, b.ShardStates) &&
		maps.Equal(a.ClosedWriters, b.ClosedWriters)
}

func (r WorkerResult) String() string {
	return fmt.Sprintf("WorkerResult(%v, %v, %v)", r.ClosedWriters, r.ShardStates, r.Counters)
}
