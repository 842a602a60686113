// Package shuffle moves map emits to reduce shards. Map writers partition
// marshalled pairs by key hash; once every map shard is closed the partitions
// are sorted and grouped into one reduce input per partition.
package shuffle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/marshal"
	"github.com/nemanja-m/shardmr/pkg/output"
)

var (
	ErrNotKeyValue   = errors.New("shuffle writer accepts only key/value pairs")
	ErrUnknownHandle = errors.New("unknown shuffle handle")
)

const OutputType = "shuffle"

// Pair is a marshalled key/value.
type Pair struct {
	Key   []byte
	Value []byte
}

// Store holds the partitioned runs of closed map writers by handle.
type Store struct {
	mu   sync.RWMutex
	runs map[output.Handle][][]Pair
}

func NewStore() *Store {
	return &Store{runs: make(map[output.Handle][][]Pair)}
}

func (s *Store) put(h output.Handle, runs [][]Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[h] = runs
}

func (s *Store) get(h output.Handle) ([][]Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs, ok := s.runs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return runs, nil
}

// Delete drops the runs of the given handles.
func (s *Store) Delete(handles ...output.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range handles {
		delete(s.runs, h)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Output is the map-phase sink. It has one writer per map shard and each
// writer splits its pairs into partitions runs.
type Output struct {
	store      *Store
	name       string
	mapShards  int
	partitions int
	keys       marshal.Marshaller
	values     marshal.Marshaller

	mu      sync.Mutex
	writers map[int]*Writer
}

func NewOutput(store *Store, name string, mapShards, partitions int, keys, values marshal.Marshaller) *Output {
	return &Output{
		store:      store,
		name:       name,
		mapShards:  mapShards,
		partitions: partitions,
		keys:       keys,
		values:     values,
		writers:    make(map[int]*Writer),
	}
}

func (o *Output) Shards() int {
	return o.mapShards
}

func (o *Output) Writer(shard int) (output.Writer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if shard < 0 || shard >= o.mapShards {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", output.ErrInvalidShard, shard, o.mapShards)
	}
	if w, ok := o.writers[shard]; ok {
		return w, nil
	}
	w := &Writer{
		handle: output.Handle(fmt.Sprintf("%s://%s/map-%d", OutputType, o.name, shard)),
		runs:   make([][]Pair, o.partitions),
		out:    o,
	}
	o.writers[shard] = w
	return w, nil
}

func (o *Output) Finalize(closed map[int]output.Handle) (*output.Result, error) {
	handles, err := output.DenseHandles(closed, o.mapShards)
	if err != nil {
		return nil, err
	}
	return &output.Result{Type: OutputType, Handles: handles}, nil
}

// Discard drops the runs of every writer closed so far. A job calls it once
// the map output is no longer needed, whether or not the map phase finished.
func (o *Output) Discard() {
	o.mu.Lock()
	handles := make([]output.Handle, 0, len(o.writers))
	for _, w := range o.writers {
		w.mu.Lock()
		if w.closed {
			handles = append(handles, w.handle)
		}
		w.mu.Unlock()
	}
	o.mu.Unlock()
	o.store.Delete(handles...)
}

// Writer partitions the pairs of one map shard.
type Writer struct {
	mu     sync.Mutex
	closed bool
	handle output.Handle
	runs   [][]Pair
	out    *Output
}

func (w *Writer) Write(v any) error {
	kv, ok := v.(core.KeyValue)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrNotKeyValue, v)
	}
	key, err := w.out.keys.Marshal(kv.Key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	value, err := w.out.values.Marshal(kv.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return output.ErrWriterClosed
	}
	p := core.Partition(key, w.out.partitions)
	w.runs[p] = append(w.runs[p], Pair{Key: key, Value: value})
	return nil
}

func (w *Writer) Close() (output.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.out.store.put(w.handle, w.runs)
		w.closed = true
		w.runs = nil
	}
	return w.handle, nil
}

// Inputs builds one reduce shard input per partition from the dense handles
// of the map phase. Each reduce record is a key with all of its values.
func Inputs(store *Store, handles []output.Handle, partitions int, keys, values marshal.Marshaller) ([]input.ShardInput, error) {
	merged := make([][]Pair, partitions)
	for _, h := range handles {
		runs, err := store.get(h)
		if err != nil {
			return nil, err
		}
		if len(runs) != partitions {
			return nil, fmt.Errorf("handle %s has %d partitions, want %d", h, len(runs), partitions)
		}
		for p, run := range runs {
			merged[p] = append(merged[p], run...)
		}
	}

	shards := make([]input.ShardInput, partitions)
	for p, pairs := range merged {
		slices.SortStableFunc(pairs, func(a, b Pair) int {
			return bytes.Compare(a.Key, b.Key)
		})
		shards[p] = &reduceShard{index: p, groups: group(pairs), keys: keys, values: values}
	}
	return shards, nil
}

type keyGroup struct {
	key    []byte
	values [][]byte
}

func group(sorted []Pair) []keyGroup {
	var groups []keyGroup
	for _, p := range sorted {
		if n := len(groups); n > 0 && bytes.Equal(groups[n-1].key, p.Key) {
			groups[n-1].values = append(groups[n-1].values, p.Value)
			continue
		}
		groups = append(groups, keyGroup{key: p.Key, values: [][]byte{p.Value}})
	}
	return groups
}

type reduceShard struct {
	index  int
	groups []keyGroup
	keys   marshal.Marshaller
	values marshal.Marshaller
}

func (s *reduceShard) Index() int {
	return s.index
}

func (s *reduceShard) Reader(_ context.Context, offset int64) (input.Reader, error) {
	pos := min(max(offset, 0), int64(len(s.groups)))
	return &groupReader{shard: s, pos: int(pos)}, nil
}

func (s *reduceShard) String() string {
	return fmt.Sprintf("%s[%d keys]", OutputType, len(s.groups))
}

type groupReader struct {
	shard *reduceShard
	pos   int
}

func (r *groupReader) Next() (core.Record, error) {
	if r.pos >= len(r.shard.groups) {
		return core.Record{}, io.EOF
	}
	g := r.shard.groups[r.pos]
	r.pos++

	key, err := r.shard.keys.Unmarshal(g.key)
	if err != nil {
		return core.Record{}, fmt.Errorf("failed to unmarshal key: %w", err)
	}
	values := make([]any, len(g.values))
	for i, data := range g.values {
		if values[i], err = r.shard.values.Unmarshal(data); err != nil {
			return core.Record{}, fmt.Errorf("failed to unmarshal value: %w", err)
		}
	}
	return core.Record{Key: key, Value: values}, nil
}

func (r *groupReader) Close() error {
	return nil
}
