package output

import (
	"fmt"
	"slices"
)

// MemoryOutput keeps every written value in memory and returns them from
// Finalize, one slice per shard.
type MemoryOutput struct {
	name    string
	writers *writers[*memoryWriter]
}

func NewMemoryOutput(name string, shards int) *MemoryOutput {
	return &MemoryOutput{name: name, writers: newWriters[*memoryWriter](shards)}
}

func (o *MemoryOutput) Shards() int {
	return o.writers.shards
}

func (o *MemoryOutput) Writer(shard int) (Writer, error) {
	return o.writers.get(shard, func() (*memoryWriter, error) {
		return &memoryWriter{handle: Handle(fmt.Sprintf("memory://%s/%d", o.name, shard))}, nil
	})
}

func (o *MemoryOutput) Finalize(closed map[int]Handle) (*Result, error) {
	handles, err := DenseHandles(closed, o.Shards())
	if err != nil {
		return nil, err
	}

	values := make([][]any, len(handles))
	for i, h := range handles {
		w, err := o.writers.get(i, func() (*memoryWriter, error) {
			return nil, fmt.Errorf("no writer for shard %d", i)
		})
		if err != nil {
			return nil, err
		}
		if w.handle != h {
			return nil, fmt.Errorf("shard %d closed as %s, writer is %s", i, h, w.handle)
		}
		values[i] = w.snapshot()
	}

	return &Result{
		Type:     TypeMemory,
		Location: fmt.Sprintf("memory://%s", o.name),
		Handles:  handles,
		Values:   values,
	}, nil
}

type memoryWriter struct {
	lifecycle
	handle Handle
	values []any
}

func (w *memoryWriter) Write(value any) error {
	return w.write(func() error {
		w.values = append(w.values, value)
		return nil
	})
}

func (w *memoryWriter) Close() (Handle, error) {
	return w.close(func() (Handle, error) {
		return w.handle, nil
	})
}

func (w *memoryWriter) snapshot() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.values)
}
