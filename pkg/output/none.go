package output

import "fmt"

// NoOutput discards every value. It is used by jobs run for their side effects.
type NoOutput struct {
	writers *writers[*noWriter]
}

func NewNoOutput(shards int) *NoOutput {
	return &NoOutput{writers: newWriters[*noWriter](shards)}
}

func (o *NoOutput) Shards() int {
	return o.writers.shards
}

func (o *NoOutput) Writer(shard int) (Writer, error) {
	return o.writers.get(shard, func() (*noWriter, error) {
		return &noWriter{handle: Handle(fmt.Sprintf("none://%d", shard))}, nil
	})
}

func (o *NoOutput) Finalize(closed map[int]Handle) (*Result, error) {
	handles, err := DenseHandles(closed, o.Shards())
	if err != nil {
		return nil, err
	}
	return &Result{Type: TypeNone, Handles: handles}, nil
}

type noWriter struct {
	lifecycle
	handle Handle
}

func (w *noWriter) Write(any) error {
	return w.write(func() error { return nil })
}

func (w *noWriter) Close() (Handle, error) {
	return w.close(func() (Handle, error) { return w.handle, nil })
}
