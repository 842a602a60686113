// Package output defines per-shard writers and the sinks that finalize them.
package output

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrWriterClosed     = errors.New("writer is closed")
	ErrIncompleteOutput = errors.New("output is missing closed writers")
	ErrUnknownOutput    = errors.New("unknown output type")
	ErrInvalidShard     = errors.New("shard index out of range")
)

// Handle identifies the finalized output of one shard. Its meaning is up to
// the sink that produced it (a file path, a memory slot, ...).
type Handle string

// Writer accumulates records for one shard. Write is only legal until Close.
// Close is idempotent and always returns the same handle.
type Writer interface {
	Write(value any) error
	Close() (Handle, error)
}

// Output creates one writer per shard and turns the complete set of closed
// writers into a Result.
type Output interface {
	Shards() int
	// Writer returns the writer for a shard. Repeated calls for the same
	// shard return the same writer so a retried shard continues where the
	// previous attempt left off.
	Writer(shard int) (Writer, error)
	Finalize(closed map[int]Handle) (*Result, error)
}

// Result is what a finished job hands back to the caller.
type Result struct {
	Type     string   `json:"type"`
	Location string   `json:"location,omitempty"`
	Handles  []Handle `json:"handles"`
	Values   [][]any  `json:"values,omitempty"`
}

// Config describes an output sink.
type Config struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Shards int    `json:"shards"`
}

const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeNone   = "none"
)

// Validate returns every problem with the config.
func (c Config) Validate() []error {
	var errs []error
	switch c.Type {
	case TypeMemory, TypeNone:
	case TypeFile:
		if c.Path == "" {
			errs = append(errs, errors.New("file output requires a path"))
		}
	case "":
		errs = append(errs, errors.New("output type is required"))
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownOutput, c.Type))
	}
	if c.Shards < 1 {
		errs = append(errs, fmt.Errorf("output shards must be at least 1, got %d", c.Shards))
	}
	return errs
}

// New builds the sink described by cfg. name scopes the handles produced by
// the sink, normally the job id.
func New(cfg Config, name string) (Output, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	switch cfg.Type {
	case TypeMemory:
		return NewMemoryOutput(name, cfg.Shards), nil
	case TypeFile:
		return NewFileOutput(cfg.Path, cfg.Shards)
	default:
		return NewNoOutput(cfg.Shards), nil
	}
}

// DenseHandles returns the handles of closed in shard order, failing when any
// index in [0, shards) is missing.
func DenseHandles(closed map[int]Handle, shards int) ([]Handle, error) {
	handles := make([]Handle, shards)
	var missing []int
	for i := range shards {
		h, ok := closed[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		handles[i] = h
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: shards %v", ErrIncompleteOutput, missing)
	}
	return handles, nil
}

// lifecycle implements the OPEN -> CLOSED transition shared by all writers.
type lifecycle struct {
	mu     sync.Mutex
	closed bool
	handle Handle
}

// write runs fn while the writer is open.
func (l *lifecycle) write(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrWriterClosed
	}
	return fn()
}

// close runs finish once and remembers its handle.
func (l *lifecycle) close(finish func() (Handle, error)) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return l.handle, nil
	}
	h, err := finish()
	if err != nil {
		return "", err
	}
	l.closed = true
	l.handle = h
	return h, nil
}

// writers keeps one writer per shard, created on first use.
type writers[W Writer] struct {
	mu      sync.Mutex
	shards  int
	byShard map[int]W
}

func newWriters[W Writer](shards int) *writers[W] {
	return &writers[W]{shards: shards, byShard: make(map[int]W)}
}

func (ws *writers[W]) get(shard int, create func() (W, error)) (W, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if shard < 0 || shard >= ws.shards {
		var zero W
		return zero, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidShard, shard, ws.shards)
	}
	if w, ok := ws.byShard[shard]; ok {
		return w, nil
	}
	w, err := create()
	if err != nil {
		var zero W
		return zero, err
	}
	ws.byShard[shard] = w
	return w, nil
}
