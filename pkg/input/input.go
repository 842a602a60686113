// Package input splits a data source into independent shards and reads the
// records of each shard from a resumable offset.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/datastore"
)

var (
	ErrInvalidShardCount = errors.New("shard count must be at least 1")
	ErrInvalidRange      = errors.New("range end precedes start")
	ErrUnknownInput      = errors.New("unknown input type")
	ErrNoInputFiles      = errors.New("no input files found")
)

const (
	TypeRange  = "range"
	TypeEntity = "entity"
	TypeFiles  = "files"
)

// Input is a data source that can be split into shards.
type Input interface {
	// Split returns the shards of the source. The number of shards may be
	// lower than requested; callers must use len of the result.
	Split(ctx context.Context) ([]ShardInput, error)
}

// ShardInput is the slice of the source handled by one shard.
type ShardInput interface {
	Index() int
	// Reader returns a reader positioned after the first offset records.
	Reader(ctx context.Context, offset int64) (Reader, error)
	String() string
}

// Reader yields records in a stable order. Next returns io.EOF once the
// shard is exhausted.
type Reader interface {
	Next() (core.Record, error)
	Close() error
}

// Config describes an input source and the number of shards requested.
type Config struct {
	Type   string   `json:"type"`
	Start  int64    `json:"start,omitempty"`
	End    int64    `json:"end,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	Paths  []string `json:"paths,omitempty"`
	Shards int      `json:"shards"`
}

// Validate returns every problem with the config.
func (c Config) Validate() []error {
	var errs []error
	if c.Shards < 1 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidShardCount, c.Shards))
	}
	switch c.Type {
	case TypeRange:
		if c.End < c.Start {
			errs = append(errs, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, c.Start, c.End))
		}
	case TypeEntity:
		if c.Kind == "" {
			errs = append(errs, errors.New("entity input requires a kind"))
		}
	case TypeFiles:
		if len(c.Paths) == 0 {
			errs = append(errs, errors.New("files input requires at least one path"))
		}
	case "":
		errs = append(errs, errors.New("input type is required"))
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownInput, c.Type))
	}
	return errs
}

// New builds the input described by cfg. store is only used by entity inputs
// and may be nil otherwise.
func New(cfg Config, store datastore.Store) (Input, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	switch cfg.Type {
	case TypeRange:
		return NewRangeInput(cfg.Start, cfg.End, cfg.Shards), nil
	case TypeEntity:
		if store == nil {
			return nil, errors.New("entity input requires a datastore")
		}
		return NewEntityInput(store, cfg.Kind, cfg.Shards), nil
	default:
		return NewFileInput(cfg.Paths, cfg.Shards), nil
	}
}

// ReadAll drains r into a slice. Meant for tests and small shards.
func ReadAll(r Reader) ([]core.Record, error) {
	var records []core.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
