package core

import (
	"context"
	"fmt"

	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/datastore"
)

// MapFunc turns one input record into zero or more key/value pairs.
type MapFunc func(ctx *Context, record Record) ([]KeyValue, error)

// ReduceFunc folds all values of one key into zero or more output pairs.
type ReduceFunc func(ctx *Context, key any, values []any) ([]KeyValue, error)

// Record is one unit of shard input.
type Record struct {
	Key   any
	Value any
}

type KeyValue struct {
	Key   any
	Value any
}

func (kv KeyValue) String() string {
	return fmt.Sprintf("%v\t%v", kv.Key, kv.Value)
}

// Context is handed to map and reduce functions for the duration of one
// shard step. Counter increments are step-local until the step is committed.
type Context struct {
	context.Context

	JobID    string
	Shard    int
	Counters *counters.Counters
	Store    datastore.Store
}

func (c *Context) Increment(name string, delta int64) {
	c.Counters.Increment(name, delta)
}
