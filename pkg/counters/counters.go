// Package counters holds named int64 accumulators that are reported by shard
// steps and folded into a job-level aggregate.
//
// Overflow wraps around like any int64 addition and is not guarded against.
package counters

import (
	"maps"
	"slices"
)

// Built-in counter names maintained by the worker runtime.
const (
	MapperCalls    = "mapper-calls"
	MapperEmits    = "mapper-emits"
	ReducerCalls   = "reducer-calls"
	ReducerOutputs = "reducer-outputs"
)

// Counters maps a counter name to its value. The zero value is an empty set
// and is safe to read and to Increment through a pointer.
type Counters map[string]int64

// New returns an empty counter set.
func New() Counters {
	return make(Counters)
}

// Increment adds delta to the named counter, creating it at zero if absent.
func (c *Counters) Increment(name string, delta int64) {
	if *c == nil {
		*c = make(Counters)
	}
	(*c)[name] += delta
}

// Get returns the counter value, or zero when the name is absent.
func (c Counters) Get(name string) int64 {
	return c[name]
}

// Names returns the counter names in sorted order.
func (c Counters) Names() []string {
	return slices.Sorted(maps.Keys(c))
}

// Clone returns an independent copy.
func (c Counters) Clone() Counters {
	out := make(Counters, len(c))
	maps.Copy(out, c)
	return out
}

// Merge returns a new set holding, for every name in a or b, the sum of both
// values. Neither argument is modified.
func Merge(a, b Counters) Counters {
	out := make(Counters, max(len(a), len(b)))
	for name, v := range a {
		out[name] += v
	}
	for name, v := range b {
		out[name] += v
	}
	return out
}

// Equal reports whether both sets hold the same values. An absent name and a
// name with value zero are not distinguished.
func Equal(a, b Counters) bool {
	for name, v := range a {
		if b[name] != v {
			return false
		}
	}
	for name, v := range b {
		if a[name] != v {
			return false
		}
	}
	return true
}
