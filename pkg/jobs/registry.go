package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/output"
)

// NoopReducer names the absent reducer. Jobs using it run the map phase only
// and send map emits straight to the output.
const NoopReducer = "noop"

var (
	ErrUnknownMapper  = errors.New("mapper not found")
	ErrUnknownReducer = errors.New("reducer not found")
	ErrUnknownJob     = errors.New("job not found")
)

// Job is a named specification template. Commands use it to start a
// registered example without spelling out every field.
type Job struct {
	Mapper          string
	Reducer         string
	KeyMarshaller   string
	ValueMarshaller string
	Input           input.Config
	Output          output.Config
}

var (
	mu       sync.RWMutex
	mappers  = make(map[string]core.MapFunc)
	reducers = make(map[string]core.ReduceFunc)
	registry = make(map[string]Job)
)

func RegisterMapper(name string, fn core.MapFunc) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := mappers[name]; exists {
		return fmt.Errorf("mapper already registered: %s", name)
	}
	mappers[name] = fn
	return nil
}

func RegisterReducer(name string, fn core.ReduceFunc) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := reducers[name]; exists || name == NoopReducer {
		return fmt.Errorf("reducer already registered: %s", name)
	}
	reducers[name] = fn
	return nil
}

func Register(name string, job Job) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}
	registry[name] = job
	return nil
}

func GetMapper(name string) (core.MapFunc, error) {
	mu.RLock()
	defer mu.RUnlock()
	fn, exists := mappers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMapper, name)
	}
	return fn, nil
}

// GetReducer returns nil without error for NoopReducer.
func GetReducer(name string) (core.ReduceFunc, error) {
	if name == NoopReducer {
		return nil, nil
	}
	mu.RLock()
	defer mu.RUnlock()
	fn, exists := reducers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReducer, name)
	}
	return fn, nil
}

func Get(name string) (Job, error) {
	mu.RLock()
	defer mu.RUnlock()
	job, exists := registry[name]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return job, nil
}

func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(registry)
}

func ListMappers() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(mappers)
}

func ListReducers() []string {
	mu.RLock()
	defer mu.RUnlock()
	return append(sortedKeys(reducers), NoopReducer)
}

func sortedKeys[V any](m map[string]V) []string {
	var names []string
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
