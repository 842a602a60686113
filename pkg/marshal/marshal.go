// Package marshal converts shuffle keys and values to bytes and back.
package marshal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnsupportedValue  = errors.New("unsupported value")
	ErrUnknownMarshaller = errors.New("unknown marshaller")
	ErrMalformed         = errors.New("malformed data")
)

const (
	String = "string"
	Int64  = "int64"
	Void   = "void"
	JSON   = "json"
)

// Marshaller round-trips values of one kind. Unmarshal(Marshal(v)) must be
// equal to v for every value Marshal accepts.
type Marshaller interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]Marshaller{
		String: StringMarshaller{},
		Int64:  Int64Marshaller{},
		Void:   VoidMarshaller{},
		JSON:   JSONMarshaller{},
	}
)

func Register(name string, m Marshaller) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("marshaller already registered: %s", name)
	}
	registry[name] = m
	return nil
}

func Get(name string) (Marshaller, error) {
	mu.RLock()
	defer mu.RUnlock()
	m, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarshaller, name)
	}
	return m, nil
}

func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	var names []string
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type StringMarshaller struct{}

func (StringMarshaller) Marshal(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return append([]byte(nil), s...), nil
	default:
		return nil, fmt.Errorf("%w: string marshaller got %T", ErrUnsupportedValue, v)
	}
}

func (StringMarshaller) Unmarshal(data []byte) (any, error) {
	return string(data), nil
}

// Int64Marshaller encodes integers big-endian with the sign bit flipped so
// that byte order matches numeric order.
type Int64Marshaller struct{}

func (Int64Marshaller) Marshal(v any) ([]byte, error) {
	var n int64
	switch i := v.(type) {
	case int64:
		n = i
	case int:
		n = int64(i)
	case int32:
		n = int64(i)
	default:
		return nil, fmt.Errorf("%w: int64 marshaller got %T", ErrUnsupportedValue, v)
	}
	return binary.BigEndian.AppendUint64(nil, uint64(n)^(1<<63)), nil
}

func (Int64Marshaller) Unmarshal(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("%w: int64 needs 8 bytes, got %d", ErrMalformed, len(data))
	}
	return int64(binary.BigEndian.Uint64(data) ^ (1 << 63)), nil
}

// VoidMarshaller drops the value. Used for keys or values a job ignores.
type VoidMarshaller struct{}

func (VoidMarshaller) Marshal(any) ([]byte, error) {
	return nil, nil
}

func (VoidMarshaller) Unmarshal([]byte) (any, error) {
	return nil, nil
}

// JSONMarshaller encodes arbitrary values as JSON. Numbers come back as
// float64 and objects as map[string]any.
type JSONMarshaller struct{}

func (JSONMarshaller) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}
	return data, nil
}

func (JSONMarshaller) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return v, nil
}
