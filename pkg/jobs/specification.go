package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/marshal"
	"github.com/nemanja-m/shardmr/pkg/output"
)

var ErrInvalidSpecification = errors.New("invalid job specification")

// SpecificationError lists every problem found while assembling a
// specification. errors.Is matches ErrInvalidSpecification as well as each
// individual problem.
type SpecificationError struct {
	Problems []error
}

func (e *SpecificationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidSpecification, strings.Join(msgs, "; "))
}

func (e *SpecificationError) Unwrap() []error {
	return append([]error{ErrInvalidSpecification}, e.Problems...)
}

// Specification binds everything a job needs. Build it with NewSpecification
// and treat it as a value.
type Specification struct {
	Name            string        `json:"name"`
	Input           input.Config  `json:"input"`
	Mapper          string        `json:"mapper"`
	Reducer         string        `json:"reducer"`
	KeyMarshaller   string        `json:"key_marshaller"`
	ValueMarshaller string        `json:"value_marshaller"`
	Output          output.Config `json:"output"`
}

// NewSpecification validates and assembles a specification. The returned
// error is a *SpecificationError naming every problem.
func NewSpecification(name string, in input.Config, mapper, reducer, keyMarshaller, valueMarshaller string, out output.Config) (Specification, error) {
	spec := Specification{
		Name:            name,
		Input:           in,
		Mapper:          mapper,
		Reducer:         reducer,
		KeyMarshaller:   keyMarshaller,
		ValueMarshaller: valueMarshaller,
		Output:          out,
	}
	spec.Input.Paths = append([]string(nil), in.Paths...)
	if err := spec.Validate(); err != nil {
		return Specification{}, err
	}
	return spec, nil
}

// FromJob fills a specification from a registered template.
func FromJob(name string, job Job) (Specification, error) {
	return NewSpecification(name, job.Input, job.Mapper, job.Reducer, job.KeyMarshaller, job.ValueMarshaller, job.Output)
}

func (s Specification) Validate() error {
	var problems []error
	if s.Name == "" {
		problems = append(problems, errors.New("name is required"))
	}
	problems = append(problems, s.Input.Validate()...)

	if s.Mapper == "" {
		problems = append(problems, errors.New("mapper is required"))
	} else if _, err := GetMapper(s.Mapper); err != nil {
		problems = append(problems, err)
	}
	if s.Reducer == "" {
		problems = append(problems, errors.New("reducer is required"))
	} else if _, err := GetReducer(s.Reducer); err != nil {
		problems = append(problems, err)
	}

	for _, m := range []struct{ field, name string }{
		{"key marshaller", s.KeyMarshaller},
		{"value marshaller", s.ValueMarshaller},
	} {
		if m.name == "" {
			problems = append(problems, fmt.Errorf("%s is required", m.field))
		} else if _, err := marshal.Get(m.name); err != nil {
			problems = append(problems, err)
		}
	}

	problems = append(problems, s.Output.Validate()...)

	if len(problems) > 0 {
		return &SpecificationError{Problems: problems}
	}
	return nil
}

func (s Specification) MapOnly() bool {
	return s.Reducer == NoopReducer
}

// Functions are the resolved callables of a specification.
type Functions struct {
	Map    core.MapFunc
	Reduce core.ReduceFunc
	Keys   marshal.Marshaller
	Values marshal.Marshaller
}

// Functions resolves the names in s against the registries.
func (s Specification) Functions() (Functions, error) {
	var (
		fns  Functions
		errs []error
		err  error
	)
	if fns.Map, err = GetMapper(s.Mapper); err != nil {
		errs = append(errs, err)
	}
	if fns.Reduce, err = GetReducer(s.Reducer); err != nil {
		errs = append(errs, err)
	}
	if fns.Keys, err = marshal.Get(s.KeyMarshaller); err != nil {
		errs = append(errs, err)
	}
	if fns.Values, err = marshal.Get(s.ValueMarshaller); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Functions{}, &SpecificationError{Problems: errs}
	}
	return fns, nil
}
