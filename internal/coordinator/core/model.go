package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/output"
)

type JobPhase string

const (
	JobPhaseNotStarted JobPhase = "NOT_STARTED"
	JobPhaseMapping    JobPhase = "MAPPING"
	JobPhaseReducing   JobPhase = "REDUCING"
	JobPhaseDone       JobPhase = "DONE"
	JobPhaseFailed     JobPhase = "FAILED"
	JobPhaseCancelled  JobPhase = "CANCELLED"
)

// Finished reports whether the phase is terminal.
func (p JobPhase) Finished() bool {
	return p == JobPhaseDone || p == JobPhaseFailed || p == JobPhaseCancelled
}

func ParseJobPhase(s string) (JobPhase, error) {
	switch p := JobPhase(s); p {
	case JobPhaseNotStarted, JobPhaseMapping, JobPhaseReducing, JobPhaseDone, JobPhaseFailed, JobPhaseCancelled:
		return p, nil
	}
	return "", fmt.Errorf("unknown job phase: %s", s)
}

// Settings control how the driver executes a job.
type Settings struct {
	Parallelism int           `json:"parallelism"`
	MaxAttempts int           `json:"max_attempts"`
	StepRecords int           `json:"step_records"`
	StepTimeout time.Duration `json:"step_timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		Parallelism: 4,
		MaxAttempts: 3,
		StepRecords: 1000,
		StepTimeout: 10 * time.Second,
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be at least 1, got %d", s.Parallelism))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", s.MaxAttempts))
	}
	if s.StepRecords < 0 {
		errs = append(errs, fmt.Errorf("step records must not be negative, got %d", s.StepRecords))
	}
	if s.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("step timeout must not be negative, got %s", s.StepTimeout))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

type Job struct {
	ID       uuid.UUID          `json:"id"`
	Spec     jobs.Specification `json:"spec"`
	Settings Settings           `json:"settings"`
	Phase    JobPhase           `json:"phase"`
	Progress JobProgress        `json:"progress"`
	Counters counters.Counters  `json:"counters"`
	Output   *output.Result     `json:"output,omitempty"`
	Failures []ShardFailure     `json:"failures,omitempty"`
	Error    string             `json:"error,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration is the run time of the job so far, or its total once completed.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt == nil {
		return time.Since(*j.StartedAt)
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Clone returns a deep copy safe to hand out while the job keeps running.
func (j *Job) Clone() *Job {
	c := *j
	c.Spec.Input.Paths = append([]string(nil), j.Spec.Input.Paths...)
	c.Counters = j.Counters.Clone()
	c.Failures = append([]ShardFailure(nil), j.Failures...)
	if j.Output != nil {
		out := *j.Output
		c.Output = &out
	}
	return &c
}

type JobProgress struct {
	Map    PhaseProgress `json:"map"`
	Reduce PhaseProgress `json:"reduce"`
}

// PhaseProgress summarizes the shard states of one phase.
type PhaseProgress struct {
	Total   int   `json:"total"`
	Pending int   `json:"pending"`
	Active  int   `json:"active"`
	Done    int   `json:"done"`
	Records int64 `json:"records"`
}

type TaskType string

const (
	TaskTypeMap    TaskType = "MAP"
	TaskTypeReduce TaskType = "REDUCE"
)

// ShardFailure identifies a shard that exhausted its attempts.
type ShardFailure struct {
	Type     TaskType `json:"type"`
	Shard    int      `json:"shard"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error"`
}

// Task is one attempt at running a shard.
type Task struct {
	JobID   uuid.UUID
	Type    TaskType
	Shard   int
	Attempt int
}

type JobFilter struct {
	Phase  *JobPhase
	Limit  int
	Offset int
}
