package core

import (
	"errors"

	"github.com/google/uuid"

	"github.com/nemanja-m/shardmr/pkg/jobs"
)

var (
	ErrNoSuchJob   = errors.New("no such job")
	ErrJobFinished = errors.New("job already finished")

	// ErrJobNotRunning is returned when cancelling a stored job that no
	// longer has a driver, such as one left over from a previous process.
	ErrJobNotRunning = errors.New("job is not running")

	ErrInvalidSettings = errors.New("invalid settings")
)

// JobService starts jobs and reports on them.
type JobService interface {
	// StartJob validates the job and returns its id without waiting for it
	// to run.
	StartJob(spec jobs.Specification, settings Settings) (uuid.UUID, error)
	GetStatus(id uuid.UUID) (*Job, error)
	ListJobs(filter JobFilter) ([]*Job, int, error)
	CancelJob(id uuid.UUID) error
}
