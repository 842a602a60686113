package core

import "github.com/google/uuid"

// JobStore persists job snapshots. GetJobByID returns ErrNoSuchJob for an
// unknown id.
type JobStore interface {
	SaveJob(job *Job) error
	GetJobByID(id uuid.UUID) (*Job, error)
	GetJobs(filter JobFilter) ([]*Job, int, error)
	Close() error
}
