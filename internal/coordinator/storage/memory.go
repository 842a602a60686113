package storage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
)

type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*core.Job
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[uuid.UUID]*core.Job)}
}

func (s *InMemoryJobStore) SaveJob(job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *InMemoryJobStore) GetJobByID(id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrNoSuchJob
	}
	return job.Clone(), nil
}

func (s *InMemoryJobStore) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*core.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, job.Clone())
	}
	page, total := applyFilter(all, filter)
	return page, total, nil
}

func (s *InMemoryJobStore) Close() error {
	return nil
}
