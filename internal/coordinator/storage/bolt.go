package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
)

var jobsBucket = []byte("jobs")

// BoltJobStore keeps JSON encoded job snapshots in a bbolt database so jobs
// survive a coordinator restart.
type BoltJobStore struct {
	db *bolt.DB
}

func NewBoltJobStore(path string) (*BoltJobStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs bucket: %w", err)
	}
	return &BoltJobStore{db: db}, nil
}

func (s *BoltJobStore) SaveJob(job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(job.ID.String()), data)
	})
}

func (s *BoltJobStore) GetJobByID(id uuid.UUID) (*core.Job, error) {
	var job *core.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(id.String()))
		if data == nil {
			return core.ErrNoSuchJob
		}
		job = &core.Job{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *BoltJobStore) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	var all []*core.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			job := &core.Job{}
			if err := json.Unmarshal(v, job); err != nil {
				return fmt.Errorf("failed to unmarshal job %s: %w", k, err)
			}
			all = append(all, job)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	page, total := applyFilter(all, filter)
	return page, total, nil
}

func (s *BoltJobStore) Close() error {
	return s.db.Close()
}
