package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/worker"
	mr "github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/datastore"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/marshal"
	"github.com/nemanja-m/shardmr/pkg/output"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

// mockJobStore is an in-memory implementation of JobStore for testing
type mockJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*core.Job
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[uuid.UUID]*core.Job)}
}

func (s *mockJobStore) SaveJob(job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *mockJobStore) GetJobByID(id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrNoSuchJob
	}
	return job.Clone(), nil
}

func (s *mockJobStore) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*core.Job
	for _, job := range s.jobs {
		if filter.Phase != nil && job.Phase != *filter.Phase {
			continue
		}
		list = append(list, job.Clone())
	}
	return list, len(list), nil
}

func (s *mockJobStore) Close() error {
	return nil
}

var (
	flakyMu   sync.Mutex
	flakySeen = make(map[int64]bool)
	blockCh   = make(chan struct{})
)

func init() {
	_ = jobs.RegisterMapper("test-mod10", func(_ *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		return []mr.KeyValue{{Key: r.Key.(int64) % 10, Value: int64(1)}}, nil
	})
	_ = jobs.RegisterMapper("test-flaky", func(_ *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		n := r.Key.(int64)
		if n%25 == 10 {
			flakyMu.Lock()
			seen := flakySeen[n]
			flakySeen[n] = true
			flakyMu.Unlock()
			if !seen {
				return nil, errors.New("transient failure")
			}
		}
		return []mr.KeyValue{{Key: n % 10, Value: int64(1)}}, nil
	})
	_ = jobs.RegisterMapper("test-broken", func(_ *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		if r.Key.(int64) == 7 {
			return nil, errors.New("bad record")
		}
		return nil, nil
	})
	_ = jobs.RegisterMapper("test-broken-tail", func(_ *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		n := r.Key.(int64)
		if n == 15 {
			return nil, errors.New("bad record")
		}
		return []mr.KeyValue{{Key: n % 10, Value: int64(1)}}, nil
	})
	_ = jobs.RegisterMapper("test-blocking", func(ctx *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-blockCh:
			return nil, nil
		}
	})
	_ = jobs.RegisterMapper("test-entity", func(ctx *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		ctx.Increment("entities", 1)
		return []mr.KeyValue{{Key: r.Key, Value: string(r.Value.([]byte))}}, nil
	})
	_ = jobs.RegisterReducer("test-sum", func(_ *mr.Context, key any, values []any) ([]mr.KeyValue, error) {
		var total int64
		for _, v := range values {
			total += v.(int64)
		}
		return []mr.KeyValue{{Key: key, Value: total}}, nil
	})
}

func newTestManager(store datastore.Store) (*JobManager, *mockJobStore) {
	jobStore := newMockJobStore()
	logger := &mockLogger{}
	return NewJobManager(jobStore, store, NewDriver(worker.NewRunner(logger), logger), logger), jobStore
}

func rangeSpec(t *testing.T, mapper string, end int64, shards int) jobs.Specification {
	spec, err := jobs.NewSpecification("test",
		input.Config{Type: input.TypeRange, Start: 0, End: end, Shards: shards},
		mapper, "test-sum", marshal.Int64, marshal.Int64,
		output.Config{Type: output.TypeMemory, Shards: 3},
	)
	require.NoError(t, err)
	return spec
}

func testSettings() core.Settings {
	return core.Settings{Parallelism: 3, MaxAttempts: 2, StepRecords: 4}
}

func sumOutput(t *testing.T, res *output.Result) map[int64]int64 {
	t.Helper()
	sums := make(map[int64]int64)
	for _, shard := range res.Values {
		for _, v := range shard {
			kv := v.(mr.KeyValue)
			sums[kv.Key.(int64)] += kv.Value.(int64)
		}
	}
	return sums
}

func TestJobManager_MapReduce(t *testing.T) {
	m, _ := newTestManager(nil)

	id, err := m.StartJob(rangeSpec(t, "test-mod10", 100, 4), testSettings())
	require.NoError(t, err)
	m.Wait()

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseDone, job.Phase, job.Error)
	require.Equal(t, int64(100), job.Counters.Get(counters.MapperCalls))
	require.Equal(t, int64(100), job.Counters.Get(counters.MapperEmits))
	require.Equal(t, int64(10), job.Counters.Get(counters.ReducerCalls))
	require.Equal(t, core.PhaseProgress{Total: 4, Done: 4, Records: 100}, job.Progress.Map)
	require.Equal(t, 3, job.Progress.Reduce.Total)
	require.Equal(t, 3, job.Progress.Reduce.Done)

	require.NotNil(t, job.Output)
	require.Len(t, job.Output.Handles, 3)
	sums := sumOutput(t, job.Output)
	require.Len(t, sums, 10)
	for k, v := range sums {
		require.Equal(t, int64(10), v, "key %d", k)
	}
	require.Equal(t, 0, m.shuffle.Len())
}

func TestJobManager_RetriedShardsDoNotDoubleCount(t *testing.T) {
	m, _ := newTestManager(nil)

	id, err := m.StartJob(rangeSpec(t, "test-flaky", 100, 4), testSettings())
	require.NoError(t, err)
	m.Wait()

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseDone, job.Phase, job.Error)
	require.Equal(t, int64(100), job.Counters.Get(counters.MapperCalls))

	var total int64
	for _, v := range sumOutput(t, job.Output) {
		total += v
	}
	require.Equal(t, int64(100), total)
}

func TestJobManager_ShardExhaustsAttempts(t *testing.T) {
	m, store := newTestManager(nil)

	id, err := m.StartJob(rangeSpec(t, "test-broken", 20, 2), testSettings())
	require.NoError(t, err)
	m.Wait()

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseFailed, job.Phase)
	require.Nil(t, job.Output)
	require.Equal(t, []core.ShardFailure{{
		Type:     core.TaskTypeMap,
		Shard:    0,
		Attempts: 2,
		Error:    "shard 0 record 7: bad record",
	}}, job.Failures)

	saved, err := store.GetJobByID(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseFailed, saved.Phase)
}

func TestJobManager_FailedMapPhaseDropsShuffleRuns(t *testing.T) {
	m, _ := newTestManager(nil)

	settings := core.Settings{Parallelism: 1, MaxAttempts: 2, StepRecords: 100}
	id, err := m.StartJob(rangeSpec(t, "test-broken-tail", 20, 2), settings)
	require.NoError(t, err)
	m.Wait()

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseFailed, job.Phase)
	require.Equal(t, 1, job.Progress.Map.Done)
	require.Equal(t, 0, m.shuffle.Len())
}

func TestJobManager_CancelJobWithoutDriver(t *testing.T) {
	m, store := newTestManager(nil)

	stale := &core.Job{ID: uuid.New(), Phase: core.JobPhaseMapping, SubmittedAt: time.Now()}
	require.NoError(t, store.SaveJob(stale))

	err := m.CancelJob(stale.ID)
	require.ErrorIs(t, err, core.ErrJobNotRunning)
	require.NotErrorIs(t, err, core.ErrJobFinished)

	job, err := m.GetStatus(stale.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseMapping, job.Phase)
}

func TestJobManager_MapOnlyEntityJob(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Put(ctx, "Item", []byte(k), []byte("v-"+k)))
	}
	m, _ := newTestManager(store)

	spec, err := jobs.NewSpecification("entities",
		input.Config{Type: input.TypeEntity, Kind: "Item", Shards: 10},
		"test-entity", jobs.NoopReducer, marshal.String, marshal.String,
		output.Config{Type: output.TypeMemory, Shards: 1},
	)
	require.NoError(t, err)

	id, err := m.StartJob(spec, testSettings())
	require.NoError(t, err)
	m.Wait()

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseDone, job.Phase, job.Error)
	require.Equal(t, int64(5), job.Counters.Get("entities"))
	require.Equal(t, 5, job.Progress.Map.Total)
	require.Len(t, job.Output.Handles, 5)
	require.Equal(t, core.PhaseProgress{}, job.Progress.Reduce)
}

func TestJobManager_Cancel(t *testing.T) {
	m, _ := newTestManager(nil)

	id, err := m.StartJob(rangeSpec(t, "test-blocking", 10, 2), testSettings())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := m.GetStatus(id)
		return err == nil && job.Phase == core.JobPhaseMapping
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.CancelJob(id))
	m.Wait()

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseCancelled, job.Phase)
	require.Nil(t, job.Output)

	require.ErrorIs(t, m.CancelJob(id), core.ErrJobFinished)
}

func TestJobManager_StartJobRejectsInvalidInput(t *testing.T) {
	m, store := newTestManager(nil)

	_, err := m.StartJob(jobs.Specification{Name: "bad"}, testSettings())
	require.ErrorIs(t, err, jobs.ErrInvalidSpecification)

	_, err = m.StartJob(rangeSpec(t, "test-mod10", 10, 2), core.Settings{})
	require.Error(t, err)

	_, total, _ := store.GetJobs(core.JobFilter{})
	require.Equal(t, 0, total)
}

func TestJobManager_UnknownJob(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.GetStatus(uuid.New())
	require.ErrorIs(t, err, core.ErrNoSuchJob)
	require.ErrorIs(t, m.CancelJob(uuid.New()), core.ErrNoSuchJob)
}

func TestJobManager_RestoreFailsInterruptedJobs(t *testing.T) {
	m, store := newTestManager(nil)

	interrupted := &core.Job{ID: uuid.New(), Phase: core.JobPhaseReducing, SubmittedAt: time.Now()}
	finished := &core.Job{ID: uuid.New(), Phase: core.JobPhaseDone, SubmittedAt: time.Now()}
	require.NoError(t, store.SaveJob(interrupted))
	require.NoError(t, store.SaveJob(finished))

	n, err := m.Restore()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := m.GetStatus(interrupted.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseFailed, job.Phase)
	require.Equal(t, interruptedError, job.Error)
	require.NotNil(t, job.CompletedAt)

	list, total, err := m.ListJobs(core.JobFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, list, 2)
}
