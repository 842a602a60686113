package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/shared/tracing"
	"github.com/nemanja-m/shardmr/internal/shuffle"
	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/datastore"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/output"
)

const interruptedError = "interrupted by coordinator restart"

type runningJob struct {
	job    *core.Job
	cancel context.CancelFunc
}

// JobManager runs jobs in the background and keeps their status. Every phase
// transition is saved to the job store.
type JobManager struct {
	jobStore  core.JobStore
	datastore datastore.Store
	shuffle   *shuffle.Store
	driver    *Driver

	mu      sync.RWMutex
	running map[uuid.UUID]*runningJob
	wg      sync.WaitGroup

	logger logging.Logger
}

var _ core.JobService = (*JobManager)(nil)

// NewJobManager creates a job manager. store backs entity inputs and is
// handed to map and reduce functions; it may be nil when no job needs it.
func NewJobManager(jobStore core.JobStore, store datastore.Store, driver *Driver, logger logging.Logger) *JobManager {
	return &JobManager{
		jobStore:  jobStore,
		datastore: store,
		shuffle:   shuffle.NewStore(),
		driver:    driver,
		running:   make(map[uuid.UUID]*runningJob),
		logger:    logger,
	}
}

func (m *JobManager) StartJob(spec jobs.Specification, settings core.Settings) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := settings.Validate(); err != nil {
		return uuid.Nil, err
	}
	fns, err := spec.Functions()
	if err != nil {
		return uuid.Nil, err
	}

	job := &core.Job{
		ID:          uuid.New(),
		Spec:        spec,
		Settings:    settings,
		Phase:       core.JobPhaseNotStarted,
		Counters:    counters.New(),
		SubmittedAt: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[job.ID] = &runningJob{job: job, cancel: cancel}
	m.mu.Unlock()

	if err := m.jobStore.SaveJob(job); err != nil {
		m.mu.Lock()
		delete(m.running, job.ID)
		m.mu.Unlock()
		cancel()
		return uuid.Nil, fmt.Errorf("failed to save job: %w", err)
	}

	m.logger.Info("Job started", "job_id", job.ID.String(), "name", spec.Name)

	m.wg.Go(func() {
		defer cancel()
		m.run(ctx, job, fns)
	})
	return job.ID, nil
}

func (m *JobManager) GetStatus(id uuid.UUID) (*core.Job, error) {
	m.mu.RLock()
	if r, ok := m.running[id]; ok {
		defer m.mu.RUnlock()
		return r.job.Clone(), nil
	}
	m.mu.RUnlock()

	job, err := m.jobStore.GetJobByID(id)
	if errors.Is(err, core.ErrNoSuchJob) {
		return nil, fmt.Errorf("%w: %s", core.ErrNoSuchJob, id)
	}
	return job, err
}

func (m *JobManager) ListJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	list, total, err := m.jobStore.GetJobs(filter)
	if err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, job := range list {
		if r, ok := m.running[job.ID]; ok {
			list[i] = r.job.Clone()
		}
	}
	return list, total, nil
}

// CancelJob stops dispatching shards of a running job. The job becomes
// CANCELLED once its running shards have stopped.
func (m *JobManager) CancelJob(id uuid.UUID) error {
	m.mu.RLock()
	r, ok := m.running[id]
	m.mu.RUnlock()
	if ok {
		m.logger.Info("Cancelling job", "job_id", id.String())
		r.cancel()
		return nil
	}

	job, err := m.GetStatus(id)
	if err != nil {
		return err
	}
	if job.Phase.Finished() {
		return fmt.Errorf("%w: %s is %s", core.ErrJobFinished, id, job.Phase)
	}
	return fmt.Errorf("%w: %s is %s", core.ErrJobNotRunning, id, job.Phase)
}

// Restore marks jobs that were running when the coordinator stopped as
// failed. Their shard checkpoints lived in memory and cannot be resumed.
func (m *JobManager) Restore() (int, error) {
	list, _, err := m.jobStore.GetJobs(core.JobFilter{})
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, job := range list {
		if job.Phase.Finished() {
			continue
		}
		m.mu.RLock()
		_, running := m.running[job.ID]
		m.mu.RUnlock()
		if running {
			continue
		}

		now := time.Now()
		job.Phase = core.JobPhaseFailed
		job.Error = interruptedError
		job.CompletedAt = &now
		if err := m.jobStore.SaveJob(job); err != nil {
			return restored, err
		}
		m.logger.Warn("Marked interrupted job as failed", "job_id", job.ID.String(), "name", job.Spec.Name)
		restored++
	}
	return restored, nil
}

// Wait blocks until every started job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels all running jobs and waits for them to stop.
func (m *JobManager) Shutdown() {
	m.mu.RLock()
	for _, r := range m.running {
		r.cancel()
	}
	m.mu.RUnlock()
	m.wg.Wait()
}

func (m *JobManager) run(ctx context.Context, job *core.Job, fns jobs.Functions) {
	ctx, span := tracing.Start(ctx, "job.run",
		attribute.String("job_id", job.ID.String()),
		attribute.String("name", job.Spec.Name),
	)
	out, err := m.execute(ctx, job, fns)
	tracing.End(span, err)
	m.finish(job, out, err)
}

func (m *JobManager) execute(ctx context.Context, job *core.Job, fns jobs.Functions) (*output.Result, error) {
	spec := job.Spec
	id := job.ID.String()

	if err := m.transition(job, core.JobPhaseMapping); err != nil {
		return nil, err
	}

	in, err := input.New(spec.Input, m.datastore)
	if err != nil {
		return nil, err
	}
	shards, err := in.Split(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to split input: %w", err)
	}
	m.logger.Info("Input split", "job_id", id, "requested", spec.Input.Shards, "shards", len(shards))

	var mapOut output.Output
	if spec.MapOnly() {
		cfg := spec.Output
		cfg.Shards = len(shards)
		if mapOut, err = output.New(cfg, id); err != nil {
			return nil, err
		}
	} else {
		shuffled := shuffle.NewOutput(m.shuffle, id, len(shards), spec.Output.Shards, fns.Keys, fns.Values)
		defer shuffled.Discard()
		mapOut = shuffled
	}

	mapped, err := m.driver.RunPhase(ctx, PhaseRun{
		JobID:    id,
		Type:     core.TaskTypeMap,
		Inputs:   shards,
		Output:   mapOut,
		Map:      fns.Map,
		Store:    m.datastore,
		Settings: job.Settings,
		OnCommit: m.progressUpdater(job, core.TaskTypeMap, nil),
	})
	if err != nil {
		return nil, err
	}
	m.update(job, func(j *core.Job) {
		j.Progress.Map = mapped.Progress
		j.Counters = mapped.Counters.Clone()
	})

	if spec.MapOnly() {
		return mapped.Output, nil
	}
	if err := m.transition(job, core.JobPhaseReducing); err != nil {
		return nil, err
	}

	reduceInputs, err := shuffle.Inputs(m.shuffle, mapped.Output.Handles, spec.Output.Shards, fns.Keys, fns.Values)
	if err != nil {
		return nil, err
	}
	reduceOut, err := output.New(spec.Output, id)
	if err != nil {
		return nil, err
	}

	reduced, err := m.driver.RunPhase(ctx, PhaseRun{
		JobID:    id,
		Type:     core.TaskTypeReduce,
		Inputs:   reduceInputs,
		Output:   reduceOut,
		Reduce:   fns.Reduce,
		Store:    m.datastore,
		Settings: job.Settings,
		OnCommit: m.progressUpdater(job, core.TaskTypeReduce, mapped.Counters),
	})
	if err != nil {
		return nil, err
	}
	m.update(job, func(j *core.Job) {
		j.Progress.Reduce = reduced.Progress
		j.Counters = counters.Merge(mapped.Counters, reduced.Counters)
	})
	return reduced.Output, nil
}

// progressUpdater publishes phase progress and counters on top of the
// counters of earlier phases.
func (m *JobManager) progressUpdater(job *core.Job, phase core.TaskType, base counters.Counters) func(core.PhaseProgress, counters.Counters) {
	return func(p core.PhaseProgress, c counters.Counters) {
		m.update(job, func(j *core.Job) {
			if phase == core.TaskTypeMap {
				j.Progress.Map = p
			} else {
				j.Progress.Reduce = p
			}
			j.Counters = counters.Merge(base, c)
		})
	}
}

func (m *JobManager) update(job *core.Job, fn func(j *core.Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(job)
}

func (m *JobManager) transition(job *core.Job, phase core.JobPhase) error {
	m.mu.Lock()
	job.Phase = phase
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	snapshot := job.Clone()
	m.mu.Unlock()

	m.logger.Info("Job phase changed", "job_id", job.ID.String(), "phase", phase)
	return m.jobStore.SaveJob(snapshot)
}

func (m *JobManager) finish(job *core.Job, out *output.Result, err error) {
	m.mu.Lock()
	now := time.Now()
	job.CompletedAt = &now

	var failed *ShardsFailedError
	switch {
	case err == nil:
		job.Phase = core.JobPhaseDone
		job.Output = out
	case errors.Is(err, context.Canceled):
		job.Phase = core.JobPhaseCancelled
	case errors.As(err, &failed):
		job.Phase = core.JobPhaseFailed
		job.Failures = failed.Failures
		job.Error = err.Error()
	default:
		job.Phase = core.JobPhaseFailed
		job.Error = err.Error()
	}
	snapshot := job.Clone()
	m.mu.Unlock()

	if saveErr := m.jobStore.SaveJob(snapshot); saveErr != nil {
		m.logger.Error("Failed to save job", "job_id", job.ID.String(), "error", saveErr)
	}

	m.mu.Lock()
	delete(m.running, job.ID)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Job finished", "job_id", job.ID.String(), "phase", snapshot.Phase, "error", err)
		return
	}
	m.logger.Info("Job finished",
		"job_id", job.ID.String(),
		"phase", snapshot.Phase,
		"duration", snapshot.Duration(),
	)
}
