package service

import (
	"sync"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/worker"
	"github.com/nemanja-m/shardmr/pkg/output"
	"github.com/nemanja-m/shardmr/pkg/result"
	"github.com/nemanja-m/shardmr/pkg/shard"
)

// Aggregator owns the aggregate result of one job phase. Steps are committed
// one at a time and each shard's steps are applied in sequence order; a
// report that is not newer than the shard's last committed step is dropped.
// When flushing a step fails partway, the emits that reached the writer are
// remembered so a retry of the same step does not write them twice.
type Aggregator struct {
	mu        sync.Mutex
	jobID     string
	phase     core.TaskType
	shards    int
	agg       result.WorkerResult
	committed map[int]worker.Checkpoint
	partial   map[int]partialFlush
	logger    logging.Logger
}

// partialFlush counts the emits of step seq already in a shard's writer.
type partialFlush struct {
	seq     int64
	written int
}

func NewAggregator(jobID string, phase core.TaskType, shards int, logger logging.Logger) *Aggregator {
	return &Aggregator{
		jobID:     jobID,
		phase:     phase,
		shards:    shards,
		agg:       result.Empty(),
		committed: make(map[int]worker.Checkpoint),
		partial:   make(map[int]partialFlush),
		logger:    logger,
	}
}

// Commit flushes step into w and merges its result. It reports false when
// the step was already committed.
func (a *Aggregator) Commit(step worker.Step, w output.Writer) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	last := a.committed[step.Shard]
	if step.Seq <= last.Seq {
		a.logger.Debug("Dropping stale shard report",
			"job_id", a.jobID,
			"phase", a.phase,
			"shard", step.Shard,
			"seq", step.Seq,
			"committed_seq", last.Seq,
		)
		return false, nil
	}

	skip := 0
	if p, ok := a.partial[step.Shard]; ok && p.seq == step.Seq {
		skip = p.written
	}
	res, written, err := step.CommitFrom(w, skip)
	if err != nil {
		a.partial[step.Shard] = partialFlush{seq: step.Seq, written: written}
		return false, err
	}
	delete(a.partial, step.Shard)
	for _, idx := range result.ConflictingCloses(a.agg, res) {
		a.logger.Warn("Duplicate shard close",
			"job_id", a.jobID,
			"phase", a.phase,
			"shard", idx,
			"previous", a.agg.ClosedWriters[idx],
			"current", res.ClosedWriters[idx],
		)
	}

	a.agg = result.Merge(a.agg, res)
	a.committed[step.Shard] = step.Checkpoint()
	return true, nil
}

// Checkpoint is where the next attempt of a shard resumes.
func (a *Aggregator) Checkpoint(idx int) worker.Checkpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed[idx]
}

// Result returns a copy of the aggregate.
func (a *Aggregator) Result() result.WorkerResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return result.Merge(result.Empty(), a.agg)
}

func (a *Aggregator) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agg.IsComplete(a.shards)
}

func (a *Aggregator) Progress() core.PhaseProgress {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := core.PhaseProgress{Total: a.shards}
	for idx, st := range a.agg.ShardStates {
		if idx < 0 || idx >= a.shards {
			continue
		}
		switch st.Status {
		case shard.StatusDone:
			p.Done++
		case shard.StatusActive:
			p.Active++
		}
		p.Records += st.Progress
	}
	p.Pending = p.Total - p.Done - p.Active
	return p
}
