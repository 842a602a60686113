package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/shared/tracing"
	"github.com/nemanja-m/shardmr/internal/worker"
	mr "github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/datastore"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/output"
)

var ErrShardsFailed = errors.New("shards exhausted their attempts")

// ShardsFailedError lists the shards that made a phase fail.
type ShardsFailedError struct {
	Failures []core.ShardFailure
}

func (e *ShardsFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s shard %d after %d attempts: %s", f.Type, f.Shard, f.Attempts, f.Error)
	}
	return fmt.Sprintf("%s: %s", ErrShardsFailed, strings.Join(parts, "; "))
}

func (e *ShardsFailedError) Unwrap() error {
	return ErrShardsFailed
}

// PhaseRun describes one phase of a job.
type PhaseRun struct {
	JobID    string
	Type     core.TaskType
	Inputs   []input.ShardInput
	Output   output.Output
	Map      mr.MapFunc
	Reduce   mr.ReduceFunc
	Store    datastore.Store
	Settings core.Settings

	// OnCommit, when set, is called after every committed step with the
	// phase aggregate so far.
	OnCommit func(progress core.PhaseProgress, c counters.Counters)
}

// PhaseResult is the outcome of a completed phase.
type PhaseResult struct {
	Output   *output.Result
	Counters counters.Counters
	Progress core.PhaseProgress
}

// Driver runs every shard of a phase on a bounded pool, retrying failed
// shards from their last committed checkpoint.
type Driver struct {
	runner *worker.Runner
	logger logging.Logger
}

func NewDriver(runner *worker.Runner, logger logging.Logger) *Driver {
	return &Driver{runner: runner, logger: logger}
}

type outcome struct {
	task *core.Task
	err  error
}

// RunPhase returns once every shard is done, a shard has exhausted its
// attempts (*ShardsFailedError) or ctx is cancelled. No shard is dispatched
// after the first exhausted shard or after cancellation; running shards are
// waited for.
func (d *Driver) RunPhase(ctx context.Context, run PhaseRun) (res *PhaseResult, err error) {
	ctx, span := tracing.Start(ctx, "driver.RunPhase",
		attribute.String("job_id", run.JobID),
		attribute.String("phase", string(run.Type)),
		attribute.Int("shards", len(run.Inputs)),
	)
	defer func() { tracing.End(span, err) }()

	agg := NewAggregator(run.JobID, run.Type, len(run.Inputs), d.logger)

	queue := core.NewTaskPriorityQueue()
	for _, in := range run.Inputs {
		task := &core.Task{Type: run.Type, Shard: in.Index(), Attempt: 1}
		if err := queue.Push(task, core.PriorityFor(task)); err != nil {
			return nil, err
		}
	}

	parallelism := max(run.Settings.Parallelism, 1)
	outcomes := make(chan outcome, len(run.Inputs))
	pool := NewPool(parallelism)
	pool.Start()

	var (
		failures []core.ShardFailure
		inflight int
	)
	for {
		for inflight < parallelism && len(failures) == 0 && ctx.Err() == nil {
			task, err := queue.Pop()
			if errors.Is(err, core.ErrQueueEmpty) {
				break
			}
			inflight++
			pool.Submit(func() {
				outcomes <- outcome{task: task, err: d.runShard(ctx, run, agg, task)}
			})
		}
		if inflight == 0 {
			break
		}

		o := <-outcomes
		inflight--
		if o.err == nil {
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		if o.task.Attempt < run.Settings.MaxAttempts {
			d.logger.Warn("Retrying shard",
				"job_id", run.JobID,
				"phase", run.Type,
				"shard", o.task.Shard,
				"attempt", o.task.Attempt,
				"error", o.err,
			)
			retry := *o.task
			retry.Attempt++
			if err := queue.Push(&retry, core.PriorityFor(&retry)); err != nil {
				return nil, err
			}
			continue
		}

		d.logger.Error("Shard failed",
			"job_id", run.JobID,
			"phase", run.Type,
			"shard", o.task.Shard,
			"attempts", o.task.Attempt,
			"error", o.err,
		)
		failures = append(failures, core.ShardFailure{
			Type:     run.Type,
			Shard:    o.task.Shard,
			Attempts: o.task.Attempt,
			Error:    o.err.Error(),
		})
	}
	pool.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, &ShardsFailedError{Failures: failures}
	}
	if !agg.Complete() {
		return nil, fmt.Errorf("%s phase ended with %d of %d shards done", run.Type, agg.Progress().Done, len(run.Inputs))
	}

	final := agg.Result()
	out, err := run.Output.Finalize(final.ClosedWriters)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize %s output: %w", run.Type, err)
	}
	return &PhaseResult{Output: out, Counters: final.Counters, Progress: agg.Progress()}, nil
}

// runShard steps one shard from its last committed checkpoint until it is
// done. Cancellation is observed between steps and inside the runner.
func (d *Driver) runShard(ctx context.Context, run PhaseRun, agg *Aggregator, task *core.Task) error {
	in := run.Inputs[task.Shard]
	w, err := run.Output.Writer(task.Shard)
	if err != nil {
		return err
	}

	wtask := worker.Task{
		JobID:       run.JobID,
		Input:       in,
		Map:         run.Map,
		Reduce:      run.Reduce,
		Store:       run.Store,
		StepRecords: run.Settings.StepRecords,
		StepTimeout: run.Settings.StepTimeout,
	}
	if run.Type == core.TaskTypeReduce {
		wtask.Phase = worker.PhaseReduce
	} else {
		wtask.Phase = worker.PhaseMap
	}

	cp := agg.Checkpoint(task.Shard)
	for !cp.State.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := d.runner.RunShardStep(ctx, wtask, cp)
		if err != nil {
			return err
		}
		if _, err := agg.Commit(step, w); err != nil {
			return err
		}
		cp = agg.Checkpoint(task.Shard)

		if run.OnCommit != nil {
			snapshot := agg.Result()
			run.OnCommit(agg.Progress(), snapshot.Counters)
		}
	}
	return nil
}
