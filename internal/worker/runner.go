// Package worker runs shard steps. A step reads a bounded chunk of one shard
// from its last checkpoint, applies the job's map or reduce function and
// buffers everything it produces until the caller commits it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/shared/tracing"
	"github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/datastore"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/output"
	"github.com/nemanja-m/shardmr/pkg/result"
	"github.com/nemanja-m/shardmr/pkg/shard"
)

var ErrNoFunction = errors.New("task has no function for its phase")

type Phase string

const (
	PhaseMap    Phase = "map"
	PhaseReduce Phase = "reduce"
)

// Task is everything needed to run steps of one shard.
type Task struct {
	JobID       string
	Phase       Phase
	Input       input.ShardInput
	Map         core.MapFunc
	Reduce      core.ReduceFunc
	Store       datastore.Store
	StepRecords int
	StepTimeout time.Duration
}

// Checkpoint is the last committed position of a shard. The zero value
// starts a shard from scratch.
type Checkpoint struct {
	Seq   int64       `json:"seq"`
	State shard.State `json:"state"`
}

// Step is the outcome of one RunShardStep call. Nothing in it takes effect
// until Commit.
type Step struct {
	Shard    int
	Seq      int64
	State    shard.State
	Counters counters.Counters
	Emits    []core.KeyValue
}

func (s Step) Done() bool {
	return s.State.Status == shard.StatusDone
}

func (s Step) Checkpoint() Checkpoint {
	return Checkpoint{Seq: s.Seq, State: s.State}
}

// Commit writes the buffered emits to w, closes w when the shard is done and
// returns the sparse result of the step.
func (s Step) Commit(w output.Writer) (result.WorkerResult, error) {
	res, _, err := s.CommitFrom(w, 0)
	return res, err
}

// CommitFrom is Commit for a step whose first skip emits already reached w
// in an earlier failed attempt. It also reports how many emits are in w,
// so a caller can resume from there after an error.
func (s Step) CommitFrom(w output.Writer, skip int) (result.WorkerResult, int, error) {
	written := min(max(skip, 0), len(s.Emits))
	for _, kv := range s.Emits[written:] {
		if err := w.Write(kv); err != nil {
			return result.WorkerResult{}, written, fmt.Errorf("failed to write shard %d: %w", s.Shard, err)
		}
		written++
	}
	if !s.Done() {
		return result.ForShard(s.Shard, s.State, s.Counters), written, nil
	}
	h, err := w.Close()
	if err != nil {
		return result.WorkerResult{}, written, fmt.Errorf("failed to close shard %d: %w", s.Shard, err)
	}
	return result.ForClosedShard(s.Shard, h, s.State, s.Counters), written, nil
}

type Runner struct {
	logger logging.Logger
}

func NewRunner(logger logging.Logger) *Runner {
	return &Runner{logger: logger}
}

// RunShardStep processes the next chunk of task's shard after cp. A step
// ends after StepRecords records, after StepTimeout, or at the end of the
// shard, whichever comes first. Running a step again from the same
// checkpoint yields the same step. A done checkpoint yields an empty step
// with the same sequence number.
func (r *Runner) RunShardStep(ctx context.Context, task Task, cp Checkpoint) (step Step, err error) {
	index := task.Input.Index()
	if cp.State.Status == shard.StatusDone {
		return Step{Shard: index, Seq: cp.Seq, State: cp.State, Counters: counters.New()}, nil
	}

	ctx, span := tracing.Start(ctx, "worker.RunShardStep",
		attribute.String("job_id", task.JobID),
		attribute.String("phase", string(task.Phase)),
		attribute.Int("shard", index),
		attribute.Int64("seq", cp.Seq+1),
	)
	defer func() { tracing.End(span, err) }()

	apply, err := task.function()
	if err != nil {
		return Step{}, err
	}

	reader, err := task.Input.Reader(ctx, cp.State.Progress)
	if err != nil {
		return Step{}, fmt.Errorf("failed to open shard %d: %w", index, err)
	}
	defer reader.Close()

	stepCounters := counters.New()
	mctx := &core.Context{
		Context:  ctx,
		JobID:    task.JobID,
		Shard:    index,
		Counters: &stepCounters,
		Store:    task.Store,
	}

	var deadline time.Time
	if task.StepTimeout > 0 {
		deadline = time.Now().Add(task.StepTimeout)
	}

	var (
		emits    []core.KeyValue
		consumed int64
		eof      bool
	)
	for {
		if task.StepRecords > 0 && consumed >= int64(task.StepRecords) {
			break
		}
		if consumed > 0 && !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return Step{}, err
		}

		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			return Step{}, fmt.Errorf("failed to read shard %d: %w", index, err)
		}

		out, err := apply(mctx, rec)
		if err != nil {
			return Step{}, fmt.Errorf("shard %d record %d: %w", index, cp.State.Progress+consumed, err)
		}
		emits = append(emits, out...)
		consumed++
	}

	progress := cp.State.Progress + consumed
	var state shard.State
	if eof {
		state, err = cp.State.Complete(progress)
	} else {
		state, err = cp.State.Advance(progress)
	}
	if err != nil {
		return Step{}, err
	}

	r.logger.Debug("Shard step finished",
		"job_id", task.JobID,
		"phase", task.Phase,
		"shard", index,
		"seq", cp.Seq+1,
		"records", consumed,
		"state", state.String(),
	)

	return Step{
		Shard:    index,
		Seq:      cp.Seq + 1,
		State:    state,
		Counters: stepCounters,
		Emits:    emits,
	}, nil
}

// function adapts the task's map or reduce function to a per-record call
// that also maintains the built-in counters.
func (t Task) function() (func(*core.Context, core.Record) ([]core.KeyValue, error), error) {
	switch {
	case t.Phase == PhaseMap && t.Map != nil:
		return func(ctx *core.Context, rec core.Record) ([]core.KeyValue, error) {
			out, err := t.Map(ctx, rec)
			if err != nil {
				return nil, err
			}
			ctx.Increment(counters.MapperCalls, 1)
			ctx.Increment(counters.MapperEmits, int64(len(out)))
			return out, nil
		}, nil
	case t.Phase == PhaseReduce && t.Reduce != nil:
		return func(ctx *core.Context, rec core.Record) ([]core.KeyValue, error) {
			values, ok := rec.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("reduce record for key %v has no value list", rec.Key)
			}
			out, err := t.Reduce(ctx, rec.Key, values)
			if err != nil {
				return nil, err
			}
			ctx.Increment(counters.ReducerCalls, 1)
			ctx.Increment(counters.ReducerOutputs, int64(len(out)))
			return out, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoFunction, t.Phase)
	}
}
